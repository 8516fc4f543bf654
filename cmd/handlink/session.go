package main

import (
	"fmt"
	"io"

	"github.com/srg/handlink/internal/devicefactory"
	"github.com/srg/handlink/internal/locator"
	"github.com/srg/handlink/internal/permission"
	"github.com/srg/handlink/internal/session"
	"github.com/srg/handlink/pkg/config"
)

// newGate builds the permission gate for the configured platform. Answers come
// from the grant policy; prompt asks on the terminal.
func (c *cli) newGate(in io.Reader, out io.Writer) permission.Gate {
	var requester permission.Requester
	switch c.cfg.Permission.Grant {
	case config.GrantPrompt:
		requester = permission.NewPromptRequester(in, out)
	case config.GrantNone:
		requester = permission.StaticRequester{}
	default:
		requester = permission.GrantAll()
	}
	return permission.NewPlatformGate(c.cfg.Platform(), c.cfg.Permission.APILevel, requester, c.logger)
}

// newManager wires radio, locator and gate into a session manager.
func (c *cli) newManager(in io.Reader, out io.Writer) (*session.Manager, error) {
	radio, err := devicefactory.NewRadio(c.cfg.Backend, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create radio: %w", err)
	}

	loc := locator.New(radio, c.cfg.LocatorConfig(), c.logger)
	if prober := devicefactory.ProberFactory(c.cfg.AdapterPath, c.logger); prober != nil {
		loc.WithStateProber(prober)
	}

	return session.New(c.newGate(in, out), loc, c.cfg.SessionConfig(), c.logger), nil
}
