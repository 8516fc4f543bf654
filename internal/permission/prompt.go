package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// PromptRequester asks for each permission on a terminal.
// Only "y" or "yes" grants; anything else, including EOF, denies.
type PromptRequester struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

// NewPromptRequester creates a requester reading answers from in and writing prompts to out.
func NewPromptRequester(in io.Reader, out io.Writer) *PromptRequester {
	return &PromptRequester{In: in, Out: out}
}

// RequestMultiple implements Requester.
func (p *PromptRequester) RequestMultiple(ctx context.Context, perms []Permission) (map[Permission]Result, error) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}

	out := make(map[Permission]Result, len(perms))
	for _, perm := range perms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := fmt.Fprintf(p.Out, "Allow %s? [y/N] ", shortName(perm)); err != nil {
			return nil, fmt.Errorf("write prompt: %w", err)
		}

		out[perm] = Denied
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read answer: %w", err)
			}
			continue
		}
		switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
		case "y", "yes":
			out[perm] = Granted
		}
	}
	return out, nil
}

func shortName(p Permission) string {
	s := string(p)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}
