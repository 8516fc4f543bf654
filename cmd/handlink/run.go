package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/handlink/internal/codec"
	"github.com/srg/handlink/internal/control"
	"github.com/srg/handlink/internal/session"
)

const runHelp = `Commands:
  up, down        move the manual target one step
  toggle          switch between manual and automatic mode
  r, reconnect    drop the link and connect again
  s, status       show the connection status and latest telemetry
  h, history      print telemetry received since the last history call
  q, quit         disconnect and exit
`

func newRunCmd(c *cli) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the hand and control it interactively",
		Long: `Connects to the hand and reads commands from standard input.

` + runHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, follow)
		},
	}
	cmd.Flags().BoolVar(&follow, "follow", false, "Print every telemetry record as it arrives")
	return cmd
}

// console renders session output. All writes go through one syncWriter.
type console struct {
	out    io.Writer
	ok     *color.Color
	warn   *color.Color
	fail   *color.Color
	faint  *color.Color
	follow bool
}

func newConsole(out io.Writer, follow bool) *console {
	if !isTerminal(out) {
		color.NoColor = true
	}
	return &console{
		out:    &syncWriter{w: out},
		ok:     color.New(color.FgGreen, color.Bold),
		warn:   color.New(color.FgYellow),
		fail:   color.New(color.FgRed),
		faint:  color.New(color.Faint),
		follow: follow,
	}
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Status prints the status line for st.
func (c *console) Status(st session.Status) {
	switch st.State {
	case session.Ready:
		c.printf("%s\n", c.ok.Sprint(st.Text()))
	case session.Failed:
		reason := ""
		if st.Reason != nil {
			reason = ": " + FormatUserError(st.Reason)
		}
		c.printf("%s%s\n", c.fail.Sprint(st.Text()), c.faint.Sprint(reason))
	case session.Idle:
		c.printf("%s\n", st.Text())
	default:
		c.printf("%s %s\n", c.warn.Sprint(st.Text()), c.faint.Sprintf("[%s]", st.State))
	}
}

// SetTarget implements control.Needle.
func (c *console) SetTarget(angle int) {
	c.printf("target %d°\n", angle)
}

func (c *console) Telemetry(t codec.Telemetry) {
	c.printf("roll %7.2f  pitch %7.2f  yaw %7.2f\n", t.Roll, t.Pitch, t.Yaw)
}

func (c *console) Result(action string, r control.Result) {
	if r == control.Applied {
		c.printf("%s: %s\n", action, r)
		return
	}
	c.printf("%s: %s\n", action, c.warn.Sprint(r.String()))
}

func (c *cli) run(cmd *cobra.Command, follow bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(cmd.OutOrStdout(), follow)
	lines := readLines(ctx, cmd.InOrStdin())

	mgr, err := c.newManager(&lineReader{ctx: ctx, lines: lines}, con.out)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			c.logger.WithField("error", err).Warn("Disconnect failed")
		}
	}()

	history, err := newTelemetryHistory(c.cfg.Buffers.History)
	if err != nil {
		return err
	}
	if err := mgr.OnTelemetry(func(t codec.Telemetry) {
		if err := history.Record(t); err != nil {
			c.logger.WithField("error", err).Warn("Telemetry not recorded")
		}
		if con.follow {
			con.Telemetry(t)
		}
	}); err != nil {
		return err
	}

	panel := control.New(mgr, c.cfg.ControlConfig(), c.logger).WithNeedle(con)

	resets := make(chan struct{}, 1)
	var wg sync.WaitGroup
	watchCtx, stopWatch := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		panel.Watch(watchCtx, mgr.Events(), func(ev session.Event) {
			switch ev.Kind {
			case session.EventStatus:
				con.Status(ev.Status)
			case session.EventReset:
				select {
				case resets <- struct{}{}:
				default:
				}
			}
		})
	}()
	defer func() {
		stopWatch()
		wg.Wait()
	}()

	r := &repl{cli: c, ctx: ctx, mgr: mgr, panel: panel, history: history, con: con, resets: resets}
	r.connect()

	con.printf("Type 'help' for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// repl executes one input line at a time.
type repl struct {
	cli     *cli
	ctx     context.Context
	mgr     *session.Manager
	panel   *control.Panel
	history *telemetryHistory
	con     *console
	resets  <-chan struct{}
}

// resetWait bounds how long connect waits for the panel to apply the session reset.
const resetWait = time.Second

// connect runs a session connect and, on success, waits until the panel has
// applied the reset so the next command sees target 0 in automatic mode.
func (r *repl) connect() {
	select {
	case <-r.resets:
	default:
	}
	if err := r.mgr.Connect(r.ctx); err != nil {
		// status events carry the failure to the console
		r.cli.logger.WithField("error", err).Debug("Connect failed")
		return
	}
	select {
	case <-r.resets:
	case <-r.ctx.Done():
	case <-time.After(resetWait):
		r.cli.logger.Warn("Session reset not observed")
	}
}

// handle runs one command and reports whether the loop should stop.
func (r *repl) handle(line string) bool {
	switch strings.ToLower(line) {
	case "":
	case "up":
		r.con.Result("up", r.panel.Up(r.ctx))
	case "down":
		r.con.Result("down", r.panel.Down(r.ctx))
	case "toggle":
		r.con.Result("toggle", r.panel.Toggle(r.ctx))
		mode := "automatic"
		if r.panel.Manual() {
			mode = "manual"
		}
		r.con.printf("mode %s\n", mode)
	case "r", "reconnect":
		r.connect()
	case "s", "status":
		r.status()
	case "h", "history":
		r.printHistory()
	case "help", "?":
		r.con.printf("%s", runHelp)
	case "q", "quit", "exit":
		return true
	default:
		r.con.printf("unknown command %q (type 'help')\n", line)
	}
	return false
}

func (r *repl) status() {
	r.con.Status(r.mgr.Status())
	if t, ok := r.mgr.Latest(); ok {
		r.con.Telemetry(t)
	}
	r.con.printf("target %d°, manual %t\n", r.panel.Target(), r.panel.Manual())
}

func (r *repl) printHistory() {
	records, err := r.history.Drain()
	if err != nil {
		r.cli.logger.WithField("error", err).Warn("History read failed")
	}
	if len(records) == 0 {
		r.con.printf("no telemetry since last history\n")
		return
	}
	for _, t := range records {
		r.con.Telemetry(t)
	}
	recorded, overwritten := r.history.Stats()
	r.cli.logger.WithFields(logrus.Fields{
		"recorded":    recorded,
		"overwritten": overwritten,
	}).Debug("Telemetry history drained")
}
