// Package controller runs the shell's read-parse-dispatch-launch loop
// (spec.md §4.5), owning the controlling terminal, the signal
// dispositions the shell itself must ignore, and the foreground-wait
// that hands the terminal to a job and blocks until it stops or exits.
//
// It is grounded on canonical-pebble's internals/cli command-loop shape
// (a long-lived struct wired up once in main, with one method per
// outer-loop step) and on other_examples driusan-gosh's foreground-wait,
// adapted from a single process to the engine's PGID-tracking jobs.Table
// and goroutine-based Reaper.
package controller

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/rajin-khan/cash/internal/builtin"
	"github.com/rajin-khan/cash/internal/config"
	"github.com/rajin-khan/cash/internal/history"
	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/launcher"
	"github.com/rajin-khan/cash/internal/logger"
	"github.com/rajin-khan/cash/internal/parser"
	"github.com/rajin-khan/cash/internal/reaper"
	"github.com/rajin-khan/cash/internal/termctl"
	"github.com/rajin-khan/cash/internal/ttyctl"
)

// Controller owns the shell's outer loop.
type Controller struct {
	Config   config.Config
	Table    *jobs.Table
	Reaper   *reaper.Reaper
	Launcher *launcher.Launcher
	History  history.Provider
	Lines    history.LineReader

	HistoryPath string
	TTYFd       int
	Interactive bool
	ShellPGID   int

	Stdout io.Writer
	Stderr io.Writer

	// EventSink, if set, also receives every DrainNotifications line
	// (the optional introspection API's websocket fan-out).
	EventSink io.Writer

	ttyState *ttyctl.State
	exitCode int
	exiting  bool
}

// New builds a Controller. interactive should be golang.org/x/term's
// IsTerminal(ttyFd) result, computed by the caller (cmd/cash) once at
// startup.
func New(cfg config.Config, table *jobs.Table, r *reaper.Reaper, l *launcher.Launcher, hist history.Provider, lines history.LineReader, ttyFd int, interactive bool) *Controller {
	return &Controller{
		Config:      cfg,
		Table:       table,
		Reaper:      r,
		Launcher:    l,
		History:     hist,
		Lines:       lines,
		HistoryPath: cfg.HistoryFile,
		TTYFd:       ttyFd,
		Interactive: interactive,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// builtinContext returns the builtin.Context wired to this Controller,
// using callback fields specifically so that internal/builtin never
// imports internal/controller (see internal/builtin's doc comment).
func (c *Controller) builtinContext() *builtin.Context {
	return &builtin.Context{
		Stdout:         c.notificationWriter(),
		Stderr:         c.Stderr,
		Table:          c.Table,
		ForegroundWait: c.foregroundWaitExisting,
		SendSigcont:    c.sendSigcont,
		Exit:           c.requestExit,
	}
}

// Bootstrap acquires the controlling terminal (if interactive), saves its
// attributes for Shutdown to restore, and installs the shell's own signal
// dispositions (spec.md §5's "the shell itself ignores job-control
// signals"). The terminal is left in canonical mode: spec.md's Non-goals
// delegate line editing to the terminal driver, which only happens in
// canonical mode, and ISIG (the INTR/QUIT/TSTP key generation fg/bg
// depend on) is already enabled there by default, so there is nothing to
// change going in - only something worth restoring on the way out, in
// case a foreground job left the terminal in raw mode.
func (c *Controller) Bootstrap() error {
	if c.Interactive {
		pgid, err := unix.Getpgid(os.Getpid())
		if err != nil {
			return fmt.Errorf("getpgid: %w", err)
		}
		c.ShellPGID = pgid

		if err := termctl.SetForegroundPGID(c.TTYFd, c.ShellPGID); err != nil {
			logger.Debugf("cannot claim controlling terminal: %v", err)
		}

		state, err := ttyctl.Save(uintptr(c.TTYFd))
		if err != nil {
			logger.Debugf("cannot save terminal state: %v", err)
		} else {
			c.ttyState = state
		}

		ignoreFromShell(unix.SIGINT, unix.SIGQUIT, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU)
	}

	if c.HistoryPath != "" {
		if err := c.History.ReadHistory(c.HistoryPath); err != nil {
			logger.Debugf("cannot read history file %s: %v", c.HistoryPath, err)
		}
	}
	return c.Reaper.Start()
}

// Shutdown restores the terminal and persists history. Safe to call
// even if Bootstrap was never interactive.
func (c *Controller) Shutdown() {
	if c.HistoryPath != "" {
		if err := c.History.WriteHistory(c.HistoryPath); err != nil {
			logger.Debugf("cannot write history file %s: %v", c.HistoryPath, err)
		}
	}
	if err := c.Reaper.Stop(); err != nil {
		logger.Debugf("reaper stop: %v", err)
	}
	if c.ttyState != nil {
		if err := c.ttyState.Restore(); err != nil {
			logger.Debugf("restore terminal state: %v", err)
		}
	}
}

// Run is the shell's main loop: prompt, read, parse, dispatch, repeat
// until exit or end-of-input (spec.md §4.5).
func (c *Controller) Run() int {
	for !c.exiting {
		jobs.DrainNotifications(c.Table, c.notificationWriter())

		fmt.Fprint(c.Stdout, c.Config.Prompt)
		line, err := c.Lines.ReadLine()
		if err == io.EOF {
			fmt.Fprintln(c.Stdout)
			break
		}
		if err != nil {
			fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
			continue
		}

		c.History.AddHistory(line)
		c.handleLine(line)
	}
	return c.exitCode
}

func (c *Controller) notificationWriter() io.Writer {
	if c.EventSink != nil {
		return io.MultiWriter(c.Stdout, c.EventSink)
	}
	return c.Stdout
}

func (c *Controller) handleLine(line string) {
	pipeline, warnings, err := parser.Parse(line)
	if err != nil {
		fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
		return
	}
	for _, w := range warnings {
		fmt.Fprintf(c.Stderr, "ca$h: warning: %s\n", w)
	}
	if pipeline.Left.IsEmpty() && !pipeline.Piped() {
		return
	}

	if err := parser.RejectBuiltinInPipeline(pipeline, builtin.IsBuiltin); err != nil {
		fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
		return
	}

	commandText := parser.DisplayText(line)

	if !pipeline.Piped() && builtin.IsBuiltin(pipeline.Left.Name()) {
		handled, err := builtin.Dispatch(c.builtinContext(), pipeline.Left)
		if handled {
			if err != nil {
				fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
			}
			return
		}
	}

	c.launch(pipeline, commandText)
}

func (c *Controller) launch(pipeline *parser.Pipeline, commandText string) {
	fg, err := c.Launcher.Launch(pipeline, commandText)
	if err != nil {
		fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
		return
	}
	if fg == nil {
		// Backgrounded: the Launcher already registered and announced it.
		return
	}
	c.foregroundWaitNew(fg)
}

// foregroundWaitNew waits on a just-launched transient foreground job
// (spec.md §4.4/§4.5): hand it the terminal, block until it stops or
// every member has exited, then reclaim the terminal for the shell.
func (c *Controller) foregroundWaitNew(fg *launcher.Foreground) {
	if c.Interactive && c.TTYFd >= 0 {
		if err := termctl.SetForegroundPGID(c.TTYFd, fg.PGID); err != nil {
			logger.Debugf("cannot hand terminal to pgid %d: %v", fg.PGID, err)
		}
	}

	transition := <-fg.Await

	if c.Interactive && c.TTYFd >= 0 {
		if err := termctl.SetForegroundPGID(c.TTYFd, c.ShellPGID); err != nil {
			logger.Debugf("cannot reclaim terminal: %v", err)
		}
	}

	if transition.Stopped {
		jid, err := c.Table.Add(fg.PGID, fg.CommandText, jobs.Stopped)
		if err != nil {
			fmt.Fprintf(c.Stderr, "ca$h: %v\n", err)
		} else {
			fmt.Fprintf(c.Stdout, "\n[%d]+  Stopped\t%s\n", jid, fg.CommandText)
			c.Table.SetState(fg.PGID, jobs.Stopped, true)
		}
		return
	}

	c.Launcher.Release(fg)
}

// foregroundWaitExisting implements the `fg` built-in's ForegroundWait
// callback: pgid is already tracked in the jobs.Table (running in the
// background or stopped), so this only hands it the terminal, wakes it
// with SIGCONT if requested, waits for its next transition, and either
// removes it (done) or leaves it tracked (stopped again).
func (c *Controller) foregroundWaitExisting(pgid int, sendSigcont bool) error {
	await := c.Reaper.Await(pgid)

	if c.Interactive && c.TTYFd >= 0 {
		if err := termctl.SetForegroundPGID(c.TTYFd, pgid); err != nil {
			logger.Debugf("cannot hand terminal to pgid %d: %v", pgid, err)
		}
	}
	if sendSigcont {
		c.Table.SetState(pgid, jobs.Running, true)
		if err := c.sendSigcont(pgid); err != nil {
			return err
		}
	}

	transition := <-await

	if c.Interactive && c.TTYFd >= 0 {
		if err := termctl.SetForegroundPGID(c.TTYFd, c.ShellPGID); err != nil {
			logger.Debugf("cannot reclaim terminal: %v", err)
		}
	}

	if transition.Stopped {
		fmt.Fprintf(c.Stdout, "\n")
		return nil
	}

	job, ok := c.Table.FindByPGID(pgid)
	if ok {
		fmt.Fprintf(c.Stdout, "[%d]+  Done\t%s\n", job.JID, job.CommandText)
	}
	c.Table.Remove(pgid)
	return nil
}

func (c *Controller) sendSigcont(pgid int) error {
	return termctl.Signal(pgid, unix.SIGCONT)
}

func (c *Controller) requestExit(code int) {
	c.exiting = true
	c.exitCode = code
}

// ignoreFromShell keeps the shell's own process from acting on sigs
// (SIGINT/SIGQUIT/SIGTSTP/SIGTTIN/SIGTTOU), the way the Reaper keeps the
// shell from dying on SIGCHLD: via signal.Notify into a channel nothing
// ever acts on, not signal.Ignore. POSIX only resets a *caught* signal to
// its default disposition across fork+exec; one already at SIG_IGN stays
// SIG_IGN in the child. Since signal.Ignore sets SIG_IGN, every job this
// shell launched would inherit SIG_IGN for these signals too, so Ctrl-C
// and Ctrl-Z would never reach them. signal.Notify instead makes the
// runtime treat them as caught, which Go's fork+exec path resets to
// SIG_DFL in the child before exec - exactly the default dispositions
// spec.md §4.4 requires launched processes to see.
func ignoreFromShell(sigs ...unix.Signal) {
	osSignals := make([]os.Signal, len(sigs))
	for i, s := range sigs {
		osSignals[i] = s
	}
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, osSignals...)
	go func() {
		for range ch {
		}
	}()
}

// IsTerminal reports whether fd refers to a terminal, using
// golang.org/x/term the way canonical-pebble's cli package detects an
// interactive session before deciding whether to render progress bars.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}
