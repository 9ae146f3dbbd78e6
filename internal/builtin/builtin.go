// Package builtin implements the dispatch contract for the shell's
// in-process commands (spec.md §6). Per spec.md §1, the logic of `clear`
// and `exit` is trivial and only their dispatch contract matters; `cd`,
// `jobs`, `fg` and `bg` need real logic because they touch the JobTable
// and the controlling terminal, so those are implemented in full here
// and the Controller supplies the terminal-handoff and history hooks
// through Context.
package builtin

import (
	"fmt"
	"io"
	"os"

	"github.com/canonical/x-go/strutil"

	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/parser"
	"github.com/rajin-khan/cash/internal/shellerr"
)

// names is the fixed set of built-ins the engine recognizes (spec.md §6).
var names = []string{"exit", "cd", "clear", "jobs", "fg", "bg"}

// IsBuiltin reports whether name is one of the shell's own commands.
// Exported for the Parser's BuiltinInPipeline check and the Controller's
// single-command dispatch gate.
func IsBuiltin(name string) bool {
	return strutil.ListContains(names, name)
}

// Context supplies the state and Controller-owned operations a built-in
// needs, without giving the builtin package a dependency on controller
// (which would be circular, since Controller dispatches into builtin).
type Context struct {
	Stdout io.Writer
	Stderr io.Writer

	Table *jobs.Table

	// ForegroundWait brings the job at pgid to the foreground and blocks
	// until it stops or terminates, sending SIGCONT first if
	// sendSigcont is set. Implemented by the Controller (spec.md §4.5).
	ForegroundWait func(pgid int, sendSigcont bool) error

	// SendSigcont resumes a stopped job's group in place (used by bg).
	SendSigcont func(pgid int) error

	// Exit is called by the `exit` built-in; the Controller implements
	// it to persist history and terminate the process.
	Exit func(code int)
}

// Dispatch runs cmd as a built-in if its name is recognized, returning
// handled=false if it is not a built-in at all.
func Dispatch(ctx *Context, cmd *parser.Command) (handled bool, err error) {
	if cmd.IsEmpty() || !IsBuiltin(cmd.Name()) {
		return false, nil
	}
	if cmd.InFile != "" || cmd.OutFile != "" {
		fmt.Fprintf(ctx.Stderr, "ca$h: redirection on %q is ignored\n", cmd.Name())
	}

	switch cmd.Name() {
	case "exit":
		return true, doExit(ctx, cmd.Args[1:])
	case "cd":
		return true, doCd(ctx, cmd.Args[1:])
	case "clear":
		return true, doClear(ctx)
	case "jobs":
		return true, doJobs(ctx)
	case "fg":
		return true, doFg(ctx, cmd.Args[1:])
	case "bg":
		return true, doBg(ctx, cmd.Args[1:])
	}
	return false, nil
}

func doExit(ctx *Context, args []string) error {
	ctx.Exit(0)
	return nil
}

func doCd(ctx *Context, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("cd: too many arguments")
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	} else {
		dir = os.Getenv("HOME")
		if dir == "" {
			return fmt.Errorf("cd: HOME not set")
		}
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("cd: %w", err)
	}
	return nil
}

func doClear(ctx *Context) error {
	// Cursor home + erase display; the dispatch contract is all that's
	// specified (spec.md §1), so this is the minimal trivial body.
	fmt.Fprint(ctx.Stdout, "\033[H\033[2J")
	return nil
}

func doJobs(ctx *Context) error {
	jobs.DrainNotifications(ctx.Table, ctx.Stdout)
	for _, j := range ctx.Table.Snapshot() {
		if j.State == jobs.Done {
			continue
		}
		fmt.Fprintf(ctx.Stdout, "[%d] %d (%s)\t%s\n", j.JID, j.PGID, j.State, j.CommandText)
	}
	return nil
}

func doFg(ctx *Context, args []string) error {
	job, err := resolveJobSpec(ctx, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Stdout, job.CommandText)
	return ctx.ForegroundWait(job.PGID, job.State == jobs.Stopped)
}

func doBg(ctx *Context, args []string) error {
	job, err := resolveJobSpec(ctx, args)
	if err != nil {
		return err
	}
	if job.State == jobs.Running {
		return fmt.Errorf("bg: job %%%d is already running", job.JID)
	}
	if !ctx.Table.SetState(job.PGID, jobs.Running, true) {
		return shellerr.New(shellerr.NoSuchJob, "%%%d", job.JID)
	}
	if err := ctx.SendSigcont(job.PGID); err != nil {
		return fmt.Errorf("bg: %w", err)
	}
	fmt.Fprintf(ctx.Stdout, "[%d] %s &\n", job.JID, job.CommandText)
	return nil
}

func resolveJobSpec(ctx *Context, args []string) (jobs.Job, error) {
	if len(args) != 1 {
		return jobs.Job{}, shellerr.New(shellerr.InvalidJobSpec, "usage: fg|bg %%<jid>")
	}
	jid, err := jobs.ParseJobSpec(args[0])
	if err != nil {
		return jobs.Job{}, err
	}
	job, ok := ctx.Table.FindByJID(jid)
	if !ok {
		return jobs.Job{}, shellerr.New(shellerr.NoSuchJob, "%%%d", jid)
	}
	return job, nil
}
