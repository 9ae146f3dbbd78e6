// Package launcher forks and execs the external commands of a Pipeline,
// assigns process groups, wires pipes and redirections, and either
// registers a background Job or hands a transient foreground job back to
// the Controller to wait on (spec.md §4.4).
//
// It is grounded on canonical-pebble's internals/overlord/servstate
// startInternal (exec.Command + SysProcAttr{Setpgid: true} +
// reaper.StartCommand) for the single-command path, and on
// other_examples driusan-gosh's pipeline wiring for the two-stage path.
// Two things the C original (original_source/cash.c) does by hand come
// for free from Go's process model and are called out here rather than
// reproduced:
//
//   - File descriptors opened for redirection or the pipe are marked
//     close-on-exec by the Go runtime by default, so the "close every fd
//     not part of the final wiring before exec" step of spec.md §5 needs
//     no explicit code in this package - only the parent's own copies
//     need closing after Start, which this package does.
//   - syscall.SysProcAttr's Foreground/Ctty fields hand the terminal to
//     the new group atomically as part of the fork+exec sequence, so the
//     foreground case needs no separate tcsetpgrp call between fork and
//     exec; the Controller still calls termctl.SetForegroundPGID when it
//     waits on a job and to reclaim the terminal afterwards. The
//     parent-side half of the race-safe setpgid double-set is
//     racefreeSetpgid, which this package still calls after Start.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/logger"
	"github.com/rajin-khan/cash/internal/metrics"
	"github.com/rajin-khan/cash/internal/parser"
	"github.com/rajin-khan/cash/internal/reaper"
	"github.com/rajin-khan/cash/internal/shellerr"
	"github.com/rajin-khan/cash/internal/termctl"
)

// Launcher forks and execs pipelines on behalf of the Controller.
type Launcher struct {
	Reaper      *reaper.Reaper
	Table       *jobs.Table
	TTYFd       int
	Interactive bool
	Stdout      *os.File
	Stderr      *os.File

	// Metrics, if set, records one launch observation per pipeline this
	// Launcher successfully starts. cmd/cash always sets it, whether or
	// not the optional introspection API is enabled.
	Metrics *metrics.Collector
}

// New returns a Launcher sharing the given reaper and job table.
func New(r *reaper.Reaper, table *jobs.Table, ttyFd int, interactive bool) *Launcher {
	return &Launcher{
		Reaper:      r,
		Table:       table,
		TTYFd:       ttyFd,
		Interactive: interactive,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Foreground describes a pipeline launched in the foreground: it is not
// present in the jobs.Table (spec.md §3's "transient Job"), and the
// Controller is responsible for waiting on it and releasing it. Await is
// pre-registered atomically with the final process's registration (see
// reaper.StartAndAwait), so the Controller can never miss a transition
// that happens between Launch returning and the Controller reading it.
type Foreground struct {
	PGID        int
	CommandText string
	MemberPIDs  []int
	Await       <-chan reaper.Transition
	cmds        []*exec.Cmd
}

// Launch starts p. If p.Background, it registers a Job and returns
// (nil, nil) once the pipeline is running. Otherwise it returns a
// *Foreground for the Controller to wait on.
func (l *Launcher) Launch(p *parser.Pipeline, commandText string) (*Foreground, error) {
	if p.Piped() {
		return l.launchPipeline(p, commandText)
	}
	return l.launchSingle(p.Left, commandText, p.Background)
}

func (l *Launcher) launchSingle(cmdSpec *parser.Command, commandText string, background bool) (*Foreground, error) {
	cmd := exec.Command(cmdSpec.Args[0], cmdSpec.Args[1:]...)
	cmd.Stderr = l.Stderr

	inFile, outFile, err := openRedirections(cmdSpec)
	if err != nil {
		return nil, err
	}
	defer closeIfSet(inFile)
	defer closeIfSet(outFile)

	if inFile != nil {
		cmd.Stdin = inFile
	} else {
		cmd.Stdin = os.Stdin
	}
	if outFile != nil {
		cmd.Stdout = outFile
	} else {
		cmd.Stdout = l.Stdout
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if !background && l.Interactive && l.TTYFd >= 0 {
		cmd.SysProcAttr.Foreground = true
		cmd.SysProcAttr.Ctty = l.TTYFd
	}

	resolvePGID := func(pid int) int {
		racefreeSetpgid(pid, pid)
		pgid, err := unix.Getpgid(pid)
		if err != nil {
			return pid // child already reaped; use its pid as a sentinel, per spec.md §4.4.
		}
		return pgid
	}

	if background {
		pid, pgid, err := l.Reaper.StartAndRegister(cmd, resolvePGID)
		if err != nil {
			return nil, shellerr.New(shellerr.ForkFailed, "%s: %v", cmdSpec.Name(), err)
		}
		jid, err := l.Table.Add(pgid, commandText, jobs.Running)
		if err != nil {
			l.Reaper.Forget(pgid, []int{pid})
			termctl.Signal(pgid, unix.SIGKILL)
			_ = cmd.Wait()
			return nil, err
		}
		fmt.Fprintf(l.Stdout, "[%d] %d\n", jid, pgid)
		l.observeLaunch()
		return nil, nil
	}

	pid, pgid, await, err := l.Reaper.StartAndAwait(cmd, resolvePGID)
	if err != nil {
		return nil, shellerr.New(shellerr.ForkFailed, "%s: %v", cmdSpec.Name(), err)
	}
	l.observeLaunch()
	return &Foreground{PGID: pgid, CommandText: commandText, MemberPIDs: []int{pid}, Await: await, cmds: []*exec.Cmd{cmd}}, nil
}

func (l *Launcher) observeLaunch() {
	if l.Metrics == nil {
		return
	}
	l.Metrics.ObserveLaunch()
	l.Metrics.SetActive(l.Table.ActiveCount())
}

func (l *Launcher) launchPipeline(p *parser.Pipeline, commandText string) (*Foreground, error) {
	pipeRead, pipeWrite, err := os.Pipe()
	if err != nil {
		return nil, shellerr.New(shellerr.PipeCreateFailed, "%v", err)
	}

	leftCmd := exec.Command(p.Left.Args[0], p.Left.Args[1:]...)
	leftCmd.Stderr = l.Stderr
	leftCmd.Stdout = pipeWrite

	leftIn, _, err := openRedirections(p.Left)
	if err != nil {
		pipeRead.Close()
		pipeWrite.Close()
		return nil, err
	}
	defer closeIfSet(leftIn)
	if leftIn != nil {
		leftCmd.Stdin = leftIn
	} else {
		leftCmd.Stdin = os.Stdin
	}

	leftCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if !p.Background && l.Interactive && l.TTYFd >= 0 {
		leftCmd.SysProcAttr.Foreground = true
		leftCmd.SysProcAttr.Ctty = l.TTYFd
	}

	leftPID, pgid, err := l.Reaper.StartAndRegister(leftCmd, func(pid int) int {
		racefreeSetpgid(pid, pid)
		resolved, err := unix.Getpgid(pid)
		if err != nil {
			return pid
		}
		return resolved
	})
	if err != nil {
		pipeRead.Close()
		pipeWrite.Close()
		return nil, shellerr.New(shellerr.ForkFailed, "%s: %v", p.Left.Name(), err)
	}

	rightCmd := exec.Command(p.Right.Args[0], p.Right.Args[1:]...)
	rightCmd.Stderr = l.Stderr
	rightCmd.Stdin = pipeRead

	_, rightOut, err := openRedirections(p.Right)
	if err != nil {
		l.abandonPipeline(pgid, []int{leftPID}, pipeRead, pipeWrite, leftCmd)
		return nil, err
	}
	defer closeIfSet(rightOut)
	if rightOut != nil {
		rightCmd.Stdout = rightOut
	} else {
		rightCmd.Stdout = l.Stdout
	}

	rightCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	resolveRightPGID := func(pid int) int {
		racefreeSetpgid(pid, pgid)
		return pgid
	}

	if p.Background {
		rightPID, _, err := l.Reaper.StartAndRegister(rightCmd, resolveRightPGID)
		if err != nil {
			// Per spec.md §9's open question: use the interactive-mode
			// order uniformly - kill the group, then wait, then close
			// the pipe.
			l.abandonPipeline(pgid, []int{leftPID}, pipeRead, pipeWrite, leftCmd)
			return nil, shellerr.New(shellerr.ForkFailed, "%s: %v", p.Right.Name(), err)
		}
		pipeRead.Close()
		pipeWrite.Close()

		jid, err := l.Table.Add(pgid, commandText, jobs.Running)
		if err != nil {
			l.Reaper.Forget(pgid, []int{leftPID, rightPID})
			termctl.Signal(pgid, unix.SIGKILL)
			_ = leftCmd.Wait()
			_ = rightCmd.Wait()
			return nil, err
		}
		fmt.Fprintf(l.Stdout, "[%d] %d\n", jid, pgid)
		l.observeLaunch()
		return nil, nil
	}

	rightPID, _, await, err := l.Reaper.StartAndAwait(rightCmd, resolveRightPGID)
	if err != nil {
		l.abandonPipeline(pgid, []int{leftPID}, pipeRead, pipeWrite, leftCmd)
		return nil, shellerr.New(shellerr.ForkFailed, "%s: %v", p.Right.Name(), err)
	}
	pipeRead.Close()
	pipeWrite.Close()
	l.observeLaunch()

	return &Foreground{
		PGID:        pgid,
		CommandText: commandText,
		MemberPIDs:  []int{leftPID, rightPID},
		Await:       await,
		cmds:        []*exec.Cmd{leftCmd, rightCmd},
	}, nil
}

// abandonPipeline implements spec.md §4.4 step 3 / §9: if the second
// fork of a pipeline fails, kill the pipeline group, wait for the first
// child, then close the pipe - in that order, uniformly, regardless of
// interactivity.
func (l *Launcher) abandonPipeline(pgid int, memberPIDs []int, pipeRead, pipeWrite *os.File, leftCmd *exec.Cmd) {
	l.Reaper.Forget(pgid, memberPIDs)
	if err := termctl.Signal(pgid, unix.SIGKILL); err != nil {
		logger.Debugf("Cannot kill abandoned pipeline group %d: %v", pgid, err)
	}
	_ = leftCmd.Wait()
	pipeRead.Close()
	pipeWrite.Close()
}

// Release waits on every *exec.Cmd in fg so Go's process bookkeeping is
// cleaned up, after the Reaper has already consumed the group's exit
// status via its SIGCHLD-driven loop. The wait is expected to error
// (ECHILD-like) because the group was already reaped - mirroring
// pebble's reaper.WaitCommand, which documents the same "not pretty,
// but necessary" call.
func (l *Launcher) Release(fg *Foreground) {
	for _, cmd := range fg.cmds {
		if err := cmd.Wait(); err != nil {
			logger.Debugf("cmd.Wait for pid %d: %v (expected once the group is already reaped)", cmd.Process.Pid, err)
		}
	}
}

func openRedirections(cmdSpec *parser.Command) (in, out *os.File, err error) {
	if cmdSpec.InFile != "" {
		in, err = os.OpenFile(cmdSpec.InFile, os.O_RDONLY, 0)
		if err != nil {
			return nil, nil, shellerr.New(shellerr.OpenRedirectionFailed, "%s: %v", cmdSpec.InFile, err)
		}
	}
	if cmdSpec.OutFile != "" {
		out, err = os.OpenFile(cmdSpec.OutFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			closeIfSet(in)
			return nil, nil, shellerr.New(shellerr.OpenRedirectionFailed, "%s: %v", cmdSpec.OutFile, err)
		}
	}
	return in, out, nil
}

func closeIfSet(f *os.File) {
	if f != nil {
		f.Close()
	}
}

// racefreeSetpgid is the parent-side half of the double-set described in
// spec.md §4.4/§9: the child already set its own group via SysProcAttr
// before exec, so benign errors here (the child won the race, or has
// already exited) are swallowed.
func racefreeSetpgid(pid, pgid int) {
	err := unix.Setpgid(pid, pgid)
	if err != nil && err != unix.EPERM && err != unix.ESRCH {
		logger.Debugf("setpgid(%d, %d): %v", pid, pgid, err)
	}
}
