// Package termctl wraps the handful of terminal-driver ioctls the
// Controller needs for job control: reading and transferring foreground
// process group ownership of the controlling terminal (spec.md §4.5,
// §5). Grounded on the TIOCSPGRP/TIOCGPGRP usage in
// other_examples driusan-gosh (raw syscall) and canonical-pebble's
// internal/ptyutil, which wraps the sibling termios ioctls the same way
// through golang.org/x/sys/unix.
package termctl

import (
	"golang.org/x/sys/unix"
)

// ForegroundPGID returns the process group that currently owns fd.
func ForegroundPGID(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}

// SetForegroundPGID transfers ownership of fd's controlling terminal to
// pgid. The Controller uses it to hand the terminal to a job and to take
// it back; the Launcher's SysProcAttr.Foreground is the other place the
// terminal's owning group changes, at the start of a foreground job.
func SetForegroundPGID(fd int, pgid int) error {
	return unix.IoctlSetInt(fd, unix.TIOCSPGRP, pgid)
}

// Signal sends sig to every process in the group identified by pgid.
func Signal(pgid int, sig unix.Signal) error {
	return unix.Kill(-pgid, sig)
}

// SignalOne sends sig to the single process pid (not its whole group).
func SignalOne(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}
