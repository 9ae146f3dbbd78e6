// Package ttyctl saves and restores controlling-terminal mode around the
// shell's lifetime, the way other_examples' driusan-gosh opens /dev/tty
// and defers t.Restore(). Built on github.com/pkg/term/termios, which is
// also canonical-pebble's dependency for raw termios access (see
// internal/ptyutil.go, which reaches for the sibling ioctl calls through
// golang.org/x/sys/unix; here we use termios's attribute get/set instead
// since we operate on an existing fd rather than allocating a pty pair).
package ttyctl

import (
	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

// State is a saved terminal attribute set that can be restored later.
type State struct {
	fd     uintptr
	saved  unix.Termios
	active bool
}

// Save captures the current termios attributes of fd.
func Save(fd uintptr) (*State, error) {
	var attr unix.Termios
	if err := termios.Tcgetattr(fd, &attr); err != nil {
		return nil, err
	}
	return &State{fd: fd, saved: attr, active: true}, nil
}

// Restore re-applies the attributes captured by Save. A nil or
// already-restored State is a no-op, so callers can defer Restore
// unconditionally.
func (s *State) Restore() error {
	if s == nil || !s.active {
		return nil
	}
	s.active = false
	return termios.Tcsetattr(s.fd, termios.TCSANOW, &s.saved)
}
