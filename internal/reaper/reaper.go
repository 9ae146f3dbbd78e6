// Package reaper is the SIGCHLD-driven child-status poller of spec.md
// §4.3, adapted directly from canonical-pebble's internals/reaper
// package: a tomb-managed goroutine fed by signal.Notify (Go's
// async-signal-safe channel delivery stands in for the C source's
// sigaction handler — see spec.md §9's note on signal-handler/main-thread
// shared state) that drains non-blocking waits in a loop and never
// blocks.
//
// Unlike pebble's map of pid -> completion channel (one-shot command
// results), this reaper tracks process *groups*: a pipeline's PGID is
// done only once every member PID registered for it has been reaped, and
// a single stopped member is enough to mark the whole group Stopped.
package reaper

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/logger"
	"github.com/rajin-khan/cash/internal/metrics"
)

// Transition describes a single job-control event delivered to an Await
// caller: either the group stopped, or it is completely done (every
// member exited).
type Transition struct {
	Stopped bool
}

// Reaper drains SIGCHLD-signalled status changes into a jobs.Table.
type Reaper struct {
	table *jobs.Table

	// Metrics, if set, is fed a reap and an active-count observation for
	// every stop and every completed group this reaper handles.
	// cmd/cash always sets it, whether or not the optional introspection
	// API is enabled.
	Metrics *metrics.Collector

	t tomb.Tomb

	mu       sync.Mutex
	started  bool
	pidPGID  map[int]int // pid -> owning pgid, for pids this reaper knows about
	pending  map[int]int // pgid -> count of member pids not yet reaped
	awaiters map[int][]chan Transition
}

// New returns a Reaper that will report child-status transitions into
// table.
func New(table *jobs.Table) *Reaper {
	return &Reaper{
		table:    table,
		pidPGID:  make(map[int]int),
		pending:  make(map[int]int),
		awaiters: make(map[int][]chan Transition),
	}
}

// Await returns a channel that receives exactly one Transition the next
// time pgid's group stops or finishes, then is closed. Adapted from
// pebble's reaper pid -> completion-channel map (internals/reaper's
// waitChans), generalized here to pgid granularity and to fire on a
// stop as well as a finish, since the Controller's foreground-wait
// (spec.md §4.5) needs to wake on either.
func (r *Reaper) Await(pgid int) <-chan Transition {
	ch := make(chan Transition, 1)
	r.mu.Lock()
	r.awaiters[pgid] = append(r.awaiters[pgid], ch)
	r.mu.Unlock()
	return ch
}

func (r *Reaper) notifyAwaiters(pgid int, t Transition) {
	r.mu.Lock()
	chans := r.awaiters[pgid]
	delete(r.awaiters, pgid)
	r.mu.Unlock()
	for _, ch := range chans {
		ch <- t
		close(ch)
	}
}

// Start installs the SIGCHLD watcher and begins draining statuses.
func (r *Reaper) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.t.Go(r.run)
	return nil
}

// Stop tears down the SIGCHLD watcher and waits for the drain goroutine
// to exit.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.t.Kill(nil)
	err := r.t.Wait()

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	return err
}

func (r *Reaper) run() error {
	logger.Debugf("Reaper started, waiting for SIGCHLD.")
	sigChld := make(chan os.Signal, 1)
	signal.Notify(sigChld, unix.SIGCHLD)
	for {
		select {
		case <-sigChld:
			r.reapOnce()
		case <-r.t.Dying():
			signal.Reset(unix.SIGCHLD)
			logger.Debugf("Reaper stopped.")
			return nil
		}
	}
}

// RegisterPipeline tells the reaper to expect exit/stop status for each
// of memberPIDs, all belonging to pgid.
func (r *Reaper) RegisterPipeline(pgid int, memberPIDs []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(pgid, memberPIDs)
}

func (r *Reaper) registerLocked(pgid int, memberPIDs []int) {
	for _, pid := range memberPIDs {
		r.pidPGID[pid] = pgid
	}
	r.pending[pgid] += len(memberPIDs)
}

// StartAndRegister starts cmd and registers its pid under pgid while
// holding the reaper's lock for the whole operation, closing the window
// where the SIGCHLD handler could reap a child that exits immediately
// after fork before the reaper knows which group it belongs to - the
// same ordering constraint pebble's StartCommand observes between
// cmd.Start and inserting into its pids map. resolvePGID is called with
// the freshly started pid, still under the lock, to establish the
// child's final process group (e.g. via setpgid+getpgid, or simply
// pgid itself for a pipeline's non-leader member).
func (r *Reaper) StartAndRegister(cmd *exec.Cmd, resolvePGID func(pid int) int) (pid, pgid int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return 0, 0, err
	}
	pid = cmd.Process.Pid
	pgid = resolvePGID(pid)
	r.registerLocked(pgid, []int{pid})
	return pid, pgid, nil
}

// StartAndAwait is StartAndRegister plus registering an Await channel for
// pgid in the same locked section, so the Controller's foreground-wait
// can never miss a transition that happens between Start returning and
// the caller getting a chance to call Await separately - the same race
// StartAndRegister closes for registration, extended to cover the first
// waiter too. Used for a pipeline's final member, the one whose start
// completes the group the Controller is about to wait on.
func (r *Reaper) StartAndAwait(cmd *exec.Cmd, resolvePGID func(pid int) int) (pid, pgid int, await <-chan Transition, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return 0, 0, nil, err
	}
	pid = cmd.Process.Pid
	pgid = resolvePGID(pid)
	r.registerLocked(pgid, []int{pid})
	ch := make(chan Transition, 1)
	r.awaiters[pgid] = append(r.awaiters[pgid], ch)
	return pid, pgid, ch, nil
}

// Forget removes any bookkeeping the reaper still holds for pgid,
// used when the Launcher must abandon a partially-started pipeline.
func (r *Reaper) Forget(pgid int, memberPIDs []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pid := range memberPIDs {
		delete(r.pidPGID, pid)
	}
	delete(r.pending, pgid)
}

// reapOnce waits for child status changes until there are none left
// pending, mirroring pebble's reapOnce but requesting WUNTRACED so
// stopped children (Ctrl-Z) are reported too, per spec.md §4.3.
func (r *Reaper) reapOnce() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch err {
		case nil:
			if pid <= 0 {
				return
			}
			r.handleStatus(pid, status)

		case unix.ECHILD:
			return

		default:
			logger.Noticef("Cannot wait for child process: %v", err)
			return
		}
	}
}

func (r *Reaper) handleStatus(pid int, status unix.WaitStatus) {
	r.mu.Lock()
	pgid, known := r.pidPGID[pid]
	r.mu.Unlock()
	if !known {
		// Not a pid registered through this Reaper: either started
		// elsewhere, or already forgotten. Ignore, per spec.md §4.3
		// step 1.
		return
	}

	switch {
	case status.Stopped():
		logger.Debugf("Reaped PID %d in group %d: stopped.", pid, pgid)
		r.table.MarkStopped(pgid)
		r.observeReap("stopped")
		r.notifyAwaiters(pgid, Transition{Stopped: true})

	case status.Continued():
		// Nothing to report: a continued process is Running again,
		// which is already the state bg/fg set before sending SIGCONT.

	case status.Exited() || status.Signaled():
		logger.Debugf("Reaped PID %d in group %d: exited.", pid, pgid)
		r.mu.Lock()
		delete(r.pidPGID, pid)
		r.pending[pgid]--
		done := r.pending[pgid] <= 0
		if done {
			delete(r.pending, pgid)
		}
		r.mu.Unlock()
		if done {
			r.table.MarkExited(pgid)
			r.observeReap("exited")
			r.notifyAwaiters(pgid, Transition{Stopped: false})
		}

	default:
		logger.Debugf("Reaped PID %d in group %d: unrecognized status %v.", pid, pgid, status)
	}
}

func (r *Reaper) observeReap(result string) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.ObserveReap(result)
	r.Metrics.SetActive(r.table.ActiveCount())
}
