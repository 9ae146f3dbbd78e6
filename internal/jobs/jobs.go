// Package jobs implements the JobTable: the in-memory registry of
// backgrounded and stopped pipelines described in spec.md §3 and §4.2.
// It is touched from two contexts — the Controller (main thread) and the
// Reaper (a goroutine fed by signal.Notify) — so every mutation goes
// through the table's mutex; the Reaper only ever downgrades a Job's
// state, never allocates or frees a slot, matching the ownership split in
// spec.md §5.
package jobs

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rajin-khan/cash/internal/shellerr"
)

// State is the lifecycle state of a tracked Job.
type State string

const (
	Running State = "Running"
	Stopped State = "Stopped"
	Done    State = "Done"
)

// DefaultCapacity is MAX_JOBS from spec.md §3: the bounded size of the
// table before further background launches are refused.
const DefaultCapacity = 32

// Job is a tracked pipeline instance.
type Job struct {
	JID         int
	PGID        int
	State       State
	CommandText string
	Notified    bool
}

// Table is a bounded, thread-safe registry of Jobs, indexed by both PGID
// and JID.
type Table struct {
	mu       sync.Mutex
	capacity int
	nextJID  int
	byPGID   map[int]*Job
}

// NewTable returns an empty Table with the given capacity (<= 0 means
// DefaultCapacity).
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		capacity: capacity,
		nextJID:  1,
		byPGID:   make(map[int]*Job),
	}
}

// activeCount returns the number of slots occupied by non-Done jobs.
// Caller must hold t.mu.
func (t *Table) activeCount() int {
	n := 0
	for _, j := range t.byPGID {
		if j.State != Done {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of non-Done jobs currently tracked, for
// the introspection API's cash_jobs_active gauge.
func (t *Table) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeCount()
}

// Add registers a new Job for pgid with the given display text and
// initial state, returning its freshly allocated jid. It fails with
// JobsFull if the table has no free slots.
func (t *Table) Add(pgid int, commandText string, state State) (int, error) {
	if pgid <= 0 {
		return 0, fmt.Errorf("internal error: invalid pgid %d", pgid)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeCount() >= t.capacity {
		return 0, shellerr.New(shellerr.JobsFull, "job table is full (capacity %d)", t.capacity)
	}

	jid := t.nextJID
	t.nextJID++

	job := &Job{
		JID:         jid,
		PGID:        pgid,
		State:       state,
		CommandText: commandText,
		Notified:    state == Running,
	}
	t.byPGID[pgid] = job
	return jid, nil
}

// Remove deletes the job tracked for pgid, if any.
func (t *Table) Remove(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPGID, pgid)
}

// FindByPGID returns a copy of the job tracked for pgid, and whether it
// was found.
func (t *Table) FindByPGID(pgid int) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byPGID[pgid]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// FindByJID returns a copy of the job with the given jid, and whether it
// was found.
func (t *Table) FindByJID(jid int) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.byPGID {
		if j.JID == jid {
			return *j, true
		}
	}
	return Job{}, false
}

// SetState sets the job's state directly; used by the Controller for
// fg/bg transitions (mark_running on bg, etc). notified controls whether
// this transition is considered already-seen by the user.
func (t *Table) SetState(pgid int, state State, notified bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byPGID[pgid]
	if !ok {
		return false
	}
	j.State = state
	j.Notified = notified
	return true
}

// MarkExited marks the job for pgid as Done and unnotified. Called by the
// Reaper. It is a no-op if pgid is not tracked (a foreground process
// reaped elsewhere, or a process whose job was already removed).
func (t *Table) MarkExited(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byPGID[pgid]
	if !ok {
		return
	}
	j.State = Done
	j.Notified = false
}

// MarkStopped marks the job for pgid as Stopped and unnotified.
// Idempotent if the job is already Stopped and unnotified. Called by the
// Reaper.
func (t *Table) MarkStopped(pgid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byPGID[pgid]
	if !ok {
		return
	}
	j.State = Stopped
	j.Notified = false
}

// Snapshot returns a stable, JID-ordered copy of every tracked job, for
// `jobs` and the introspection API.
func (t *Table) Snapshot() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, 0, len(t.byPGID))
	for _, j := range t.byPGID {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JID < out[k].JID })
	return out
}

// DrainNotifications prints one line per job whose Notified flag is
// false, per spec.md §4.2 and §6's output conventions, marks it
// notified, and removes Done entries afterward.
func DrainNotifications(t *Table, w io.Writer) {
	t.mu.Lock()
	pending := make([]*Job, 0)
	for _, j := range t.byPGID {
		if !j.Notified {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool { return pending[i].JID < pending[k].JID })

	type removal struct{ pgid int }
	var toRemove []removal
	for _, j := range pending {
		switch j.State {
		case Done:
			fmt.Fprintf(w, "[%d] Done\t%s\n", j.JID, j.CommandText)
			toRemove = append(toRemove, removal{j.PGID})
		case Stopped:
			fmt.Fprintf(w, "[%d] Stopped\t%s\n", j.JID, j.CommandText)
		}
		j.Notified = true
	}
	for _, r := range toRemove {
		delete(t.byPGID, r.pgid)
	}
	t.mu.Unlock()
}

// ParseJobSpec parses a "%<jid>" argument as used by fg/bg, returning the
// jid or InvalidJobSpec.
func ParseJobSpec(spec string) (int, error) {
	if len(spec) < 2 || spec[0] != '%' {
		return 0, shellerr.New(shellerr.InvalidJobSpec, "expected %%<jid>, got %q", spec)
	}
	digits := spec[1:]
	var jid int
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, shellerr.New(shellerr.InvalidJobSpec, "expected %%<jid>, got %q", spec)
		}
		jid = jid*10 + int(r-'0')
	}
	if jid <= 0 {
		return 0, shellerr.New(shellerr.InvalidJobSpec, "expected %%<jid>, got %q", spec)
	}
	return jid, nil
}
