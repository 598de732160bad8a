package locktable

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of simultaneously locked resources.
const DefaultCapacity = 65535

// Owner identifies the holder of a lock. Sessions use one token for their lifetime.
type Owner string

// Result reports the outcome of an acquisition attempt.
type Result int

const (
	// Granted means the caller now holds the resource.
	Granted Result = iota + 1
	// WouldBlock means the resource stayed busy until the timeout or cancellation.
	WouldBlock
	// TableFull means the resource had no entry and the table is at capacity.
	TableFull
)

func (r Result) String() string {
	switch r {
	case Granted:
		return "granted"
	case WouldBlock:
		return "would_block"
	case TableFull:
		return "table_full"
	default:
		return "unknown"
	}
}

var (
	// ErrNotOwner is returned when a release names an owner that does not hold the resource.
	ErrNotOwner = errors.New("lock not held by owner")
	// ErrNotLocked is returned when releasing a resource without an entry.
	ErrNotLocked = errors.New("resource not locked")
	// ErrReentrant is returned when an owner acquires a resource it already holds or awaits.
	ErrReentrant = errors.New("re-entrant acquisition")
	// ErrInvalid is returned for empty resource identifiers or owners.
	ErrInvalid = errors.New("invalid lock request")
)

type waiter struct {
	owner Owner
	ready chan struct{}
}

type entry struct {
	holder  Owner
	waiters []*waiter
}

// Table is a bounded set of exclusive, FIFO-fair resource locks. Every
// mutation happens under one table-wide mutex; callers do their I/O after
// Acquire returns and outside that mutex.
type Table struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
}

// Info describes one locked resource.
type Info struct {
	Resource string
	Holder   Owner
	Waiters  int
}

// New creates a table holding at most capacity entries. Non-positive values use DefaultCapacity.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{entries: make(map[string]*entry), capacity: capacity}
}

// Acquire takes exclusive ownership of resource for owner. A busy resource
// is waited on in arrival order for up to timeout; a non-positive timeout
// waits until ctx is done. On cancellation Acquire returns WouldBlock
// together with ctx.Err().
func (t *Table) Acquire(ctx context.Context, resource string, owner Owner, timeout time.Duration) (Result, error) {
	if resource == "" || owner == "" {
		return 0, ErrInvalid
	}

	t.mu.Lock()
	e, ok := t.entries[resource]
	if !ok {
		if len(t.entries) >= t.capacity {
			t.mu.Unlock()
			return TableFull, nil
		}
		t.entries[resource] = &entry{holder: owner}
		t.mu.Unlock()
		return Granted, nil
	}
	if e.holder == owner || e.awaits(owner) {
		t.mu.Unlock()
		return 0, ErrReentrant
	}
	w := &waiter{owner: owner, ready: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	t.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-w.ready:
		return Granted, nil
	case <-expired:
		return t.abandon(resource, w, nil)
	case <-ctx.Done():
		return t.abandon(resource, w, ctx.Err())
	}
}

// abandon withdraws a waiter. A grant that raced the timeout wins.
func (t *Table) abandon(resource string, w *waiter, cause error) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-w.ready:
		return Granted, nil
	default:
	}
	if e, ok := t.entries[resource]; ok {
		e.remove(w)
	}
	return WouldBlock, cause
}

// Release gives up ownership. The longest-waiting owner, if any, becomes the
// holder; otherwise the entry is removed.
func (t *Table) Release(resource string, owner Owner) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[resource]
	if !ok {
		return ErrNotLocked
	}
	if e.holder != owner {
		return ErrNotOwner
	}
	t.handoff(resource, e)
	return nil
}

// ReleaseAll drops every lock owner holds and withdraws its pending waits.
// It returns the number of locks released.
func (t *Table) ReleaseAll(owner Owner) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	released := 0
	for resource, e := range t.entries {
		for _, w := range e.waiters {
			if w.owner == owner {
				e.remove(w)
				break
			}
		}
		if e.holder == owner {
			t.handoff(resource, e)
			released++
		}
	}
	return released
}

func (t *Table) handoff(resource string, e *entry) {
	if len(e.waiters) == 0 {
		delete(t.entries, resource)
		return
	}
	next := e.waiters[0]
	e.waiters[0] = nil
	e.waiters = e.waiters[1:]
	e.holder = next.owner
	close(next.ready)
}

// Holder returns the current owner of resource.
func (t *Table) Holder(resource string) (Owner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[resource]
	if !ok {
		return "", false
	}
	return e.holder, true
}

// Len reports the number of entries in use.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Cap reports the configured capacity.
func (t *Table) Cap() int {
	return t.capacity
}

// Snapshot lists locked resources sorted by identifier.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	out := make([]Info, 0, len(t.entries))
	for resource, e := range t.entries {
		out = append(out, Info{Resource: resource, Holder: e.holder, Waiters: len(e.waiters)})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

func (e *entry) awaits(owner Owner) bool {
	for _, w := range e.waiters {
		if w.owner == owner {
			return true
		}
	}
	return false
}

func (e *entry) remove(target *waiter) {
	for i, w := range e.waiters {
		if w == target {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}
