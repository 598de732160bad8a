package locktable_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shfd/internal/locktable"
)

func mustAcquire(t *testing.T, table *locktable.Table, resource string, owner locktable.Owner) {
	t.Helper()
	res, err := table.Acquire(context.Background(), resource, owner, time.Second)
	if err != nil || res != locktable.Granted {
		t.Fatalf("acquire %s by %s: result=%v err=%v", resource, owner, res, err)
	}
}

// waitForWaiters polls until resource has n queued waiters.
func waitForWaiters(t *testing.T, table *locktable.Table, resource string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, info := range table.Snapshot() {
			if info.Resource == resource && info.Waiters == n {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters on %s", n, resource)
}

func TestMutualExclusionUnderContention(t *testing.T) {
	table := locktable.New(16)
	var inside atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := locktable.Owner(fmt.Sprintf("worker-%d", id))
			for j := 0; j < 20; j++ {
				res, err := table.Acquire(context.Background(), "file.txt", owner, 0)
				if err != nil || res != locktable.Granted {
					t.Errorf("acquire: result=%v err=%v", res, err)
					return
				}
				if inside.Add(1) != 1 {
					violations.Add(1)
				}
				inside.Add(-1)
				if err := table.Release("file.txt", owner); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if violations.Load() != 0 {
		t.Fatalf("observed %d overlapping holders", violations.Load())
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", table.Len())
	}
}

func TestTableFullIsDistinctFromWouldBlock(t *testing.T) {
	table := locktable.New(2)
	mustAcquire(t, table, "a", "one")
	mustAcquire(t, table, "b", "one")

	res, err := table.Acquire(context.Background(), "c", "two", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != locktable.TableFull {
		t.Fatalf("expected TableFull, got %v", res)
	}
	if table.Len() > table.Cap() {
		t.Fatalf("len %d exceeds capacity %d", table.Len(), table.Cap())
	}

	// Waiting on an existing entry does not need a free slot.
	res, err = table.Acquire(context.Background(), "a", "two", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != locktable.WouldBlock {
		t.Fatalf("expected WouldBlock, got %v", res)
	}
}

func TestWaitersAreGrantedInArrivalOrder(t *testing.T) {
	table := locktable.New(4)
	mustAcquire(t, table, "file.txt", "holder")

	order := make(chan locktable.Owner, 3)
	var wg sync.WaitGroup
	for i, owner := range []locktable.Owner{"first", "second", "third"} {
		wg.Add(1)
		go func(owner locktable.Owner) {
			defer wg.Done()
			res, err := table.Acquire(context.Background(), "file.txt", owner, 0)
			if err != nil || res != locktable.Granted {
				t.Errorf("%s: result=%v err=%v", owner, res, err)
				return
			}
			order <- owner
			if err := table.Release("file.txt", owner); err != nil {
				t.Errorf("%s release: %v", owner, err)
			}
		}(owner)
		waitForWaiters(t, table, "file.txt", i+1)
	}

	if err := table.Release("file.txt", "holder"); err != nil {
		t.Fatalf("release holder: %v", err)
	}
	wg.Wait()
	close(order)

	var got []locktable.Owner
	for owner := range order {
		got = append(got, owner)
	}
	want := []locktable.Owner{"first", "second", "third"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("grant order = %v, want %v", got, want)
	}
}

func TestSecondWorkerGrantedAfterRelease(t *testing.T) {
	table := locktable.New(4)
	mustAcquire(t, table, "file.txt", "worker-1")

	granted := make(chan struct{})
	go func() {
		res, err := table.Acquire(context.Background(), "file.txt", "worker-2", 0)
		if err != nil || res != locktable.Granted {
			t.Errorf("worker-2: result=%v err=%v", res, err)
		}
		close(granted)
	}()
	waitForWaiters(t, table, "file.txt", 1)

	select {
	case <-granted:
		t.Fatal("worker-2 granted while worker-1 still holds the lock")
	default:
	}

	if err := table.Release("file.txt", "worker-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-granted:
	case <-time.After(2 * time.Second):
		t.Fatal("worker-2 was never granted")
	}
	if holder, _ := table.Holder("file.txt"); holder != "worker-2" {
		t.Fatalf("holder = %q, want worker-2", holder)
	}
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	table := locktable.New(4)
	mustAcquire(t, table, "file.txt", "tokenY")

	err := table.Release("file.txt", "tokenX")
	if !errors.Is(err, locktable.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	holder, ok := table.Holder("file.txt")
	if !ok || holder != "tokenY" {
		t.Fatalf("holder changed to %q (ok=%v)", holder, ok)
	}

	if err := table.Release("missing", "tokenY"); !errors.Is(err, locktable.ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}

func TestReentrantAcquireRejected(t *testing.T) {
	table := locktable.New(4)
	mustAcquire(t, table, "file.txt", "owner")

	res, err := table.Acquire(context.Background(), "file.txt", "owner", time.Second)
	if !errors.Is(err, locktable.ErrReentrant) {
		t.Fatalf("expected ErrReentrant, got result=%v err=%v", res, err)
	}
	if res == locktable.Granted {
		t.Fatal("re-entrant acquisition must not be granted")
	}
}

func TestCancelledWaiterLeavesQueue(t *testing.T) {
	table := locktable.New(4)
	mustAcquire(t, table, "file.txt", "holder")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		res, err := table.Acquire(ctx, "file.txt", "waiter", 0)
		if res != locktable.WouldBlock {
			t.Errorf("expected WouldBlock, got %v", res)
		}
		done <- err
	}()
	waitForWaiters(t, table, "file.txt", 1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := table.Release("file.txt", "holder"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("expected entry removed after last release, got %d", table.Len())
	}
}

func TestReleaseAllDropsOwnerLocks(t *testing.T) {
	table := locktable.New(8)
	mustAcquire(t, table, "a", "session")
	mustAcquire(t, table, "b", "session")
	mustAcquire(t, table, "c", "other")

	if n := table.ReleaseAll("session"); n != 2 {
		t.Fatalf("released %d, want 2", n)
	}
	if table.Len() != 1 {
		t.Fatalf("expected only c to remain, got %v", table.Snapshot())
	}
	if _, err := table.Acquire(context.Background(), "", "x", 0); !errors.Is(err, locktable.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty resource, got %v", err)
	}
}
