package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// recorder — launcher, который запоминает порядок запуска и ждёт
// разрешения завершиться.
type recorder struct {
	q       *Queue
	mu      sync.Mutex
	order   []uuid.UUID
	started chan uuid.UUID
	finish  chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newRecorder(q *Queue) *recorder {
	r := &recorder{
		q:       q,
		started: make(chan uuid.UUID, 100),
		finish:  make(chan struct{}),
	}
	q.SetLauncher(r.launch)
	return r
}

func (r *recorder) launch(id uuid.UUID) {
	n := r.active.Add(1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
	r.started <- id

	<-r.finish
	r.active.Add(-1)
	_ = r.q.Release(id)
}

func waitStarted(t *testing.T, r *recorder) uuid.UUID {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for launch")
	}
	return uuid.Nil
}

func TestQueue_FIFOAndSingleHolder(t *testing.T) {
	q := New(Config{})
	r := newRecorder(q)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	posA, _ := q.Enqueue(a)
	if posA != 0 {
		t.Errorf("first run should get the slot, position %d", posA)
	}
	if got := waitStarted(t, r); got != a {
		t.Fatalf("expected A to start, got %s", got)
	}

	posB, _ := q.Enqueue(b)
	posC, _ := q.Enqueue(c)
	if posB != 1 || posC != 2 {
		t.Errorf("expected positions 1 and 2, got %d and %d", posB, posC)
	}
	if q.Holder() != a {
		t.Error("A must hold the slot")
	}

	r.finish <- struct{}{}
	if got := waitStarted(t, r); got != b {
		t.Fatalf("expected B after A, got %s", got)
	}
	r.finish <- struct{}{}
	if got := waitStarted(t, r); got != c {
		t.Fatalf("expected C after B, got %s", got)
	}
	r.finish <- struct{}{}
	q.Wait()

	if m := r.maxActive.Load(); m != 1 {
		t.Errorf("expected at most 1 concurrent run, got %d", m)
	}
	if q.Holder() != uuid.Nil {
		t.Error("slot should be free")
	}
}

func TestQueue_SingleConcurrencyUnderLoad(t *testing.T) {
	q := New(Config{})
	r := newRecorder(q)
	close(r.finish)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(uuid.New())
		}()
	}
	wg.Wait()

	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.started:
		case <-deadline:
			t.Fatalf("only %d of %d runs launched", i, n)
		}
	}
	q.Wait()

	if m := r.maxActive.Load(); m != 1 {
		t.Errorf("expected at most 1 concurrent run, got %d", m)
	}
}

func TestQueue_RemoveWaiter(t *testing.T) {
	q := New(Config{})
	r := newRecorder(q)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	q.Enqueue(a)
	waitStarted(t, r)
	q.Enqueue(b)
	q.Enqueue(c)

	if !q.Remove(b) {
		t.Fatal("expected B to be removed")
	}
	if q.Remove(a) {
		t.Error("holder must not be removable")
	}
	if q.Position(c) != 1 {
		t.Errorf("C should move to position 1, got %d", q.Position(c))
	}

	r.finish <- struct{}{}
	if got := waitStarted(t, r); got != c {
		t.Errorf("expected C after removal of B, got %s", got)
	}
	r.finish <- struct{}{}
	q.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if id == b {
			t.Error("removed run was launched")
		}
	}
}

func TestQueue_EnqueueFront(t *testing.T) {
	q := New(Config{})
	r := newRecorder(q)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	q.Enqueue(a)
	waitStarted(t, r)
	q.Enqueue(b)
	q.EnqueueFront(c)

	snap := q.Snapshot()
	if snap.Holder == nil || *snap.Holder != a {
		t.Fatalf("unexpected holder %v", snap.Holder)
	}
	if len(snap.Waiting) != 2 || snap.Waiting[0] != c || snap.Waiting[1] != b {
		t.Errorf("unexpected waiters %v", snap.Waiting)
	}

	close(r.finish)
	q.Wait()
}

func TestQueue_Errors(t *testing.T) {
	q := New(Config{})
	if _, err := q.Enqueue(uuid.New()); !errors.Is(err, ErrNoLauncher) {
		t.Errorf("expected ErrNoLauncher, got %v", err)
	}

	r := newRecorder(q)
	a := uuid.New()
	q.Enqueue(a)
	waitStarted(t, r)

	if _, err := q.Enqueue(a); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}
	if err := q.Release(uuid.New()); !errors.Is(err, ErrNotHolder) {
		t.Errorf("expected ErrNotHolder, got %v", err)
	}

	close(r.finish)
	q.Wait()
}
