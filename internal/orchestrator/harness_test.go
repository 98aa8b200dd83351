package orchestrator

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/capability/dryrun"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/mq"
	"github.com/shaiso/Montage/internal/pipeline"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
	"github.com/shaiso/Montage/internal/runlog"
)

// stepRecorder — Interceptor, который записывает начатые шаги,
// внедряет сбой и умеет задержать шаг до сигнала.
type stepRecorder struct {
	mu      sync.Mutex
	steps   []domain.Step
	failAt  domain.Step
	delay   time.Duration
	blockAt domain.Step
	entered chan struct{}
	release chan struct{}
}

func (r *stepRecorder) Intercept(ctx context.Context, step domain.Step) error {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	failAt, delay, blockAt := r.failAt, r.delay, r.blockAt
	r.mu.Unlock()

	if blockAt == step {
		r.entered <- struct{}{}
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failAt == step {
		return capability.ErrInjected
	}
	return nil
}

func (r *stepRecorder) setFailAt(step domain.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAt = step
}

func (r *stepRecorder) setBlockAt(step domain.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockAt = step
}

func (r *stepRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
}

func (r *stepRecorder) started() []domain.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

// trackingExecutor считает runs, одновременно выполняющие шаги.
type trackingExecutor struct {
	inner Executor

	mu        sync.Mutex
	active    map[uuid.UUID]int
	maxActive int
	order     []uuid.UUID
}

func (e *trackingExecutor) Execute(ctx context.Context, run *domain.Run, step domain.Step) (*pipeline.StepResult, error) {
	e.mu.Lock()
	e.active[run.ID]++
	e.maxActive = max(e.maxActive, len(e.active))
	if !slices.Contains(e.order, run.ID) {
		e.order = append(e.order, run.ID)
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.active[run.ID]--; e.active[run.ID] == 0 {
			delete(e.active, run.ID)
		}
		e.mu.Unlock()
	}()
	return e.inner.Execute(ctx, run, step)
}

func (e *trackingExecutor) Invalidate(ctx context.Context, run *domain.Run, steps []domain.Step) error {
	return e.inner.Invalidate(ctx, run, steps)
}

func (e *trackingExecutor) snapshot() ([]uuid.UUID, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.order), e.maxActive
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []mq.RunFinishedPayload
}

func (n *fakeNotifier) PublishRunFinished(_ context.Context, p mq.RunFinishedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return nil
}

func (n *fakeNotifier) all() []mq.RunFinishedPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.payloads)
}

// gatedStore может задержать чтение run после снимка состояния.
type gatedStore struct {
	*repo.MemoryRunRepo

	mu      sync.Mutex
	armed   bool
	paused  chan struct{}
	proceed chan struct{}
}

func newGatedStore(store *repo.MemoryRunRepo) *gatedStore {
	return &gatedStore{
		MemoryRunRepo: store,
		paused:        make(chan struct{}, 1),
		proceed:       make(chan struct{}),
	}
}

// pauseNextRead задерживает следующий GetByID до вызова resume.
func (s *gatedStore) pauseNextRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *gatedStore) resume() {
	close(s.proceed)
}

func (s *gatedStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := s.MemoryRunRepo.GetByID(ctx, id)

	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()

	if armed {
		s.paused <- struct{}{}
		<-s.proceed
	}
	return run, err
}

type harness struct {
	orch        *Orchestrator
	store       *repo.MemoryRunRepo
	gate        *gatedStore
	provider    *dryrun.Provider
	rec         *stepRecorder
	exec        *trackingExecutor
	ws          *pipeline.Workspace
	broadcaster *broadcast.Broadcaster
	notifier    *fakeNotifier
}

func newHarness(t *testing.T, opts dryrun.Options) *harness {
	t.Helper()

	store := repo.NewMemoryRunRepo()
	b := broadcast.New(broadcast.Config{Snapshot: store.GetByID})
	ser := runlog.New(runlog.Config{
		Store: store,
		OnAppend: func(runID uuid.UUID, entry domain.LogEntry) {
			b.Publish(runID, broadcast.LogEvent(runID, entry))
		},
	})
	t.Cleanup(ser.Close)
	t.Cleanup(b.Stop)

	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	provider := dryrun.New(opts)
	rec := &stepRecorder{entered: make(chan struct{}, 1), release: make(chan struct{})}
	caps := provider.Set()
	caps.Interceptor = chainInterceptor{provider, rec}

	exec := &trackingExecutor{
		inner: pipeline.New(pipeline.Config{
			Caps:      caps,
			Workspace: ws,
			Journal:   ser,
			Output:    capability.OutputSpec{Width: 1080, Height: 1920, FPS: 30},
		}),
		active: make(map[uuid.UUID]int),
	}

	notifier := &fakeNotifier{}
	gate := newGatedStore(store)
	orch := New(Config{
		Store:        gate,
		Queue:        queue.New(queue.Config{}),
		Executor:     exec,
		Journal:      ser,
		Broadcaster:  b,
		Notifier:     notifier,
		PollInterval: time.Hour,
	})

	return &harness{
		orch:        orch,
		store:       store,
		gate:        gate,
		provider:    provider,
		rec:         rec,
		exec:        exec,
		ws:          ws,
		broadcaster: b,
		notifier:    notifier,
	}
}

// chainInterceptor вызывает перехватчики по очереди.
type chainInterceptor []capability.Interceptor

func (c chainInterceptor) Intercept(ctx context.Context, step domain.Step) error {
	for _, i := range c {
		if err := i.Intercept(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.orch.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.orch.Stop()
	})
}

func (h *harness) create(t *testing.T, autoStart bool) *domain.Run {
	t.Helper()
	run, err := h.orch.CreateRun(context.Background(), testPlan(), autoStart)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func (h *harness) get(t *testing.T, id uuid.UUID) *domain.Run {
	t.Helper()
	run, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return run
}

// waitStatus ждёт, пока run перейдёт в статус want, и возвращает его.
func (h *harness) waitStatus(t *testing.T, id uuid.UUID, want domain.RunStatus) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run := h.get(t, id)
		if run.Status == want {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s: status %s (step %s, error %q), want %s",
				id, run.Status, run.CurrentStep, run.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitIdle ждёт освобождения слота.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		s := h.orch.QueueSnapshot()
		if s.Holder == nil && len(s.Waiting) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue not idle: %+v", s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testPlan() domain.Plan {
	return domain.Plan{
		Title: "three scenes",
		Voice: "narrator",
		Scenes: []domain.Scene{
			{Narration: "The fox wakes up early", Visual: "fox in a den", Motion: domain.MotionZoomIn, DurationSec: 3},
			{Narration: "It runs across the field", Visual: "open field", Transition: domain.TransitionFade, DurationSec: 2},
			{Narration: "And rests at sunset", Visual: "sunset over hills", Motion: domain.MotionPanRight, DurationSec: 3},
		},
	}
}
