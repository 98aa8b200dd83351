package runlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/repo"
)

func newRun(t *testing.T, store *repo.MemoryRunRepo) uuid.UUID {
	t.Helper()
	run := domain.NewRun(domain.Plan{Scenes: []domain.Scene{{Narration: "n", Visual: "v", DurationSec: 1}}})
	if err := store.Create(context.Background(), run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return run.ID
}

func TestSerializer_ConcurrentAppendsAllPersisted(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	runID := newRun(t, store)
	s := New(Config{Store: store})
	defer s.Close()

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := domain.NewLogEntry(domain.LogLevelInfo, domain.StepImageSynthesis, fmt.Sprintf("entry %d", i))
			errs <- Wait(context.Background(), s.Append(runID, entry))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	log, err := store.LoadLog(context.Background(), runID)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if len(log) != n {
		t.Errorf("expected %d entries, got %d", n, len(log))
	}

	seen := make(map[string]bool)
	for _, e := range log {
		if seen[e.Message] {
			t.Errorf("duplicate entry %q", e.Message)
		}
		seen[e.Message] = true
	}
}

func TestSerializer_HookFollowsWriteOrder(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	runID := newRun(t, store)

	var mu sync.Mutex
	var hooked []string
	s := New(Config{
		Store: store,
		OnAppend: func(_ uuid.UUID, e domain.LogEntry) {
			mu.Lock()
			hooked = append(hooked, e.Message)
			mu.Unlock()
		},
	})
	defer s.Close()

	var last <-chan error
	for i := 0; i < 20; i++ {
		last = s.Append(runID, domain.NewLogEntry(domain.LogLevelInfo, "", fmt.Sprintf("m%d", i)))
	}
	if err := Wait(context.Background(), last); err != nil {
		t.Fatalf("append: %v", err)
	}

	log, _ := store.LoadLog(context.Background(), runID)
	mu.Lock()
	defer mu.Unlock()
	if len(hooked) != len(log) {
		t.Fatalf("hook saw %d entries, store has %d", len(hooked), len(log))
	}
	for i := range log {
		if hooked[i] != log[i].Message {
			t.Errorf("position %d: hook %q, store %q", i, hooked[i], log[i].Message)
		}
	}
}

func TestSerializer_ArtifactsMerge(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	runID := newRun(t, store)
	s := New(Config{Store: store})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-s.UpdateArtifacts(runID, func(a *domain.Artifacts) {
				a.SetImage(i, fmt.Sprintf("images/scene-%03d.png", i+1))
			})
		}(i)
	}
	wg.Wait()

	artifacts, _ := store.LoadArtifacts(context.Background(), runID)
	if len(artifacts.Images) != 10 {
		t.Fatalf("expected 10 images, got %v", artifacts.Images)
	}
	for i, img := range artifacts.Images {
		if img == "" {
			t.Errorf("image %d lost in concurrent merge", i)
		}
	}
}

// failingStore падает на SaveLog после заданного числа записей.
type failingStore struct {
	*repo.MemoryRunRepo
	mu      sync.Mutex
	allowed int
	block   chan struct{}
}

func (f *failingStore) SaveLog(ctx context.Context, id uuid.UUID, entries []domain.LogEntry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowed == 0 {
		return errors.New("disk full")
	}
	f.allowed--
	return f.MemoryRunRepo.SaveLog(ctx, id, entries)
}

func TestSerializer_FailureRejectsQueued(t *testing.T) {
	mem := repo.NewMemoryRunRepo()
	runID := newRun(t, mem)
	store := &failingStore{MemoryRunRepo: mem, allowed: 0, block: make(chan struct{})}
	s := New(Config{Store: store})
	defer s.Close()

	first := s.Append(runID, domain.NewLogEntry(domain.LogLevelInfo, "", "first"))
	second := s.Append(runID, domain.NewLogEntry(domain.LogLevelInfo, "", "second"))
	third := s.Append(runID, domain.NewLogEntry(domain.LogLevelInfo, "", "third"))
	close(store.block)

	if err := Wait(context.Background(), first); err == nil || errors.Is(err, ErrAborted) {
		t.Errorf("first: expected write error, got %v", err)
	}
	for _, ch := range []<-chan error{second, third} {
		if err := Wait(context.Background(), ch); !errors.Is(err, ErrAborted) {
			t.Errorf("expected ErrAborted, got %v", err)
		}
	}

	// после сбоя очередь run снова принимает записи
	store.mu.Lock()
	store.allowed = 1
	store.mu.Unlock()
	if err := Wait(context.Background(), s.Append(runID, domain.NewLogEntry(domain.LogLevelInfo, "", "again"))); err != nil {
		t.Errorf("append after failure: %v", err)
	}
}

func TestSerializer_RunsIndependent(t *testing.T) {
	mem := repo.NewMemoryRunRepo()
	slow := newRun(t, mem)
	fast := newRun(t, mem)

	block := make(chan struct{})
	store := &blockingStore{MemoryRunRepo: mem, blockRun: slow, block: block}
	s := New(Config{Store: store})
	defer s.Close()

	slowDone := s.Append(slow, domain.NewLogEntry(domain.LogLevelInfo, "", "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Wait(ctx, s.Append(fast, domain.NewLogEntry(domain.LogLevelInfo, "", "fast"))); err != nil {
		t.Errorf("fast run blocked by slow run: %v", err)
	}

	close(block)
	if err := Wait(context.Background(), slowDone); err != nil {
		t.Errorf("slow append: %v", err)
	}
}

type blockingStore struct {
	*repo.MemoryRunRepo
	blockRun uuid.UUID
	block    chan struct{}
}

func (b *blockingStore) SaveLog(ctx context.Context, id uuid.UUID, entries []domain.LogEntry) error {
	if id == b.blockRun {
		<-b.block
	}
	return b.MemoryRunRepo.SaveLog(ctx, id, entries)
}

func TestSerializer_Closed(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	runID := newRun(t, store)
	s := New(Config{Store: store})
	s.Close()

	if err := Wait(context.Background(), s.Append(runID, domain.LogEntry{})); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
