package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/telemetry"
)

const defaultWriteTimeout = 10 * time.Second

// Store — часть хранилища, которую использует сериализатор.
type Store interface {
	LoadLog(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error)
	SaveLog(ctx context.Context, id uuid.UUID, entries []domain.LogEntry) error
	LoadArtifacts(ctx context.Context, id uuid.UUID) (domain.Artifacts, error)
	SaveArtifacts(ctx context.Context, id uuid.UUID, artifacts domain.Artifacts) error
}

// AppendHook вызывается после успешной записи строки журнала.
// Вызовы для одного run идут последовательно в порядке записи.
type AppendHook func(runID uuid.UUID, entry domain.LogEntry)

// Config — конфигурация Serializer.
type Config struct {
	Store        Store
	OnAppend     AppendHook
	WriteTimeout time.Duration // таймаут одной операции (default: 10s)
	Logger       *slog.Logger
}

// Serializer — почтовый ящик на run для журнала и манифеста.
type Serializer struct {
	store        Store
	onAppend     AppendHook
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	queues map[uuid.UUID][]*op
	active map[uuid.UUID]bool
	closed bool
	wg     sync.WaitGroup
}

type op struct {
	apply func(ctx context.Context) error
	after func()
	done  chan error
}

// New создаёт Serializer.
func New(cfg Config) *Serializer {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Serializer{
		store:        cfg.Store,
		onAppend:     cfg.OnAppend,
		writeTimeout: timeout,
		logger:       logger,
		queues:       make(map[uuid.UUID][]*op),
		active:       make(map[uuid.UUID]bool),
	}
}

// Append ставит запись журнала в очередь run.
// Канал получает nil после записи или ошибку.
func (s *Serializer) Append(runID uuid.UUID, entry domain.LogEntry) <-chan error {
	var hook AppendHook
	o := &op{
		apply: func(ctx context.Context) error {
			entries, err := s.store.LoadLog(ctx, runID)
			if err != nil {
				return fmt.Errorf("load log: %w", err)
			}
			if err := s.store.SaveLog(ctx, runID, append(entries, entry)); err != nil {
				return fmt.Errorf("save log: %w", err)
			}
			return nil
		},
	}
	o.after = func() {
		if hook != nil {
			hook(runID, entry)
		}
	}

	s.mu.Lock()
	hook = s.onAppend
	s.mu.Unlock()

	return s.submit(runID, o)
}

// UpdateArtifacts ставит изменение манифеста в очередь run.
func (s *Serializer) UpdateArtifacts(runID uuid.UUID, fn func(a *domain.Artifacts)) <-chan error {
	return s.submit(runID, &op{
		apply: func(ctx context.Context) error {
			artifacts, err := s.store.LoadArtifacts(ctx, runID)
			if err != nil {
				return fmt.Errorf("load artifacts: %w", err)
			}
			fn(&artifacts)
			if err := s.store.SaveArtifacts(ctx, runID, artifacts); err != nil {
				return fmt.Errorf("save artifacts: %w", err)
			}
			return nil
		},
	})
}

// Sync ждёт, пока все операции run, поставленные до вызова, будут обработаны.
func (s *Serializer) Sync(ctx context.Context, runID uuid.UUID) error {
	return Wait(ctx, s.submit(runID, &op{apply: func(context.Context) error { return nil }}))
}

// Close отклоняет новые операции и ждёт обработки уже поставленных.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait ждёт сигнал завершения операции или отмену контекста.
func Wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) submit(runID uuid.UUID, o *op) <-chan error {
	o.done = make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		o.done <- ErrClosed
		return o.done
	}
	s.queues[runID] = append(s.queues[runID], o)
	start := !s.active[runID]
	if start {
		s.active[runID] = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if start {
		go s.drain(runID)
	}
	return o.done
}

// drain обрабатывает очередь run, пока она не опустеет.
func (s *Serializer) drain(runID uuid.UUID) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		queue := s.queues[runID]
		if len(queue) == 0 {
			delete(s.queues, runID)
			delete(s.active, runID)
			s.mu.Unlock()
			return
		}
		next := queue[0]
		queue[0] = nil
		s.queues[runID] = queue[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := next.apply(ctx)
		cancel()

		if err != nil {
			s.fail(runID, next, err)
			return
		}
		if next.after != nil {
			next.after()
		}
		next.done <- nil
	}
}

// fail отклоняет операцию и все ожидающие за ней.
func (s *Serializer) fail(runID uuid.UUID, failed *op, err error) {
	s.mu.Lock()
	rest := s.queues[runID]
	delete(s.queues, runID)
	delete(s.active, runID)
	s.mu.Unlock()

	telemetry.RunLogFailures.Inc()
	s.logger.Error("run log write failed",
		"run_id", runID,
		"error", err,
		"rejected", len(rest),
	)

	failed.done <- err
	for _, o := range rest {
		o.done <- fmt.Errorf("%w: %v", ErrAborted, err)
	}
}
