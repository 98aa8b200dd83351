package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/mq"
	"github.com/shaiso/Montage/internal/pipeline"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultStoreTimeout = 10 * time.Second
)

// Executor выполняет шаги pipeline.
type Executor interface {
	Execute(ctx context.Context, run *domain.Run, step domain.Step) (*pipeline.StepResult, error)
	Invalidate(ctx context.Context, run *domain.Run, steps []domain.Step) error
}

// Journal — журнал run (runlog.Serializer).
type Journal interface {
	Append(runID uuid.UUID, entry domain.LogEntry) <-chan error
	Sync(ctx context.Context, runID uuid.UUID) error
}

// Notifier сообщает внешним потребителям о финальном статусе run.
type Notifier interface {
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store       repo.RunStore
	Queue       *queue.Queue
	Executor    Executor
	Journal     Journal
	Broadcaster *broadcast.Broadcaster

	// MQ (опционально): без Conn нет consumer run.requested,
	// без Notifier не публикуется run.finished.
	Conn     *mq.Connection
	Notifier Notifier

	PollInterval time.Duration // интервал polling очереди в хранилище (default: 10s)
	StoreTimeout time.Duration // таймаут записи состояния (default: 10s)

	Logger *slog.Logger
}

// Orchestrator управляет выполнением runs.
type Orchestrator struct {
	store       repo.RunStore
	queue       *queue.Queue
	executor    Executor
	journal     Journal
	broadcaster *broadcast.Broadcaster
	conn        *mq.Connection
	notifier    Notifier

	pollInterval time.Duration
	storeTimeout time.Duration

	locks *runLocks

	// cancels — запрошенные отмены выполняемых runs.
	mu      sync.Mutex
	cancels map[uuid.UUID]bool
	runCtx  context.Context

	consumer *mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// New создаёт Orchestrator и привязывает к нему очередь рендера.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		store:        cfg.Store,
		queue:        cfg.Queue,
		executor:     cfg.Executor,
		journal:      cfg.Journal,
		broadcaster:  cfg.Broadcaster,
		conn:         cfg.Conn,
		notifier:     cfg.Notifier,
		pollInterval: pollInterval,
		storeTimeout: storeTimeout,
		locks:        newRunLocks(),
		cancels:      make(map[uuid.UUID]bool),
		runCtx:       context.Background(),
		logger:       logger,
	}
	o.queue.SetLauncher(o.launch)
	return o
}

// Start восстанавливает состояние после рестарта и запускает
// consumer run.requested и polling.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	o.logger.Info("starting orchestrator", "poll_interval", o.pollInterval)

	if err := o.Recover(ctx); err != nil {
		cancel()
		return err
	}

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsRequested,
			Handler:  o.handleRunRequested,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("run consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает приём запросов и ждёт выполняемый run.
// Прерванный run остаётся running и будет возвращён в работу при старте.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}

	o.wg.Wait()
	o.queue.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop подхватывает runs, поставленные в очередь в обход API
// (например, записанные в хранилище другим сервисом).
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll ставит в очередь runs, которые ждут слот в хранилище, но не в памяти.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.store.ListByStatus(ctx, domain.RunStatusQueued)
	if err != nil {
		o.logger.Error("failed to list queued runs", "error", err)
		return
	}

	for i := range runs {
		run := &runs[i]
		if run.QueuedAt == nil || o.queue.Contains(run.ID) {
			continue
		}
		if _, err := o.enqueue(run.ID, false); err != nil {
			o.logger.Error("failed to enqueue run from poll", "run_id", run.ID, "error", err)
			continue
		}
		o.logger.Info("picked up queued run", "run_id", run.ID)
	}
}

// handleRunRequested обрабатывает run.requested.
func (o *Orchestrator) handleRunRequested(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse run.requested payload", "error", err)
		return err
	}

	o.logger.Debug("received run.requested event", "run_id", payload.RunID)

	if _, _, err := o.StartRun(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrInvalidState) {
			o.logger.Warn("run.requested ignored", "run_id", payload.RunID, "reason", err)
			return nil
		}
		return err
	}
	return nil
}

// enqueue ставит run в очередь. Повторная постановка не ошибка.
func (o *Orchestrator) enqueue(runID uuid.UUID, front bool) (int, error) {
	var pos int
	var err error
	if front {
		pos, err = o.queue.EnqueueFront(runID)
	} else {
		pos, err = o.queue.Enqueue(runID)
	}
	if errors.Is(err, queue.ErrAlreadyQueued) {
		return max(o.queue.Position(runID), 0), nil
	}
	return pos, err
}

func (o *Orchestrator) executionContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runCtx
}

// requestCancel ставит флаг отмены, который проверяется перед шагом.
func (o *Orchestrator) requestCancel(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[runID] = true
}

// cancelRequested проверяет флаг отмены.
func (o *Orchestrator) cancelRequested(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels[runID]
}

func (o *Orchestrator) clearCancel(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, runID)
}
