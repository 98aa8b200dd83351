package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
)

// CreateRun создаёт run для утверждённого плана.
// С autoStart run сразу ставится в очередь рендера.
func (o *Orchestrator) CreateRun(ctx context.Context, plan domain.Plan, autoStart bool) (*domain.Run, error) {
	if o.IsStopped() {
		return nil, ErrOrchestratorStopped
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	run := domain.NewRun(plan)
	if err := o.store.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.note(run.ID, domain.LogLevelInfo, "", fmt.Sprintf("run created with %d scenes", len(plan.Scenes)))

	o.logger.Info("run created", "run_id", run.ID, "scenes", len(plan.Scenes), "auto_start", autoStart)

	if !autoStart {
		return run, nil
	}
	started, _, err := o.StartRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return started, nil
}

// GetRun возвращает run.
func (o *Orchestrator) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := o.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns возвращает runs, новые первыми.
func (o *Orchestrator) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return o.store.List(ctx, filter)
}

// QueueSnapshot возвращает состояние очереди рендера.
func (o *Orchestrator) QueueSnapshot() queue.Snapshot {
	return o.queue.Snapshot()
}

// Subscribe подписывает на события прогресса run.
func (o *Orchestrator) Subscribe(ctx context.Context, id uuid.UUID) (*broadcast.Subscription, error) {
	if _, err := o.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return o.broadcaster.Subscribe(ctx, id)
}

// Unsubscribe отменяет подписку.
func (o *Orchestrator) Unsubscribe(sub *broadcast.Subscription) {
	o.broadcaster.Unsubscribe(sub)
}

// StartRun ставит созданный run в очередь рендера.
// Возвращает позицию: 0 — run занял слот, N — N-й в ожидании.
// Повторный вызов для уже стоящего в очереди run возвращает его позицию.
func (o *Orchestrator) StartRun(ctx context.Context, id uuid.UUID) (*domain.Run, int, error) {
	if o.IsStopped() {
		return nil, 0, ErrOrchestratorStopped
	}

	unlock := o.locks.lock(id)
	defer unlock()

	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if run.Status != domain.RunStatusQueued {
		return nil, 0, fmt.Errorf("%w: cannot start run in status %s", ErrInvalidState, run.Status)
	}
	if pos := o.queue.Position(id); pos >= 0 {
		return run, pos, nil
	}

	if err := run.MarkQueued(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := o.store.Update(ctx, run); err != nil {
		return nil, 0, fmt.Errorf("update run: %w", err)
	}
	o.note(run.ID, domain.LogLevelInfo, "", "queued for rendering")
	o.publish(run.ID, broadcast.StatusEvent(run))

	o.clearCancel(run.ID)
	pos, err := o.enqueue(run.ID, false)
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue run: %w", err)
	}
	return run, pos, nil
}

// RetryRun повторяет failed, quality_failed или canceled run.
//
// Без fromStep выполнение продолжается с первого незавершённого шага.
// С fromStep шаг и все последующие удаляются из checkpoint, их файлы
// удаляются, и они выполняются заново.
func (o *Orchestrator) RetryRun(ctx context.Context, id uuid.UUID, fromStep *domain.Step) (*domain.Run, int, error) {
	if o.IsStopped() {
		return nil, 0, ErrOrchestratorStopped
	}

	unlock := o.locks.lock(id)
	defer unlock()

	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if !run.Status.IsRetryable() {
		return nil, 0, fmt.Errorf("%w: cannot retry run in status %s", ErrInvalidState, run.Status)
	}
	if o.queue.Contains(id) {
		return nil, 0, fmt.Errorf("%w: run is in the render queue", ErrInvalidState)
	}

	msg := "retry requested"
	if fromStep != nil {
		if !fromStep.Valid() {
			return nil, 0, fmt.Errorf("%w: %q", domain.ErrUnknownStep, *fromStep)
		}
		dropped := run.TruncateCheckpoint(*fromStep)
		if err := o.executor.Invalidate(ctx, run, domain.Steps[fromStep.Index():]); err != nil {
			return nil, 0, fmt.Errorf("invalidate steps: %w", err)
		}
		msg = fmt.Sprintf("retry requested from %s, %d completed steps discarded", *fromStep, len(dropped))
	}

	if err := run.ResetForRetry(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := run.MarkQueued(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if err := o.store.Update(ctx, run); err != nil {
		return nil, 0, fmt.Errorf("update run: %w", err)
	}

	o.note(run.ID, domain.LogLevelInfo, "", fmt.Sprintf("%s (attempt %d)", msg, run.Attempt))
	o.publish(run.ID, broadcast.StatusEvent(run))
	o.logger.Info("run retry", "run_id", run.ID, "attempt", run.Attempt, "from_step", fromStep)

	o.clearCancel(run.ID)
	pos, err := o.enqueue(run.ID, false)
	if err != nil {
		return nil, 0, fmt.Errorf("enqueue run: %w", err)
	}
	return run, pos, nil
}

// CancelRun отменяет run.
//
// Ожидающий run снимается с очереди и сразу становится canceled, ничего
// не создав. Выполняемый run получает флаг отмены и останавливается на
// границе шагов: текущий вызов возможности не прерывается.
func (o *Orchestrator) CancelRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	unlock := o.locks.lock(id)
	defer unlock()

	run, err := o.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel run in status %s", ErrInvalidState, run.Status)
	}

	if o.queue.Remove(id) {
		return o.cancelQueued(ctx, run)
	}

	if o.queue.Holder() != id && run.Status == domain.RunStatusRunning {
		// run мог завершиться после чтения состояния
		if run, err = o.GetRun(ctx, id); err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: cannot cancel run in status %s", ErrInvalidState, run.Status)
		}
	}

	if o.queue.Holder() == id || run.Status == domain.RunStatusRunning {
		o.requestCancel(id)
		o.note(id, domain.LogLevelWarn, run.CurrentStep, "cancel requested, stopping at next step boundary")
		o.logger.Info("cancel requested", "run_id", id, "step", run.CurrentStep)
		return run, nil
	}

	// создан, но не запущен. Run, получивший слот, переходит в running
	// только под той же блокировкой, поэтому шаги ещё не начаты.
	return o.cancelQueued(ctx, run)
}

func (o *Orchestrator) cancelQueued(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if err := run.MarkCanceled(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	o.finish(ctx, run, domain.LogLevelWarn, "canceled before start")
	return run, nil
}
