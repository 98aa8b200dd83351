package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/shaiso/Montage/internal/domain"
)

// reasonSlotInconsistency — причина для runs, которые после рестарта
// числились выполняемыми вместе с другим run.
const reasonSlotInconsistency = "slot inconsistency after restart"

// Recover восстанавливает очередь рендера из хранилища.
//
// Run, найденный в running, возвращается в начало очереди и продолжает
// с первого незавершённого шага. Если таких runs несколько, слот получает
// начавшийся раньше всех, остальные переводятся в failed. Run с
// некорректным планом переводится в failed. Затем в очередь ставятся
// ожидающие runs в порядке queued_at.
func (o *Orchestrator) Recover(ctx context.Context) error {
	running, err := o.store.ListByStatus(ctx, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("list running runs: %w", err)
	}

	slices.SortStableFunc(running, func(a, b domain.Run) int {
		switch {
		case a.StartedAt == nil && b.StartedAt == nil:
			return a.CreatedAt.Compare(b.CreatedAt)
		case a.StartedAt == nil:
			return 1
		case b.StartedAt == nil:
			return -1
		}
		return a.StartedAt.Compare(*b.StartedAt)
	})

	reclaimed := false
	for i := range running {
		run := &running[i]

		if err := run.Plan.Validate(); err != nil {
			o.logger.Error("demoting run with invalid plan", "run_id", run.ID, "error", err)
			o.fail(ctx, run, resumeStep(run), fmt.Sprintf("invalid plan after restart: %v", err))
			continue
		}

		if reclaimed {
			o.logger.Error(reasonSlotInconsistency, "run_id", run.ID, "step", resumeStep(run))
			o.fail(ctx, run, resumeStep(run), reasonSlotInconsistency)
			continue
		}

		if err := run.MarkQueued(); err != nil {
			o.fail(ctx, run, resumeStep(run), err.Error())
			continue
		}
		if err := o.save(ctx, run); err != nil {
			return fmt.Errorf("requeue run %s: %w", run.ID, err)
		}
		next, _ := run.NextStep()
		o.note(run.ID, domain.LogLevelWarn, run.CurrentStep,
			fmt.Sprintf("interrupted by restart, resuming at %s", next))
		if _, err := o.enqueue(run.ID, true); err != nil {
			return fmt.Errorf("requeue run %s: %w", run.ID, err)
		}
		reclaimed = true
		o.logger.Info("reclaimed interrupted run", "run_id", run.ID, "resume_from", next)
	}

	queued, err := o.store.ListByStatus(ctx, domain.RunStatusQueued)
	if err != nil {
		return fmt.Errorf("list queued runs: %w", err)
	}
	restored := 0
	for i := range queued {
		run := &queued[i]
		if run.QueuedAt == nil || o.queue.Contains(run.ID) {
			continue
		}
		if _, err := o.enqueue(run.ID, false); err != nil {
			return fmt.Errorf("enqueue run %s: %w", run.ID, err)
		}
		restored++
	}

	o.logger.Info("render queue recovered",
		"reclaimed", reclaimed,
		"restored", restored,
		"snapshot", o.queue.Snapshot(),
	)
	return nil
}
