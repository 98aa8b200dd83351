package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/mq"
	"github.com/shaiso/Montage/internal/pipeline"
	"github.com/shaiso/Montage/internal/telemetry"
)

// launch — Launcher очереди: выполняет run, получивший слот, и освобождает слот.
func (o *Orchestrator) launch(runID uuid.UUID) {
	ctx := o.executionContext()
	logger := telemetry.WithRunID(o.logger, runID.String())

	defer func() {
		o.clearCancel(runID)
		if err := o.queue.Release(runID); err != nil {
			logger.Error("failed to release render slot", "error", err)
		}
	}()

	// переход в running под блокировкой run, как и команды управления
	unlock := o.locks.lock(runID)
	run, err := o.store.GetByID(ctx, runID)
	if err != nil {
		unlock()
		logger.Error("failed to load run for execution", "error", err)
		return
	}
	if run.Status != domain.RunStatusQueued && run.Status != domain.RunStatusRunning {
		unlock()
		logger.Warn("run no longer waiting, skipping", "status", run.Status)
		return
	}
	ok := o.begin(ctx, run)
	unlock()
	if !ok {
		return
	}

	o.execute(ctx, run)
}

// begin проверяет план и переводит run в running.
func (o *Orchestrator) begin(ctx context.Context, run *domain.Run) bool {
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	if err := run.Plan.Validate(); err != nil {
		o.fail(ctx, run, resumeStep(run), fmt.Sprintf("invalid plan: %v", err))
		return false
	}

	if run.Status == domain.RunStatusQueued {
		if err := run.MarkRunning(); err != nil {
			o.fail(ctx, run, resumeStep(run), err.Error())
			return false
		}
		if err := o.save(ctx, run); err != nil {
			logger.Error("failed to mark run running", "error", err)
			return false
		}
		o.publish(run.ID, broadcast.StatusEvent(run))
	}
	return true
}

// execute проводит run через шаги, начиная с первого незавершённого.
func (o *Orchestrator) execute(ctx context.Context, run *domain.Run) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	next, _ := run.NextStep()
	o.note(run.ID, domain.LogLevelInfo, "", fmt.Sprintf("attempt %d started at %s", run.Attempt, next))
	logger.Info("run started", "attempt", run.Attempt, "resume_from", next, "completed", len(run.Checkpoint))

	for {
		if ctx.Err() != nil {
			logger.Warn("run interrupted by shutdown", "step", run.CurrentStep)
			return
		}
		if o.cancelRequested(run.ID) {
			if err := run.MarkCanceled(); err != nil {
				o.fail(ctx, run, resumeStep(run), err.Error())
				return
			}
			o.finish(ctx, run, domain.LogLevelWarn, "canceled")
			return
		}

		step, ok := run.NextStep()
		if !ok {
			o.fail(ctx, run, domain.StepFinalize, "all steps completed without a quality verdict")
			return
		}

		run.CurrentStep = step
		if err := o.save(ctx, run); err != nil {
			o.fail(ctx, run, step, fmt.Sprintf("persist state: %v", err))
			return
		}
		o.note(run.ID, domain.LogLevelInfo, step, "step started")
		o.publish(run.ID, broadcast.StepEvent(run, step))

		result, err := o.executor.Execute(ctx, run, step)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn("run interrupted by shutdown", "step", step, "error", err)
				return
			}
			o.fail(ctx, run, step, failureReason(err))
			return
		}

		if step == domain.StepFinalize {
			o.complete(ctx, run, result)
			return
		}

		run.CompleteStep(step)
		if err := o.save(ctx, run); err != nil {
			o.fail(ctx, run, step, fmt.Sprintf("persist checkpoint: %v", err))
			return
		}
		o.note(run.ID, domain.LogLevelInfo, step, fmt.Sprintf("step completed, progress %d%%", run.Progress))
		o.publish(run.ID, broadcast.ProgressEvent(run, step))

		// запись журнала и манифеста не должна отставать от checkpoint
		if err := o.sync(ctx, run.ID); err != nil && ctx.Err() == nil {
			o.fail(ctx, run, step, fmt.Sprintf("run log write failed: %v", err))
			return
		}
	}
}

// resumeStep возвращает шаг, с которого продолжилось бы выполнение run.
func resumeStep(run *domain.Run) domain.Step {
	if step, ok := run.NextStep(); ok {
		return step
	}
	return domain.StepFinalize
}

// failureReason возвращает причину сбоя шага без повторного имени шага.
func failureReason(err error) string {
	var se *pipeline.StepError
	if !errors.As(err, &se) {
		return err.Error()
	}
	if se.Err == nil {
		return se.Message
	}
	if cause := se.Err.Error(); strings.HasPrefix(cause, se.Message) {
		return cause
	}
	return se.Message + ": " + se.Err.Error()
}

// complete завершает run по отчёту проверки качества.
func (o *Orchestrator) complete(ctx context.Context, run *domain.Run, result *pipeline.StepResult) {
	if result == nil || result.QA == nil {
		o.fail(ctx, run, domain.StepFinalize, "quality gate returned no report")
		return
	}

	if !result.QA.Passed {
		if err := run.MarkQualityFailed(result.QA); err != nil {
			o.fail(ctx, run, domain.StepFinalize, err.Error())
			return
		}
		o.finish(ctx, run, domain.LogLevelError, run.Error)
		return
	}

	run.CompleteStep(domain.StepFinalize)
	if err := run.MarkDone(result.QA); err != nil {
		o.fail(ctx, run, domain.StepFinalize, err.Error())
		return
	}
	o.finish(ctx, run, domain.LogLevelInfo, "render completed")
}

// fail переводит run в failed с причиной и шагом.
func (o *Orchestrator) fail(ctx context.Context, run *domain.Run, step domain.Step, reason string) {
	if err := run.MarkFailed(step, reason); err != nil {
		// статус уже финальный или переход невозможен; состояние не трогаем
		o.logger.Error("cannot mark run failed",
			"run_id", run.ID,
			"status", run.Status,
			"reason", reason,
			"error", err,
		)
		return
	}
	msg := reason
	if step != "" {
		msg = fmt.Sprintf("%s failed: %s", step, reason)
	}
	o.finish(ctx, run, domain.LogLevelError, msg)
}

// finish фиксирует финальный статус: запись журнала, состояние, событие,
// метрика и run.finished.
func (o *Orchestrator) finish(ctx context.Context, run *domain.Run, level domain.LogLevel, msg string) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	step := run.FailedStep
	if step == "" {
		step = run.CurrentStep
	}
	o.note(run.ID, level, step, msg)
	if err := o.sync(ctx, run.ID); err != nil {
		logger.Error("run log not flushed before finish", "error", err)
	}

	if err := o.save(ctx, run); err != nil {
		logger.Error("failed to persist final state", "status", run.Status, "error", err)
		return
	}

	o.publish(run.ID, broadcast.StatusEvent(run))
	telemetry.RunsFinished.WithLabelValues(run.Status.String()).Inc()

	attrs := []any{"status", run.Status, "attempt", run.Attempt, "progress", run.Progress}
	if run.FailedStep != "" {
		attrs = append(attrs, "failed_step", run.FailedStep, "reason", run.Error)
	}
	if d := run.Duration(); d > 0 {
		attrs = append(attrs, "duration", d.Round(time.Millisecond))
	}
	if run.Status == domain.RunStatusDone {
		logger.Info("run finished", attrs...)
	} else {
		logger.Warn("run finished", attrs...)
	}

	o.notifyFinished(ctx, run)
}

func (o *Orchestrator) notifyFinished(ctx context.Context, run *domain.Run) {
	if o.notifier == nil {
		return
	}

	ctx, cancel := o.storeContext(ctx)
	defer cancel()

	artifacts, err := o.store.LoadArtifacts(ctx, run.ID)
	if err != nil {
		o.logger.Warn("failed to load artifacts for run.finished", "run_id", run.ID, "error", err)
	}

	err = o.notifier.PublishRunFinished(ctx, mq.RunFinishedPayload{
		RunID:      run.ID,
		Status:     run.Status.String(),
		Attempt:    run.Attempt,
		FailedStep: run.FailedStep.String(),
		Error:      run.Error,
		Video:      artifacts.Video,
	})
	if err != nil {
		o.logger.Warn("failed to publish run.finished", "run_id", run.ID, "error", err)
	}
}

// note ставит запись в журнал run, не дожидаясь записи.
func (o *Orchestrator) note(runID uuid.UUID, level domain.LogLevel, step domain.Step, msg string) {
	o.journal.Append(runID, domain.NewLogEntry(level, step, msg))
}

// sync ждёт записи всех поставленных операций журнала run.
func (o *Orchestrator) sync(ctx context.Context, runID uuid.UUID) error {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.journal.Sync(ctx, runID)
}

// save пишет состояние run. Запись переживает отмену ctx при остановке.
func (o *Orchestrator) save(ctx context.Context, run *domain.Run) error {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.store.Update(ctx, run)
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
}

func (o *Orchestrator) publish(runID uuid.UUID, ev broadcast.Event) {
	if o.broadcaster != nil {
		o.broadcaster.Publish(runID, ev)
	}
}
