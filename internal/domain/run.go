package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Run — одна попытка превратить утверждённый план в готовое видео.
//
// Run создаётся при утверждении плана в статусе queued. Run изменяет только
// оркестратор во время выполнения или команды управления (retry, cancel).
// Pipeline никогда не удаляет run.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Status — текущий статус.
	Status RunStatus `json:"status"`

	// Progress — процент выполнения 0–100.
	Progress int `json:"progress"`

	// CurrentStep — выполняемый (или последний начатый) шаг. Пустой — ни одного.
	CurrentStep Step `json:"current_step,omitempty"`

	// Log — журнал run. Пишется только через runlog.Serializer.
	Log []LogEntry `json:"log"`

	// Checkpoint — завершённые шаги в порядке выполнения.
	Checkpoint []Step `json:"checkpoint"`

	// Artifacts — манифест созданных файлов.
	Artifacts Artifacts `json:"artifacts"`

	// Plan — план ролика, неизменяемый.
	Plan Plan `json:"plan"`

	// FailedStep — шаг, на котором run упал.
	FailedStep Step `json:"failed_step,omitempty"`

	// Error — причина failed/quality_failed.
	Error string `json:"error,omitempty"`

	// QA — отчёт последней проверки качества.
	QA *QAReport `json:"qa,omitempty"`

	// Attempt — номер попытки, начиная с 1. Увеличивается при retry.
	Attempt int `json:"attempt"`

	// QueuedAt — когда run встал в очередь рендера. Nil — ещё не запущен.
	QueuedAt *time.Time `json:"queued_at,omitempty"`

	// StartedAt — когда run занял слот.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — когда run перешёл в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun создаёт run для плана.
func NewRun(plan Plan) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:         uuid.New(),
		Status:     RunStatusQueued,
		Log:        []LogEntry{},
		Checkpoint: []Step{},
		Plan:       plan,
		Attempt:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsCompleted проверяет, есть ли шаг в checkpoint.
func (r *Run) IsCompleted(step Step) bool {
	return slices.Contains(r.Checkpoint, step)
}

// NextStep возвращает первый шаг, которого нет в checkpoint.
func (r *Run) NextStep() (Step, bool) {
	for _, step := range Steps {
		if !r.IsCompleted(step) {
			return step, true
		}
	}
	return "", false
}

// CompleteStep добавляет шаг в checkpoint и пересчитывает прогресс.
func (r *Run) CompleteStep(step Step) {
	if !r.IsCompleted(step) {
		r.Checkpoint = append(r.Checkpoint, step)
	}
	r.Progress = ProgressFor(r.Checkpoint)
	r.touch()
}

// TruncateCheckpoint удаляет из checkpoint шаг from и все последующие.
// Возвращает удалённые шаги.
func (r *Run) TruncateCheckpoint(from Step) []Step {
	idx := from.Index()
	var kept, dropped []Step
	for _, step := range r.Checkpoint {
		if step.Index() >= idx {
			dropped = append(dropped, step)
		} else {
			kept = append(kept, step)
		}
	}
	if kept == nil {
		kept = []Step{}
	}
	r.Checkpoint = kept
	r.Progress = ProgressFor(r.Checkpoint)
	return dropped
}

// ProgressFor вычисляет процент по завершённым шагам.
// Finalize в checkpoint всегда даёт ровно 100.
func ProgressFor(checkpoint []Step) int {
	if slices.Contains(checkpoint, StepFinalize) {
		return 100
	}
	return len(checkpoint) * 100 / len(Steps)
}

// MarkQueued ставит run в очередь рендера.
func (r *Run) MarkQueued() error {
	if r.Status != RunStatusQueued {
		if err := r.transition(RunStatusQueued); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	r.QueuedAt = &now
	r.touch()
	return nil
}

// MarkRunning переводит run в running.
func (r *Run) MarkRunning() error {
	if err := r.transition(RunStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.StartedAt = &now
	r.FinishedAt = nil
	return nil
}

// MarkDone переводит run в done.
func (r *Run) MarkDone(report *QAReport) error {
	if err := r.transition(RunStatusDone); err != nil {
		return err
	}
	r.QA = report
	r.CurrentStep = StepFinalize
	r.finish()
	return nil
}

// MarkFailed переводит run в failed с причиной и шагом.
func (r *Run) MarkFailed(step Step, reason string) error {
	if err := r.transition(RunStatusFailed); err != nil {
		return err
	}
	r.FailedStep = step
	r.Error = reason
	if step != "" {
		r.CurrentStep = step
	}
	r.finish()
	return nil
}

// MarkQualityFailed переводит run в quality_failed.
func (r *Run) MarkQualityFailed(report *QAReport) error {
	if err := r.transition(RunStatusQualityFailed); err != nil {
		return err
	}
	r.QA = report
	r.FailedStep = StepFinalize
	r.CurrentStep = StepFinalize
	r.Error = fmt.Sprintf("quality checks failed: %v", report.FailedChecks())
	r.finish()
	return nil
}

// MarkCanceled переводит run в canceled.
func (r *Run) MarkCanceled() error {
	if err := r.transition(RunStatusCanceled); err != nil {
		return err
	}
	r.finish()
	return nil
}

// ResetForRetry готовит run к новой попытке.
func (r *Run) ResetForRetry() error {
	if !r.Status.IsRetryable() {
		return fmt.Errorf("%w: cannot retry run in status %s", ErrInvalidTransition, r.Status)
	}
	r.Status = RunStatusQueued
	r.Attempt++
	r.FailedStep = ""
	r.Error = ""
	r.QA = nil
	r.CurrentStep = ""
	r.StartedAt = nil
	r.FinishedAt = nil
	r.QueuedAt = nil
	r.touch()
	return nil
}

func (r *Run) transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.touch()
	return nil
}

func (r *Run) finish() {
	now := time.Now().UTC()
	r.FinishedAt = &now
}

func (r *Run) touch() {
	r.UpdatedAt = time.Now().UTC()
}
