package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/queue"
)

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	Plan      domain.Plan `json:"plan"`
	AutoStart bool        `json:"auto_start,omitempty"`
}

// RetryRunRequest — запрос на повтор run.
// Пустой FromStep — продолжить с первого незавершённого шага.
type RetryRunRequest struct {
	FromStep string `json:"from_step,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID         `json:"id"`
	Status      string            `json:"status"`
	Progress    int               `json:"progress"`
	CurrentStep string            `json:"current_step,omitempty"`
	Checkpoint  []domain.Step     `json:"checkpoint"`
	Artifacts   domain.Artifacts  `json:"artifacts"`
	Log         []domain.LogEntry `json:"log"`
	Plan        domain.Plan       `json:"plan"`
	FailedStep  string            `json:"failed_step,omitempty"`
	Error       string            `json:"error,omitempty"`
	QA          *domain.QAReport  `json:"qa,omitempty"`
	Attempt     int               `json:"attempt"`
	QueuedAt    *time.Time        `json:"queued_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	checkpoint := r.Checkpoint
	if checkpoint == nil {
		checkpoint = []domain.Step{}
	}
	log := r.Log
	if log == nil {
		log = []domain.LogEntry{}
	}
	return RunResponse{
		ID:          r.ID,
		Status:      string(r.Status),
		Progress:    r.Progress,
		CurrentStep: string(r.CurrentStep),
		Checkpoint:  checkpoint,
		Artifacts:   r.Artifacts,
		Log:         log,
		Plan:        r.Plan,
		FailedStep:  string(r.FailedStep),
		Error:       r.Error,
		QA:          r.QA,
		Attempt:     r.Attempt,
		QueuedAt:    r.QueuedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// RunSummaryResponse — краткая запись run для списков.
type RunSummaryResponse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title,omitempty"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Attempt     int        `json:"attempt"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RunSummaryFromDomain конвертирует domain.Run в RunSummaryResponse.
func RunSummaryFromDomain(r domain.Run) RunSummaryResponse {
	return RunSummaryResponse{
		ID:          r.ID,
		Title:       r.Plan.Title,
		Status:      string(r.Status),
		Progress:    r.Progress,
		CurrentStep: string(r.CurrentStep),
		Attempt:     r.Attempt,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		CreatedAt:   r.CreatedAt,
	}
}

// RunActionResponse — ответ на start/retry: run и его место в очереди.
// QueuePosition 0 — run держит слот рендера.
type RunActionResponse struct {
	Run           RunResponse `json:"run"`
	QueuePosition int         `json:"queue_position"`
}

// Queue DTOs

// QueueResponse — состояние очереди рендера.
type QueueResponse struct {
	Holder  *uuid.UUID  `json:"holder,omitempty"`
	Waiting []uuid.UUID `json:"waiting"`
}

// QueueFromSnapshot конвертирует queue.Snapshot в QueueResponse.
func QueueFromSnapshot(s queue.Snapshot) QueueResponse {
	waiting := s.Waiting
	if waiting == nil {
		waiting = []uuid.UUID{}
	}
	return QueueResponse{
		Holder:  s.Holder,
		Waiting: waiting,
	}
}
