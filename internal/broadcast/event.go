package broadcast

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
)

// EventType — тип события прогресса.
type EventType string

const (
	// EventSnapshot — полное состояние run, первое событие подписки.
	EventSnapshot EventType = "snapshot"

	// EventStatus — смена статуса run.
	EventStatus EventType = "status"

	// EventStep — шаг начат.
	EventStep EventType = "step"

	// EventProgress — шаг завершён, прогресс обновлён.
	EventProgress EventType = "progress"

	// EventLog — новая запись журнала.
	EventLog EventType = "log"

	// EventKeepAlive — периодический сигнал живости соединения.
	EventKeepAlive EventType = "keepalive"
)

// Event — событие прогресса run.
type Event struct {
	// Seq — порядковый номер в пределах run. 0 у keep-alive.
	Seq      int64            `json:"seq"`
	Type     EventType        `json:"type"`
	RunID    uuid.UUID        `json:"run_id"`
	Time     time.Time        `json:"time"`
	Status   domain.RunStatus `json:"status,omitempty"`
	Progress int              `json:"progress"`
	Step     domain.Step      `json:"step,omitempty"`
	Error    string           `json:"error,omitempty"`
	Log      *domain.LogEntry `json:"log,omitempty"`
	QA       *domain.QAReport `json:"qa,omitempty"`
	Run      *domain.Run      `json:"run,omitempty"`
}

// Terminal возвращает true для события финального статуса.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventStatus, EventSnapshot:
		return e.Status.IsTerminal()
	default:
		return false
	}
}

// StatusEvent собирает событие статуса из состояния run.
func StatusEvent(run *domain.Run) Event {
	return Event{
		Type:     EventStatus,
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Step:     run.CurrentStep,
		Error:    run.Error,
		QA:       run.QA,
	}
}

// StepEvent собирает событие начала шага.
func StepEvent(run *domain.Run, step domain.Step) Event {
	return Event{
		Type:     EventStep,
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Step:     step,
	}
}

// ProgressEvent собирает событие завершения шага.
func ProgressEvent(run *domain.Run, step domain.Step) Event {
	return Event{
		Type:     EventProgress,
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Step:     step,
	}
}

// LogEvent собирает событие записи журнала.
func LogEvent(runID uuid.UUID, entry domain.LogEntry) Event {
	return Event{
		Type:  EventLog,
		RunID: runID,
		Step:  entry.Step,
		Log:   &entry,
	}
}
