package repo

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
)

// RunStore — персистентное хранилище run.
//
// Update пишет только поля состояния (статус, прогресс, шаг, checkpoint, QA,
// отметки времени). Журнал и манифест артефактов меняются только через
// SaveLog и SaveArtifacts, которые вызывает runlog.Serializer.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error

	// List возвращает runs без журнала, новые первыми.
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	// ListByStatus возвращает runs без журнала в порядке постановки в очередь.
	ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.Run, error)

	LoadLog(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error)
	SaveLog(ctx context.Context, id uuid.UUID, entries []domain.LogEntry) error

	LoadArtifacts(ctx context.Context, id uuid.UUID) (domain.Artifacts, error)
	SaveArtifacts(ctx context.Context, id uuid.UUID, artifacts domain.Artifacts) error
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

const defaultListLimit = 50

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// sortByQueueOrder сортирует по queued_at (nil в конце), затем по created_at.
func sortByQueueOrder(runs []domain.Run) {
	slices.SortStableFunc(runs, func(a, b domain.Run) int {
		switch {
		case a.QueuedAt == nil && b.QueuedAt != nil:
			return 1
		case a.QueuedAt != nil && b.QueuedAt == nil:
			return -1
		case a.QueuedAt != nil && b.QueuedAt != nil:
			if c := a.QueuedAt.Compare(*b.QueuedAt); c != 0 {
				return c
			}
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// sortNewestFirst сортирует по created_at по убыванию.
func sortNewestFirst(runs []domain.Run) {
	slices.SortStableFunc(runs, func(a, b domain.Run) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
}

// page применяет limit/offset к отсортированному списку.
func page(runs []domain.Run, f RunFilter) []domain.Run {
	if f.Offset >= len(runs) {
		return []domain.Run{}
	}
	runs = runs[f.Offset:]
	if n := f.limit(); len(runs) > n {
		runs = runs[:n]
	}
	return runs
}

// applyState копирует поля состояния из src в dst, не трогая журнал,
// артефакты, план и время создания.
func applyState(dst *domain.Run, src *domain.Run) {
	dst.Status = src.Status
	dst.Progress = src.Progress
	dst.CurrentStep = src.CurrentStep
	dst.Checkpoint = slices.Clone(src.Checkpoint)
	dst.FailedStep = src.FailedStep
	dst.Error = src.Error
	dst.QA = cloneQA(src.QA)
	dst.Attempt = src.Attempt
	dst.QueuedAt = src.QueuedAt
	dst.StartedAt = src.StartedAt
	dst.FinishedAt = src.FinishedAt
	dst.UpdatedAt = src.UpdatedAt
}

func cloneRun(r domain.Run) domain.Run {
	c := r
	c.Log = slices.Clone(r.Log)
	c.Checkpoint = slices.Clone(r.Checkpoint)
	c.Artifacts = r.Artifacts.Clone()
	c.Plan.Scenes = slices.Clone(r.Plan.Scenes)
	c.QA = cloneQA(r.QA)
	return c
}

func cloneQA(qa *domain.QAReport) *domain.QAReport {
	if qa == nil {
		return nil
	}
	c := *qa
	c.Details = slices.Clone(qa.Details)
	return &c
}

var (
	_ RunStore = (*RunRepo)(nil)
	_ RunStore = (*BoltRunRepo)(nil)
	_ RunStore = (*MemoryRunRepo)(nil)
)
