package repo

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
)

// MemoryRunRepo — хранилище run в памяти процесса.
// Используется в dry-run режиме и тестах.
type MemoryRunRepo struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]domain.Run
}

// NewMemoryRunRepo создаёт пустой MemoryRunRepo.
func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{runs: make(map[uuid.UUID]domain.Run)}
}

// Create сохраняет новый run.
func (r *MemoryRunRepo) Create(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return ErrAlreadyExists
	}
	r.runs[run.ID] = cloneRun(*run)
	return nil
}

// GetByID возвращает копию run.
func (r *MemoryRunRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneRun(run)
	return &c, nil
}

// Update обновляет поля состояния run.
func (r *MemoryRunRepo) Update(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	applyState(&stored, run)
	r.runs[run.ID] = stored
	return nil
}

// List возвращает runs, новые первыми.
func (r *MemoryRunRepo) List(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	runs := r.collect(filter.Status)
	sortNewestFirst(runs)
	return page(runs, filter), nil
}

// ListByStatus возвращает runs в порядке очереди.
func (r *MemoryRunRepo) ListByStatus(_ context.Context, status domain.RunStatus) ([]domain.Run, error) {
	runs := r.collect(status)
	sortByQueueOrder(runs)
	return runs, nil
}

// LoadLog возвращает журнал run.
func (r *MemoryRunRepo) LoadLog(_ context.Context, id uuid.UUID) ([]domain.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(run.Log), nil
}

// SaveLog заменяет журнал run.
func (r *MemoryRunRepo) SaveLog(_ context.Context, id uuid.UUID, entries []domain.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Log = slices.Clone(entries)
	r.runs[id] = run
	return nil
}

// LoadArtifacts возвращает манифест артефактов.
func (r *MemoryRunRepo) LoadArtifacts(_ context.Context, id uuid.UUID) (domain.Artifacts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.Artifacts{}, ErrNotFound
	}
	return run.Artifacts.Clone(), nil
}

// SaveArtifacts заменяет манифест артефактов.
func (r *MemoryRunRepo) SaveArtifacts(_ context.Context, id uuid.UUID, artifacts domain.Artifacts) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Artifacts = artifacts.Clone()
	r.runs[id] = run
	return nil
}

func (r *MemoryRunRepo) collect(status domain.RunStatus) []domain.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if status != "" && run.Status != status {
			continue
		}
		c := cloneRun(run)
		c.Log = nil
		runs = append(runs, c)
	}
	return runs
}
