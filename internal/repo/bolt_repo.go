package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// BoltRunRepo — встроенное хранилище run в файле bbolt.
//
// Каждый run хранится одним JSON значением; все изменения выполняются
// внутри транзакции Update, поэтому read-modify-write атомарен.
type BoltRunRepo struct {
	db *bolt.DB
}

// OpenBolt открывает (или создаёт) файл базы.
func OpenBolt(path string) (*BoltRunRepo, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltRunRepo{db: db}, nil
}

// Close закрывает базу.
func (r *BoltRunRepo) Close() error {
	return r.db.Close()
}

// Create сохраняет новый run.
func (r *BoltRunRepo) Create(_ context.Context, run *domain.Run) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b.Get(run.ID[:]) != nil {
			return ErrAlreadyExists
		}
		return putRun(b, run)
	})
}

// GetByID возвращает run по ID.
func (r *BoltRunRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	var run *domain.Run
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		run, err = getRun(tx.Bucket(runsBucket), id)
		return err
	})
	return run, err
}

// Update обновляет поля состояния run.
func (r *BoltRunRepo) Update(_ context.Context, run *domain.Run) error {
	return r.modify(run.ID, func(stored *domain.Run) {
		applyState(stored, run)
	})
}

// List возвращает runs, новые первыми.
func (r *BoltRunRepo) List(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	runs, err := r.scan(filter.Status)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(runs)
	return page(runs, filter), nil
}

// ListByStatus возвращает runs в порядке очереди.
func (r *BoltRunRepo) ListByStatus(_ context.Context, status domain.RunStatus) ([]domain.Run, error) {
	runs, err := r.scan(status)
	if err != nil {
		return nil, err
	}
	sortByQueueOrder(runs)
	return runs, nil
}

// LoadLog возвращает журнал run.
func (r *BoltRunRepo) LoadLog(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return run.Log, nil
}

// SaveLog заменяет журнал run.
func (r *BoltRunRepo) SaveLog(_ context.Context, id uuid.UUID, entries []domain.LogEntry) error {
	return r.modify(id, func(stored *domain.Run) {
		stored.Log = entries
	})
}

// LoadArtifacts возвращает манифест артефактов.
func (r *BoltRunRepo) LoadArtifacts(ctx context.Context, id uuid.UUID) (domain.Artifacts, error) {
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Artifacts{}, err
	}
	return run.Artifacts, nil
}

// SaveArtifacts заменяет манифест артефактов.
func (r *BoltRunRepo) SaveArtifacts(_ context.Context, id uuid.UUID, artifacts domain.Artifacts) error {
	return r.modify(id, func(stored *domain.Run) {
		stored.Artifacts = artifacts
	})
}

func (r *BoltRunRepo) modify(id uuid.UUID, fn func(stored *domain.Run)) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		stored, err := getRun(b, id)
		if err != nil {
			return err
		}
		fn(stored)
		return putRun(b, stored)
	})
}

func (r *BoltRunRepo) scan(status domain.RunStatus) ([]domain.Run, error) {
	runs := []domain.Run{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(_, v []byte) error {
			var run domain.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			if status != "" && run.Status != status {
				return nil
			}
			run.Log = nil
			runs = append(runs, run)
			return nil
		})
	})
	return runs, err
}

func getRun(b *bolt.Bucket, id uuid.UUID) (*domain.Run, error) {
	data := b.Get(id[:])
	if data == nil {
		return nil, ErrNotFound
	}
	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func putRun(b *bolt.Bucket, run *domain.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return b.Put(run.ID[:], data)
}
