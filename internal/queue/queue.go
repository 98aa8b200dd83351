// Package queue — очередь рендера с единственным слотом.
//
// Слот — разрешение ёмкостью 1. Ожидающие runs стоят в FIFO по времени
// постановки. Освобождение слота передаёт его следующему и запускает его
// выполнение. Состояние живёт только в памяти и восстанавливается из
// хранилища при старте.
package queue

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

// Launcher запускает выполнение run, получившего слот.
// Вызывается в отдельной горутине; после завершения run обязан вызвать Release.
type Launcher func(runID uuid.UUID)

// Config — конфигурация Queue.
type Config struct {
	Launcher Launcher
	Logger   *slog.Logger
}

// Queue — очередь рендера.
type Queue struct {
	permit   *semaphore.Weighted
	launcher Launcher
	logger   *slog.Logger

	mu      sync.Mutex
	holder  uuid.UUID
	waiters []uuid.UUID
	wg      sync.WaitGroup
}

// Snapshot — состояние очереди для API.
type Snapshot struct {
	Holder  *uuid.UUID  `json:"holder,omitempty"`
	Waiting []uuid.UUID `json:"waiting"`
}

// New создаёт Queue.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		permit:   semaphore.NewWeighted(1),
		launcher: cfg.Launcher,
		logger:   logger,
		waiters:  []uuid.UUID{},
	}
}

// SetLauncher задаёт функцию запуска run.
func (q *Queue) SetLauncher(l Launcher) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.launcher = l
}

// Enqueue ставит run в конец очереди и пытается занять слот.
// Возвращает позицию: 0 — run получил слот, N — N-й в ожидании.
func (q *Queue) Enqueue(runID uuid.UUID) (int, error) {
	return q.add(runID, false)
}

// EnqueueFront ставит run в начало очереди.
// Используется для runs, возвращаемых в работу после рестарта.
func (q *Queue) EnqueueFront(runID uuid.UUID) (int, error) {
	return q.add(runID, true)
}

// Remove убирает ожидающий run из очереди без побочных эффектов.
// Возвращает false, если run не ожидает (держит слот или отсутствует).
func (q *Queue) Remove(runID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := slices.Index(q.waiters, runID)
	if idx < 0 {
		return false
	}
	q.waiters = slices.Delete(q.waiters, idx, idx+1)
	telemetry.QueueDepth.Set(float64(len(q.waiters)))

	q.logger.Info("run removed from render queue", "run_id", runID)
	return true
}

// Release освобождает слот и передаёт его следующему.
func (q *Queue) Release(runID uuid.UUID) error {
	q.mu.Lock()
	if q.holder != runID || runID == uuid.Nil {
		q.mu.Unlock()
		return ErrNotHolder
	}
	q.holder = uuid.Nil
	q.permit.Release(1)
	telemetry.SlotBusy.Set(0)
	q.mu.Unlock()

	q.logger.Debug("render slot released", "run_id", runID)
	q.OnSlotAvailable()
	return nil
}

// OnSlotAvailable отдаёт свободный слот первому ожидающему и запускает его.
func (q *Queue) OnSlotAvailable() {
	q.mu.Lock()
	if len(q.waiters) == 0 || q.launcher == nil {
		q.mu.Unlock()
		return
	}
	if !q.permit.TryAcquire(1) {
		q.mu.Unlock()
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	q.holder = next
	launch := q.launcher
	telemetry.SlotBusy.Set(1)
	telemetry.QueueDepth.Set(float64(len(q.waiters)))
	q.wg.Add(1)
	q.mu.Unlock()

	q.logger.Info("render slot acquired", "run_id", next)

	go func() {
		defer q.wg.Done()
		launch(next)
	}()
}

// Holder возвращает run, держащий слот, или uuid.Nil.
func (q *Queue) Holder() uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.holder
}

// Position возвращает 0 для владельца слота, N для N-го ожидающего,
// -1 если run не в очереди.
func (q *Queue) Position(runID uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(runID)
}

// Contains проверяет, держит ли run слот или ожидает его.
func (q *Queue) Contains(runID uuid.UUID) bool {
	return q.Position(runID) >= 0
}

// Snapshot возвращает копию состояния очереди.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Snapshot{Waiting: slices.Clone(q.waiters)}
	if q.holder != uuid.Nil {
		h := q.holder
		s.Holder = &h
	}
	return s
}

// Wait ждёт завершения всех запущенных launcher.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) add(runID uuid.UUID, front bool) (int, error) {
	q.mu.Lock()
	if q.launcher == nil {
		q.mu.Unlock()
		return -1, ErrNoLauncher
	}
	if q.positionLocked(runID) >= 0 {
		q.mu.Unlock()
		return -1, ErrAlreadyQueued
	}
	if front {
		q.waiters = slices.Insert(q.waiters, 0, runID)
	} else {
		q.waiters = append(q.waiters, runID)
	}
	telemetry.QueueDepth.Set(float64(len(q.waiters)))
	q.mu.Unlock()

	q.logger.Info("run enqueued", "run_id", runID, "front", front)
	q.OnSlotAvailable()

	// run мог успеть получить слот и завершиться
	pos := q.Position(runID)
	if pos < 0 {
		pos = 0
	}
	return pos, nil
}

func (q *Queue) positionLocked(runID uuid.UUID) int {
	if runID == q.holder && runID != uuid.Nil {
		return 0
	}
	if idx := slices.Index(q.waiters, runID); idx >= 0 {
		return idx + 1
	}
	return -1
}
