// Package broadcast рассылает события прогресса run подписчикам.
//
// Подписка сначала получает снимок состояния run, затем инкрементальные
// события в порядке публикации. Порядок гарантируется только внутри run.
// Подписчик, который не успевает читать и переполняет буфер, отключается:
// пропуск событий нарушил бы порядок.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/telemetry"
)

// Default configuration values.
const (
	defaultKeepAlive  = 15 * time.Second
	defaultBufferSize = 256
)

// SnapshotFunc загружает текущее состояние run.
type SnapshotFunc func(ctx context.Context, runID uuid.UUID) (*domain.Run, error)

// Config — конфигурация Broadcaster.
type Config struct {
	Snapshot   SnapshotFunc
	KeepAlive  time.Duration // интервал keep-alive (default: 15s)
	BufferSize int           // буфер канала подписчика (default: 256)
	Logger     *slog.Logger
}

// Broadcaster — реестр подписчиков по run.
type Broadcaster struct {
	snapshot   SnapshotFunc
	keepAlive  time.Duration
	bufferSize int
	logger     *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[uuid.UUID]map[int]*Subscription
	seq    map[uuid.UUID]int64

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
}

// Subscription — подписка на события одного run.
type Subscription struct {
	id    int
	runID uuid.UUID
	b     *Broadcaster
	ch    chan Event

	// ready = false, пока снимок не отправлен; события копятся в backlog.
	ready   bool
	backlog []Event
	closed  bool
}

// New создаёт Broadcaster.
func New(cfg Config) *Broadcaster {
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broadcaster{
		snapshot:   cfg.Snapshot,
		keepAlive:  keepAlive,
		bufferSize: bufferSize,
		logger:     logger,
		subs:       make(map[uuid.UUID]map[int]*Subscription),
		seq:        make(map[uuid.UUID]int64),
	}
}

// Start запускает рассылку keep-alive.
func (b *Broadcaster) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancelFunc = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.keepAliveLoop(ctx)
	}()
}

// Stop останавливает keep-alive и закрывает все подписки.
func (b *Broadcaster) Stop() {
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for runID, subs := range b.subs {
		for _, sub := range subs {
			b.removeLocked(sub)
		}
		delete(b.subs, runID)
	}
}

// Subscribe регистрирует подписчика run.
//
// Первым событием в канале всегда идёт снимок. События, опубликованные
// между регистрацией и загрузкой снимка, доставляются после него.
func (b *Broadcaster) Subscribe(ctx context.Context, runID uuid.UUID) (*Subscription, error) {
	sub := &Subscription{
		runID: runID,
		b:     b,
		ch:    make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrStopped
	}
	b.nextID++
	sub.id = b.nextID
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]*Subscription)
	}
	b.subs[runID][sub.id] = sub
	telemetry.Subscribers.Inc()
	b.mu.Unlock()

	run, err := b.snapshot(ctx, runID)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return nil, ErrStopped
	}
	sub.ch <- Event{
		Seq:      b.seq[runID],
		Type:     EventSnapshot,
		RunID:    runID,
		Time:     time.Now().UTC(),
		Status:   run.Status,
		Progress: run.Progress,
		Step:     run.CurrentStep,
		Error:    run.Error,
		QA:       run.QA,
		Run:      run,
	}
	backlog := sub.backlog
	sub.backlog = nil
	sub.ready = true
	for _, ev := range backlog {
		if !b.deliverLocked(sub, ev) {
			break
		}
	}
	return sub, nil
}

// Publish рассылает событие подписчикам run.
func (b *Broadcaster) Publish(runID uuid.UUID, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[runID]
	if len(subs) == 0 {
		return
	}

	b.seq[runID]++
	ev.Seq = b.seq[runID]
	ev.RunID = runID
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	for _, sub := range subs {
		if !sub.ready {
			if len(sub.backlog) >= b.bufferSize-1 {
				b.dropLocked(sub, "backlog overflow")
				continue
			}
			sub.backlog = append(sub.backlog, ev)
			continue
		}
		b.deliverLocked(sub, ev)
	}
}

// Unsubscribe удаляет подписку. Повторный вызов безопасен.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Count возвращает число подписчиков run.
func (b *Broadcaster) Count(runID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}

// Events возвращает канал событий. Канал закрывается при отписке.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// RunID возвращает run подписки.
func (s *Subscription) RunID() uuid.UUID {
	return s.runID
}

// Close отписывает подписчика.
func (s *Subscription) Close() {
	s.b.Unsubscribe(s)
}

func (b *Broadcaster) deliverLocked(sub *Subscription, ev Event) bool {
	select {
	case sub.ch <- ev:
		return true
	default:
		b.dropLocked(sub, "buffer full")
		return false
	}
}

func (b *Broadcaster) dropLocked(sub *Subscription, reason string) {
	b.logger.Warn("dropping slow progress subscriber",
		"run_id", sub.runID,
		"subscriber", sub.id,
		"reason", reason,
	)
	b.removeLocked(sub)
}

func (b *Broadcaster) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	telemetry.Subscribers.Dec()

	subs := b.subs[sub.runID]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.subs, sub.runID)
		delete(b.seq, sub.runID)
	}
}

func (b *Broadcaster) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendKeepAlive()
		}
	}
}

// sendKeepAlive отправляет keep-alive всем готовым подписчикам.
// Полный буфер keep-alive не считается отставанием.
func (b *Broadcaster) sendKeepAlive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	for runID, subs := range b.subs {
		for _, sub := range subs {
			if !sub.ready {
				continue
			}
			select {
			case sub.ch <- Event{Type: EventKeepAlive, RunID: runID, Time: now}:
			default:
			}
		}
	}
}
