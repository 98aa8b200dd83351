package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Montage/internal/pipeline"
	"github.com/shaiso/Montage/internal/telemetry"
)

const (
	defaultSchedule = "*/10 * * * *"
	defaultMinAge   = time.Hour
)

// Slot сообщает, какой run сейчас держит слот рендера.
type Slot interface {
	Holder() uuid.UUID
}

// Config — конфигурация Janitor.
type Config struct {
	Workspace *pipeline.Workspace
	Slot      Slot
	Schedule  string        // cron-выражение (default: */10 * * * *)
	MinAge    time.Duration // минимальный возраст файла (default: 1h)
	Logger    *slog.Logger
}

// Janitor — периодическая очистка незавершённых файлов.
type Janitor struct {
	ws       *pipeline.Workspace
	slot     Slot
	schedule cron.Schedule
	expr     string
	minAge   time.Duration
	logger   *slog.Logger

	mu   sync.Mutex // один sweep за раз
	cron *cron.Cron
}

// SweepResult — итог одного прохода.
type SweepResult struct {
	Found   int
	Removed int
	Skipped int
}

// New создаёт Janitor. Некорректное расписание — ошибка.
func New(cfg Config) (*Janitor, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = defaultSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	minAge := cfg.MinAge
	if minAge <= 0 {
		minAge = defaultMinAge
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		ws:       cfg.Workspace,
		slot:     cfg.Slot,
		schedule: schedule,
		expr:     expr,
		minAge:   minAge,
		logger:   logger.With("component", "janitor"),
	}, nil
}

// Start запускает cron. Проходы выполняются до Stop или отмены ctx.
func (j *Janitor) Start(ctx context.Context) {
	j.cron = cron.New(cron.WithParser(cronParser))
	j.cron.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			j.logger.Error("sweep failed", "error", err)
		}
	}))
	j.cron.Start()

	j.logger.Info("janitor started", "schedule", j.expr, "min_age", j.minAge)
}

// Stop останавливает cron и ждёт текущий проход.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

// Sweep выполняет один проход очистки.
func (j *Janitor) Sweep(ctx context.Context) (SweepResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var res SweepResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	partials, err := j.ws.Partials(j.minAge)
	if err != nil {
		return res, fmt.Errorf("scan workspace: %w", err)
	}
	res.Found = len(partials)
	if res.Found == 0 {
		return res, nil
	}

	var active uuid.UUID
	if j.slot != nil {
		active = j.slot.Holder()
	}

	for _, p := range partials {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// файл выполняемого run может быть ещё открыт шагом
		if p.RunID == active {
			res.Skipped++
			continue
		}
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to remove partial file", "path", p.Path, "error", err)
			continue
		}
		res.Removed++
		telemetry.JanitorRemoved.Inc()
		j.logger.Debug("removed partial file", "run_id", p.RunID, "path", p.Path, "mod_time", p.ModTime)
	}

	j.logger.Info("sweep completed", "found", res.Found, "removed", res.Removed, "skipped", res.Skipped)
	return res, nil
}
