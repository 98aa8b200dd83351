package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
)

// Controller — управляющие операции над runs.
// Реализуется orchestrator.Orchestrator.
type Controller interface {
	CreateRun(ctx context.Context, plan domain.Plan, autoStart bool) (*domain.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	StartRun(ctx context.Context, id uuid.UUID) (*domain.Run, int, error)
	RetryRun(ctx context.Context, id uuid.UUID, fromStep *domain.Step) (*domain.Run, int, error)
	CancelRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	QueueSnapshot() queue.Snapshot
	Subscribe(ctx context.Context, id uuid.UUID) (*broadcast.Subscription, error)
	Unsubscribe(sub *broadcast.Subscription)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	ctrl   Controller
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Controller Controller
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ctrl:   cfg.Controller,
		logger: logger,
	}
}
