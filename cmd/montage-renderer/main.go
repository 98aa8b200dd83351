// Montage Renderer — рендер-сервис коротких роликов.
//
// Renderer:
//   - Хранит runs (Postgres, bbolt или память)
//   - Выполняет pipeline шагов в одном слоте рендера
//   - Принимает команды через HTTP API и run.requested из RabbitMQ
//   - Транслирует прогресс по SSE, публикует run.finished
//   - Чистит брошенные временные файлы по cron
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Montage/internal/api"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/capability/providers"
	"github.com/shaiso/Montage/internal/config"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/janitor"
	"github.com/shaiso/Montage/internal/mq"
	"github.com/shaiso/Montage/internal/orchestrator"
	"github.com/shaiso/Montage/internal/pipeline"
	"github.com/shaiso/Montage/internal/qa"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
	"github.com/shaiso/Montage/internal/runlog"
	"github.com/shaiso/Montage/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting montage-renderer",
		"store", cfg.Store.Driver,
		"capabilities", cfg.Capabilities.Mode,
		"workspace", cfg.Workspace,
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Хранилище runs
	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open run store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Возможности выбираются один раз при старте
	caps, err := providers.New(cfg.Capabilities, logger)
	if err != nil {
		logger.Error("failed to build capabilities", "error", err)
		os.Exit(1)
	}
	if err := caps.Validate(); err != nil {
		logger.Error("capability set incomplete", "error", err)
		os.Exit(1)
	}

	ws, err := pipeline.NewWorkspace(cfg.Workspace)
	if err != nil {
		logger.Error("failed to prepare workspace", "error", err)
		os.Exit(1)
	}

	// Прогресс и журнал
	broadcaster := broadcast.New(broadcast.Config{
		Snapshot:  store.GetByID,
		KeepAlive: cfg.Progress.KeepAlive.Duration,
		Logger:    logger,
	})
	broadcaster.Start(ctx)

	journal := runlog.New(runlog.Config{
		Store: store,
		OnAppend: func(runID uuid.UUID, entry domain.LogEntry) {
			broadcaster.Publish(runID, broadcast.LogEvent(runID, entry))
		},
		Logger: logger,
	})

	renderQueue := queue.New(queue.Config{Logger: logger})

	executor := pipeline.New(pipeline.Config{
		Caps:      caps,
		Workspace: ws,
		Journal:   journal,
		Gate: qa.New(qa.Config{
			Prober:       caps.Media,
			MaxSilence:   cfg.QA.MaxSilence.Duration,
			MaxSizeBytes: cfg.QA.MaxSizeBytes,
			SizeMargin:   cfg.QA.SizeMargin,
			Width:        cfg.Pipeline.Output.Width,
			Height:       cfg.Pipeline.Output.Height,
			Logger:       logger,
		}),
		ImageConcurrency:  cfg.Pipeline.ImageConcurrency,
		SpeechConcurrency: cfg.Pipeline.SpeechConcurrency,
		CapabilityTimeout: cfg.Capabilities.Timeout.Duration,
		EncodeTimeout:     cfg.Pipeline.EncodeTimeout.Duration,
		CaptionGap:        cfg.Pipeline.CaptionGap.Duration,
		CaptionMaxWords:   cfg.Pipeline.CaptionMaxWords,
		MusicGainDB:       cfg.Pipeline.MusicGainDB,
		Output: capability.OutputSpec{
			Width:          cfg.Pipeline.Output.Width,
			Height:         cfg.Pipeline.Output.Height,
			FPS:            cfg.Pipeline.Output.FPS,
			MinBitrateKbps: cfg.Pipeline.Output.MinBitrateKbps,
			MaxBitrateKbps: cfg.Pipeline.Output.MaxBitrateKbps,
			LoudnessLUFS:   cfg.Pipeline.Output.LoudnessLUFS,
		},
		Logger: logger,
	})

	// RabbitMQ (опционально)
	var mqConn *mq.Connection
	var notifier orchestrator.Notifier
	if cfg.MQ.URL != "" {
		mqConn, err = mq.NewConnection(cfg.MQ.URL, "montage-renderer", logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
			mqConn = nil
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			notifier = mq.NewPublisher(mqConn, logger)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:        store,
		Queue:        renderQueue,
		Executor:     executor,
		Journal:      journal,
		Broadcaster:  broadcaster,
		Conn:         mqConn,
		Notifier:     notifier,
		PollInterval: cfg.Orchestrator.PollInterval.Duration,
		Logger:       logger,
	})
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	sweeper, err := janitor.New(janitor.Config{
		Workspace: ws,
		Slot:      renderQueue,
		Schedule:  cfg.Janitor.Schedule,
		MinAge:    cfg.Janitor.MinAge.Duration,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create janitor", "error", err)
		os.Exit(1)
	}
	sweeper.Start(ctx)

	// HTTP: API + /healthz + /metrics
	mux := http.NewServeMux()
	api.NewHandler(api.Config{Controller: orch, Logger: logger}).RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if orch.IsStopped() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("stopping"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Потоки событий закрываются вместе с broadcaster, поэтому он
	// останавливается до ожидания HTTP соединений.
	broadcaster.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}

	sweeper.Stop()
	orch.Stop()
	journal.Close()
	logger.Info("montage-renderer stopped")
}

// openStore открывает хранилище runs по драйверу.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (repo.RunStore, func(), error) {
	switch cfg.Driver {
	case config.StorePostgres:
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected")
		return repo.NewRunRepo(pool), pool.Close, nil

	case config.StoreBolt:
		store, err := repo.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("bolt store opened", "path", cfg.BoltPath)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close bolt store", "error", err)
			}
		}, nil

	case config.StoreMemory:
		logger.Warn("using in-memory run store, runs are lost on restart")
		return repo.NewMemoryRunRepo(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
