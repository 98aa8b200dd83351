package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики render pipeline. Регистрируются в prometheus.DefaultRegisterer.
var (
	// RunsFinished — runs, завершённые по статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "montage_runs_finished_total",
		Help: "Render runs that reached a terminal status.",
	}, []string{"status"})

	// StepDuration — длительность шагов pipeline.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "montage_step_duration_seconds",
		Help:    "Duration of pipeline steps.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"step", "outcome"})

	// QueueDepth — runs, ожидающие слот.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "montage_queue_depth",
		Help: "Runs waiting for the render slot.",
	})

	// SlotBusy — 1, если слот рендера занят.
	SlotBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "montage_render_slot_busy",
		Help: "1 when a run holds the render slot.",
	})

	// Subscribers — активные подписчики прогресса.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "montage_progress_subscribers",
		Help: "Active progress stream subscribers.",
	})

	// QAFailures — непройденные проверки QA.
	QAFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "montage_qa_check_failures_total",
		Help: "QA checks that failed, by check.",
	}, []string{"check"})

	// RunLogFailures — ошибки записи журнала run.
	RunLogFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montage_runlog_write_failures_total",
		Help: "Failed run log or artifact manifest writes.",
	})

	// JanitorRemoved — удалённые незавершённые файлы.
	JanitorRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montage_janitor_removed_files_total",
		Help: "Stale partial files removed by the janitor.",
	})
)
