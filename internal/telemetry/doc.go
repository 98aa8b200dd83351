// Package telemetry обеспечивает наблюдаемость рендерера.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики pipeline, очереди и QA
//
// Метрики экспортируются на /metrics endpoint рендерера.
package telemetry
