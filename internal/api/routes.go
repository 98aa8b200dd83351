package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/start", chain(http.HandlerFunc(h.StartRun)))
	mux.Handle("POST /api/v1/runs/{id}/retry", chain(http.HandlerFunc(h.RetryRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/events", chain(http.HandlerFunc(h.StreamEvents)))

	// Queue
	mux.Handle("GET /api/v1/queue", chain(http.HandlerFunc(h.GetQueue)))
}
