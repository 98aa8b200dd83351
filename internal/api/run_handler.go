package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.RunStatus(status)
		if !s.Valid() {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = s
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		filter.Limit = mustParseInt(limitStr, 50)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		filter.Offset = mustParseInt(offsetStr, 0)
	}

	runs, err := h.ctrl.ListRuns(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]RunSummaryResponse, len(runs))
	for i, run := range runs {
		result[i] = RunSummaryFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun создаёт run для плана.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	run, err := h.ctrl.CreateRun(r.Context(), req.Plan, req.AutoStart)
	if HandleError(w, h.logger, err, "") {
		return
	}

	Created(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.ctrl.GetRun(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// StartRun ставит созданный run в очередь рендера.
// POST /api/v1/runs/{id}/start
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, pos, err := h.ctrl.StartRun(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: RunActionResponse{
		Run:           RunFromDomain(*run),
		QueuePosition: pos,
	}})
}

// RetryRun повторяет run, опционально с указанного шага.
// POST /api/v1/runs/{id}/retry
func (h *Handler) RetryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	// тело необязательно
	var req RetryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	var fromStep *domain.Step
	if req.FromStep != "" {
		step := domain.Step(req.FromStep)
		fromStep = &step
	}

	run, pos, err := h.ctrl.RetryRun(r.Context(), id, fromStep)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: RunActionResponse{
		Run:           RunFromDomain(*run),
		QueuePosition: pos,
	}})
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
//
// Выполняемый run останавливается на границе шагов, поэтому в ответе
// он может ещё быть в running.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.ctrl.CancelRun(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: RunFromDomain(*run)})
}

// GetQueue возвращает состояние очереди рендера.
// GET /api/v1/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	Success(w, QueueFromSnapshot(h.ctrl.QueueSnapshot()))
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// mustParseInt парсит строку в int с дефолтным значением.
func mustParseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
