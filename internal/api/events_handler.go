package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shaiso/Montage/internal/broadcast"
)

// StreamEvents отдаёт поток событий прогресса run (Server-Sent Events).
// GET /api/v1/runs/{id}/events
//
// Первым идёт снимок состояния run. Поток закрывается после события
// финального статуса или при отключении клиента.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, h.logger, fmt.Errorf("streaming unsupported"))
		return
	}

	sub, err := h.ctrl.Subscribe(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}
	defer h.ctrl.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("event stream opened", "run_id", id)

	ctx := r.Context()
	count := 0
	reason := "client_gone"
	defer func() {
		h.logger.Debug("event stream closed", "run_id", id, "events", count, "reason", reason)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				reason = "subscription_closed"
				return
			}
			if err := writeEvent(w, ev); err != nil {
				reason = "write_failed"
				return
			}
			flusher.Flush()
			count++
			if ev.Terminal() {
				reason = "terminal"
				return
			}
		}
	}
}

// writeEvent пишет событие в формате SSE. Keep-alive уходит комментарием.
func writeEvent(w http.ResponseWriter, ev broadcast.Event) error {
	if ev.Type == broadcast.EventKeepAlive {
		_, err := fmt.Fprint(w, ": keep-alive\n\n")
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}
