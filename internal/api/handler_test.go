package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/broadcast"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/orchestrator"
	"github.com/shaiso/Montage/internal/queue"
	"github.com/shaiso/Montage/internal/repo"
)

// fakeController — управляемая реализация Controller.
type fakeController struct {
	runs        map[uuid.UUID]*domain.Run
	err         error
	lastFilter  repo.RunFilter
	lastFrom    *domain.Step
	lastAuto    bool
	broadcaster *broadcast.Broadcaster
	snapshot    queue.Snapshot
}

func newFakeController() *fakeController {
	c := &fakeController{runs: make(map[uuid.UUID]*domain.Run)}
	c.broadcaster = broadcast.New(broadcast.Config{
		Snapshot: func(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
			return c.GetRun(ctx, id)
		},
	})
	return c
}

func (c *fakeController) add(status domain.RunStatus) *domain.Run {
	run := domain.NewRun(domain.Plan{Title: "demo", Scenes: []domain.Scene{{Narration: "n", Visual: "v", DurationSec: 2}}})
	run.Status = status
	c.runs[run.ID] = run
	return run
}

func (c *fakeController) CreateRun(_ context.Context, plan domain.Plan, autoStart bool) (*domain.Run, error) {
	if c.err != nil {
		return nil, c.err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	c.lastAuto = autoStart
	run := domain.NewRun(plan)
	c.runs[run.ID] = run
	return run, nil
}

func (c *fakeController) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := c.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrRunNotFound, id)
	}
	return run, nil
}

func (c *fakeController) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	c.lastFilter = filter
	var out []domain.Run
	for _, run := range c.runs {
		if filter.Status == "" || run.Status == filter.Status {
			out = append(out, *run)
		}
	}
	return out, c.err
}

func (c *fakeController) StartRun(ctx context.Context, id uuid.UUID) (*domain.Run, int, error) {
	run, err := c.GetRun(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if run.Status != domain.RunStatusQueued {
		return nil, 0, fmt.Errorf("%w: cannot start run in status %s", orchestrator.ErrInvalidState, run.Status)
	}
	return run, 2, nil
}

func (c *fakeController) RetryRun(ctx context.Context, id uuid.UUID, fromStep *domain.Step) (*domain.Run, int, error) {
	run, err := c.GetRun(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	c.lastFrom = fromStep
	if fromStep != nil && !fromStep.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", domain.ErrUnknownStep, *fromStep)
	}
	run.Status = domain.RunStatusQueued
	return run, 0, nil
}

func (c *fakeController) CancelRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := c.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel run in status %s", orchestrator.ErrInvalidState, run.Status)
	}
	run.Status = domain.RunStatusCanceled
	return run, nil
}

func (c *fakeController) QueueSnapshot() queue.Snapshot { return c.snapshot }

func (c *fakeController) Subscribe(ctx context.Context, id uuid.UUID) (*broadcast.Subscription, error) {
	if _, err := c.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return c.broadcaster.Subscribe(ctx, id)
}

func (c *fakeController) Unsubscribe(sub *broadcast.Subscription) { c.broadcaster.Unsubscribe(sub) }

func newTestServer(t *testing.T, ctrl Controller) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(Config{Controller: ctrl}).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestCreateRun(t *testing.T) {
	ctrl := newFakeController()
	mux := newTestServer(t, ctrl)

	body := `{"plan":{"title":"fox","scenes":[{"narration":"hi","visual":"fox","duration_sec":2}]},"auto_start":true}`
	rec := do(t, mux, http.MethodPost, "/api/v1/runs", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	run := decodeData[RunResponse](t, rec)
	if run.Status != "queued" || run.Plan.Title != "fox" || len(run.Checkpoint) != 0 {
		t.Errorf("unexpected run %+v", run)
	}
	if !ctrl.lastAuto {
		t.Error("auto_start not passed through")
	}
}

func TestCreateRun_BadInput(t *testing.T) {
	mux := newTestServer(t, newFakeController())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"plan":`},
		{"no scenes", `{"plan":{"scenes":[]}}`},
		{"empty narration", `{"plan":{"scenes":[{"visual":"v","duration_sec":1}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodPost, "/api/v1/runs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	ctrl := newFakeController()
	run := ctrl.add(domain.RunStatusRunning)
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodGet, "/api/v1/runs/"+run.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[RunResponse](t, rec); got.ID != run.ID || got.Status != "running" {
		t.Errorf("unexpected run %+v", got)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/runs/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != ErrCodeNotFound {
		t.Errorf("unknown run: status %d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/runs/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status %d", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	ctrl := newFakeController()
	ctrl.add(domain.RunStatusDone)
	ctrl.add(domain.RunStatusFailed)
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodGet, "/api/v1/runs?status=failed&limit=5&offset=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	runs := decodeData[[]RunSummaryResponse](t, rec)
	if len(runs) != 1 || runs[0].Status != "failed" || runs[0].Title != "demo" {
		t.Errorf("unexpected list %+v", runs)
	}
	if ctrl.lastFilter.Limit != 5 || ctrl.lastFilter.Offset != 2 {
		t.Errorf("filter = %+v", ctrl.lastFilter)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/runs?status=paused", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status: %d", rec.Code)
	}
}

func TestStartRun(t *testing.T) {
	ctrl := newFakeController()
	queued := ctrl.add(domain.RunStatusQueued)
	done := ctrl.add(domain.RunStatusDone)
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodPost, "/api/v1/runs/"+queued.ID.String()+"/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[RunActionResponse](t, rec); got.QueuePosition != 2 || got.Run.ID != queued.ID {
		t.Errorf("unexpected response %+v", got)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/runs/"+done.ID.String()+"/start", "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != ErrCodeInvalidState {
		t.Errorf("start done run: status %d", rec.Code)
	}
}

func TestRetryRun(t *testing.T) {
	ctrl := newFakeController()
	run := ctrl.add(domain.RunStatusFailed)
	mux := newTestServer(t, ctrl)
	path := "/api/v1/runs/" + run.ID.String() + "/retry"

	rec := do(t, mux, http.MethodPost, path, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("retry without body: status %d, body %s", rec.Code, rec.Body)
	}
	if ctrl.lastFrom != nil {
		t.Errorf("from_step = %v, want nil", *ctrl.lastFrom)
	}

	rec = do(t, mux, http.MethodPost, path, `{"from_step":"Image-Synthesis"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("retry from step: status %d", rec.Code)
	}
	if ctrl.lastFrom == nil || *ctrl.lastFrom != domain.StepImageSynthesis {
		t.Errorf("from_step = %v", ctrl.lastFrom)
	}

	rec = do(t, mux, http.MethodPost, path, `{"from_step":"Upload"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown step: status %d", rec.Code)
	}
}

func TestCancelRun(t *testing.T) {
	ctrl := newFakeController()
	waiting := ctrl.add(domain.RunStatusQueued)
	done := ctrl.add(domain.RunStatusDone)
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodPost, "/api/v1/runs/"+waiting.ID.String()+"/cancel", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeData[RunResponse](t, rec); got.Status != "canceled" {
		t.Errorf("status = %s", got.Status)
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/runs/"+done.ID.String()+"/cancel", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel done run: status %d", rec.Code)
	}
}

func TestGetQueue(t *testing.T) {
	ctrl := newFakeController()
	holder, waiting := uuid.New(), uuid.New()
	ctrl.snapshot = queue.Snapshot{Holder: &holder, Waiting: []uuid.UUID{waiting}}
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodGet, "/api/v1/queue", "")
	got := decodeData[QueueResponse](t, rec)
	if got.Holder == nil || *got.Holder != holder || len(got.Waiting) != 1 || got.Waiting[0] != waiting {
		t.Errorf("unexpected queue %+v", got)
	}

	ctrl.snapshot = queue.Snapshot{}
	rec = do(t, mux, http.MethodGet, "/api/v1/queue", "")
	if !strings.Contains(rec.Body.String(), `"waiting":[]`) {
		t.Errorf("empty queue body %s", rec.Body)
	}
}

func TestStreamEvents(t *testing.T) {
	ctrl := newFakeController()
	run := ctrl.add(domain.RunStatusRunning)
	srv := httptest.NewServer(newTestServer(t, ctrl))
	defer srv.Close()
	defer ctrl.broadcaster.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/runs/"+run.ID.String()+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	// подписка зарегистрирована до ответа, событие дойдёт после снимка
	done := *run
	done.Status = domain.RunStatusDone
	done.Progress = 100
	ctrl.broadcaster.Publish(run.ID, broadcast.StatusEvent(&done))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, name)
		}
	}

	if len(types) != 2 || types[0] != "snapshot" || types[1] != "status" {
		t.Errorf("event types = %v, want [snapshot status]", types)
	}
	if ctrl.broadcaster.Count(run.ID) != 0 {
		t.Error("subscription left after stream closed")
	}
}

func TestStreamEvents_UnknownRun(t *testing.T) {
	ctrl := newFakeController()
	mux := newTestServer(t, ctrl)

	rec := do(t, mux, http.MethodGet, "/api/v1/runs/"+uuid.NewString()+"/events", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
