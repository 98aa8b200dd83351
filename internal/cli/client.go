package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Checkpoint  []string   `json:"checkpoint"`
	Artifacts   Artifacts  `json:"artifacts"`
	Log         []LogEntry `json:"log"`
	Plan        Plan       `json:"plan"`
	FailedStep  string     `json:"failed_step,omitempty"`
	Error       string     `json:"error,omitempty"`
	QA          *QAReport  `json:"qa,omitempty"`
	Attempt     int        `json:"attempt"`
	QueuedAt    string     `json:"queued_at,omitempty"`
	StartedAt   string     `json:"started_at,omitempty"`
	FinishedAt  string     `json:"finished_at,omitempty"`
	CreatedAt   string     `json:"created_at"`
}

// RunSummary — краткая запись run из списка.
type RunSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
	Attempt     int    `json:"attempt"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RunAction — ответ на start/retry.
type RunAction struct {
	Run           RunResponse `json:"run"`
	QueuePosition int         `json:"queue_position"`
}

// Artifacts — манифест файлов run.
type Artifacts struct {
	Narration  []string `json:"narration,omitempty"`
	Audio      string   `json:"audio,omitempty"`
	Alignment  string   `json:"alignment,omitempty"`
	Images     []string `json:"images,omitempty"`
	Captions   string   `json:"captions,omitempty"`
	MixedAudio string   `json:"mixed_audio,omitempty"`
	Video      string   `json:"video,omitempty"`
	Previews   []string `json:"previews,omitempty"`
}

// LogEntry — запись журнала run.
type LogEntry struct {
	Time    string `json:"ts"`
	Level   string `json:"level"`
	Step    string `json:"step,omitempty"`
	Message string `json:"msg"`
}

// QAReport — отчёт проверки качества.
type QAReport struct {
	Passed bool `json:"passed"`
	Checks struct {
		Silence    bool `json:"silence"`
		Size       bool `json:"size"`
		Resolution bool `json:"resolution"`
	} `json:"checks"`
	Details []string `json:"details,omitempty"`
}

// QueueResponse — состояние очереди рендера.
type QueueResponse struct {
	Holder  string   `json:"holder,omitempty"`
	Waiting []string `json:"waiting"`
}

// Event — событие прогресса из потока /events.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	Time     string    `json:"time"`
	Status   string    `json:"status,omitempty"`
	Progress int       `json:"progress"`
	Step     string    `json:"step,omitempty"`
	Error    string    `json:"error,omitempty"`
	Log      *LogEntry `json:"log,omitempty"`
	QA       *QAReport `json:"qa,omitempty"`
}

// Terminal возвращает true для финального статуса run.
func (e Event) Terminal() bool {
	if e.Type != "status" && e.Type != "snapshot" {
		return false
	}
	switch e.Status {
	case "done", "failed", "canceled", "quality_failed":
		return true
	}
	return false
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Plan      Plan `json:"plan"`
	AutoStart bool `json:"auto_start,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Status string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Montage API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient без общего таймаута: поток событий живёт, пока идёт рендер.
	streamClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunSummary, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunSummary
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run для плана.
func (c *Client) CreateRun(req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// StartRun ставит run в очередь рендера.
func (c *Client) StartRun(id string) (*RunAction, error) {
	var action RunAction
	err := c.post("/api/v1/runs/"+id+"/start", nil, &action)
	return &action, err
}

// RetryRun повторяет run. Пустой fromStep — с первого незавершённого шага.
func (c *Client) RetryRun(id, fromStep string) (*RunAction, error) {
	var body any
	if fromStep != "" {
		body = map[string]string{"from_step": fromStep}
	}
	var action RunAction
	err := c.post("/api/v1/runs/"+id+"/retry", body, &action)
	return &action, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// Queue возвращает состояние очереди рендера.
func (c *Client) Queue() (*QueueResponse, error) {
	var q QueueResponse
	err := c.get("/api/v1/queue", &q)
	return &q, err
}

// WatchRun читает поток событий run и вызывает fn для каждого события.
// Возвращает nil после финального статуса. Ошибка fn прерывает чтение.
func (c *Client) WatchRun(ctx context.Context, id string, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/runs/"+id+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = dataLines[:0]

			var ev Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			if err := fn(ev); err != nil {
				return err
			}
			if ev.Terminal() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read event stream: %w", err)
	}
	return fmt.Errorf("event stream closed before run finished")
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
