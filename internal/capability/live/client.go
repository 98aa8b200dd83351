// Package live — HTTP-клиенты внешних провайдеров речи, транскрипции
// и изображений.
//
// Протокол провайдеров:
//
//	POST {speech_url}        {"text","voice","format":"wav"}   → аудио в теле ответа
//	POST {transcription_url} multipart file=<audio>             → {"words":[{"word","start","end"}]}
//	POST {images_url}        {"prompt","width","height"}        → изображение или {"data":[{"b64_json"}]}
package live

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
)

// Config — конфигурация Client.
type Config struct {
	SpeechURL        string
	TranscriptionURL string
	ImagesURL        string
	APIKey           string
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client реализует capability.Speech, Transcriber и Images.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New создаёт Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Validate проверяет, что заданы все адреса провайдеров.
func (c *Client) Validate() error {
	var missing []string
	if c.cfg.SpeechURL == "" {
		missing = append(missing, "speech url")
	}
	if c.cfg.TranscriptionURL == "" {
		missing = append(missing, "transcription url")
	}
	if c.cfg.ImagesURL == "" {
		missing = append(missing, "images url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", capability.ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Synthesize запрашивает озвучку и пишет ответ в out.
func (c *Client) Synthesize(ctx context.Context, req capability.SpeechRequest, out string) error {
	body := map[string]any{
		"text":   req.Text,
		"voice":  req.Voice,
		"format": "wav",
	}
	resp, err := c.postJSON(ctx, "speech", c.cfg.SpeechURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return writeBody(resp.Body, out)
}

// transcriptionResponse — ответ провайдера транскрипции.
type transcriptionResponse struct {
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe отправляет аудио и возвращает слова с таймкодами.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]domain.Word, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	_ = mw.WriteField("timestamps", "word")
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TranscriptionURL, &buf)
	if err != nil {
		return nil, c.fail("transcription", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req, "transcription")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, c.fail("transcription", fmt.Errorf("decode response: %w", err))
	}

	words := make([]domain.Word, 0, len(tr.Words))
	for _, w := range tr.Words {
		words = append(words, domain.Word{
			Text:    strings.TrimSpace(w.Word),
			StartMs: secondsToMs(w.Start),
			EndMs:   secondsToMs(w.End),
		})
	}
	return words, nil
}

// imagesResponse — JSON-вариант ответа генератора изображений.
type imagesResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate запрашивает изображение и пишет его в out.
func (c *Client) Generate(ctx context.Context, req capability.ImageRequest, out string) error {
	body := map[string]any{
		"prompt": req.Prompt,
		"width":  req.Width,
		"height": req.Height,
	}
	resp, err := c.postJSON(ctx, "images", c.cfg.ImagesURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return writeBody(resp.Body, out)
	}

	var ir imagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return c.fail("images", fmt.Errorf("decode response: %w", err))
	}
	if len(ir.Data) == 0 || ir.Data[0].B64JSON == "" {
		return c.fail("images", errors.New("response contains no image"))
	}
	data, err := base64.StdEncoding.DecodeString(ir.Data[0].B64JSON)
	if err != nil {
		return c.fail("images", fmt.Errorf("decode image: %w", err))
	}
	return os.WriteFile(out, data, 0o644)
}

func (c *Client) postJSON(ctx context.Context, capName, url string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, c.fail(capName, fmt.Errorf("marshal body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, c.fail(capName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, capName)
}

// do выполняет запрос. HTTP >= 400 превращается в capability.Error.
func (c *Client) do(req *http.Request, capName string) (*http.Response, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", capability.ErrTimeout, capName)
		}
		return nil, c.fail(capName, err)
	}

	c.logger.Debug("capability request finished",
		"capability", capName,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &capability.Error{
			Capability: capName,
			Status:     resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(msg)), 200),
		}
	}
	return resp, nil
}

func (c *Client) fail(capName string, err error) error {
	return &capability.Error{Capability: capName, Message: err.Error(), Err: err}
}

func writeBody(r io.Reader, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if n == 0 {
		return fmt.Errorf("write %s: provider returned empty body", out)
	}
	return nil
}

func secondsToMs(s float64) int64 {
	return int64(s*1000 + 0.5)
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
