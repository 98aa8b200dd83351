package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Montage/internal/capability"
)

func TestClient_Synthesize(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFF....WAVE"))
	}))
	defer srv.Close()

	c := New(Config{SpeechURL: srv.URL, APIKey: "secret"})
	out := filepath.Join(t.TempDir(), "speech.wav")

	err := c.Synthesize(context.Background(), capability.SpeechRequest{Text: "привет", Voice: "nova"}, out)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got["text"] != "привет" || got["voice"] != "nova" {
		t.Errorf("unexpected request body %v", got)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "RIFF....WAVE" {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{SpeechURL: srv.URL})
	err := c.Synthesize(context.Background(), capability.SpeechRequest{Text: "x"}, filepath.Join(t.TempDir(), "a.wav"))

	var capErr *capability.Error
	if !errors.As(err, &capErr) {
		t.Fatalf("expected capability.Error, got %v", err)
	}
	if capErr.Status != http.StatusTooManyRequests || !capErr.Temporary() {
		t.Errorf("unexpected error %+v", capErr)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{ImagesURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Generate(ctx, capability.ImageRequest{Prompt: "x"}, filepath.Join(t.TempDir(), "i.png"))
	if !errors.Is(err, capability.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("timestamps") != "word" {
			t.Errorf("timestamps field missing")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"words":[{"word":" hello","start":0.0,"end":0.42},{"word":"world","start":0.5,"end":0.9}]}`))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(audio, []byte("audio"), 0o644)

	c := New(Config{TranscriptionURL: srv.URL})
	words, err := c.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(words) != 2 || words[0].Text != "hello" || words[0].EndMs != 420 || words[1].StartMs != 500 {
		t.Errorf("unexpected words %+v", words)
	}
}

func TestClient_GenerateBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("PNGDATA"))}},
		})
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "i.png")
	c := New(Config{ImagesURL: srv.URL})
	if err := c.Generate(context.Background(), capability.ImageRequest{Prompt: "x", Width: 1080, Height: 1920}, out); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "PNGDATA" {
		t.Errorf("unexpected image %q", data)
	}
}

func TestClient_Validate(t *testing.T) {
	if err := New(Config{SpeechURL: "x"}).Validate(); !errors.Is(err, capability.ErrMissing) {
		t.Errorf("expected ErrMissing, got %v", err)
	}
}
