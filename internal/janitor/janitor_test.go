package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/pipeline"
)

type fixedSlot uuid.UUID

func (s fixedSlot) Holder() uuid.UUID { return uuid.UUID(s) }

func writeAged(t *testing.T, ws *pipeline.Workspace, rel string, age time.Duration) string {
	t.Helper()
	path := ws.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mod := time.Now().Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweep(t *testing.T) {
	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	idle, active := uuid.New(), uuid.New()

	stale := writeAged(t, ws, ws.Rel(idle, "images", "scene-001.partial.png"), 2*time.Hour)
	fresh := writeAged(t, ws, ws.Rel(idle, "mix.partial.wav"), time.Minute)
	published := writeAged(t, ws, ws.Rel(idle, "video.mp4"), 3*time.Hour)
	held := writeAged(t, ws, ws.Rel(active, "video.partial.mp4"), 2*time.Hour)
	outside := writeAged(t, ws, "scratch/old.partial.wav", 2*time.Hour)

	j, err := New(Config{Workspace: ws, Slot: fixedSlot(active), MinAge: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Found != 2 || res.Removed != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}

	if exists(stale) {
		t.Error("stale partial file not removed")
	}
	for _, path := range []string{fresh, published, held, outside} {
		if !exists(path) {
			t.Errorf("%s removed", path)
		}
	}
}

func TestSweep_NoSlot(t *testing.T) {
	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path := writeAged(t, ws, ws.Rel(uuid.New(), "narration.partial.wav"), 2*time.Hour)

	j, err := New(Config{Workspace: ws})
	if err != nil {
		t.Fatal(err)
	}
	if res, err := j.Sweep(context.Background()); err != nil || res.Removed != 1 {
		t.Errorf("Sweep = %+v, %v", res, err)
	}
	if exists(path) {
		t.Error("partial file not removed")
	}
}

func TestSweep_Canceled(t *testing.T) {
	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	j, err := New(Config{Workspace: ws})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := j.Sweep(ctx); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Workspace: ws, Schedule: "every ten minutes"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/10 * * * *", false},
		{"0 3 * * *", false},
		{"@hourly", false},
		{"* * *", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if err := ValidateSchedule(tt.expr); (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	ws, err := pipeline.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	j, err := New(Config{Workspace: ws, Schedule: "@every 10ms"})
	if err != nil {
		t.Fatal(err)
	}
	path := writeAged(t, ws, ws.Rel(uuid.New(), "captions.partial.ass"), 2*time.Hour)

	j.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for exists(path) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	j.Stop()

	if exists(path) {
		t.Error("scheduled sweep did not run")
	}
}
