package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePlan = `
title: Morning fox
voice: narrator
scenes:
  - narration: "  The fox wakes up early  "
    visual: fox in a den
    motion: zoom_in
    duration_sec: 3
  - narration: It runs across the field
    visual: open field
    transition: fade
    duration_sec: 2.5
`

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(samplePlan))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}

	if plan.Title != "Morning fox" || plan.Voice != "narrator" || plan.MusicTrack != "" {
		t.Errorf("unexpected header %+v", plan)
	}
	if len(plan.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(plan.Scenes))
	}
	if plan.Scenes[0].Narration != "The fox wakes up early" {
		t.Errorf("narration not trimmed: %q", plan.Scenes[0].Narration)
	}
	if plan.Scenes[0].Motion != "zoom_in" || plan.Scenes[1].Transition != "fade" {
		t.Errorf("effects not parsed: %+v", plan.Scenes)
	}
	if got := plan.TotalSeconds(); got != 5.5 {
		t.Errorf("TotalSeconds = %v, want 5.5", got)
	}
}

func TestParsePlan_JSON(t *testing.T) {
	data := `{"title":"json","scenes":[{"narration":"hi","visual":"v","duration_sec":1}]}`
	plan, err := ParsePlan([]byte(data))
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Title != "json" || len(plan.Scenes) != 1 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestParsePlan_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty document"},
		{"no scenes", "title: x\n", "no scenes"},
		{"unknown field", "scenes:\n  - narration: a\n    visual: b\n    duration: 2\n", "duration"},
		{"malformed", "scenes: [", "parse plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if len(plan.Scenes) != 2 {
		t.Errorf("scenes = %d", len(plan.Scenes))
	}

	if _, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
