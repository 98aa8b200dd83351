package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Plan)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *Plan) {}},
		{name: "no scenes", mutate: func(p *Plan) { p.Scenes = nil }, wantErr: true},
		{name: "empty narration", mutate: func(p *Plan) { p.Scenes[0].Narration = "  " }, wantErr: true},
		{name: "empty visual", mutate: func(p *Plan) { p.Scenes[1].Visual = "" }, wantErr: true},
		{name: "zero duration", mutate: func(p *Plan) { p.Scenes[0].DurationSec = 0 }, wantErr: true},
		{name: "unknown motion", mutate: func(p *Plan) { p.Scenes[0].Motion = "spin" }, wantErr: true},
		{name: "unknown transition", mutate: func(p *Plan) { p.Scenes[0].Transition = "wipe" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testPlan()
			tt.mutate(&plan)
			err := plan.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPlan_TotalDuration(t *testing.T) {
	plan := testPlan()
	if got := plan.TotalDuration(); got != 7*time.Second {
		t.Errorf("expected 7s, got %s", got)
	}
}
