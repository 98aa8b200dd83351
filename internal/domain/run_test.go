package domain

import (
	"errors"
	"testing"
)

func testPlan() Plan {
	return Plan{
		Voice: "alloy",
		Scenes: []Scene{
			{Narration: "Первая сцена", Visual: "утро в горах", DurationSec: 4},
			{Narration: "Вторая сцена", Visual: "город ночью", Motion: MotionZoomIn, DurationSec: 3},
		},
	}
}

func TestRun_StatusLifecycle(t *testing.T) {
	run := NewRun(testPlan())

	if run.Status != RunStatusQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}
	if run.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", run.Attempt)
	}

	if err := run.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if run.StartedAt == nil {
		t.Error("started_at not set")
	}

	if err := run.MarkFailed(StepVideoEncode, "encoder crashed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if run.FailedStep != StepVideoEncode || run.CurrentStep != StepVideoEncode {
		t.Errorf("failed step not recorded: %+v", run)
	}

	// done недостижим из failed без retry
	if err := run.MarkDone(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := run.ResetForRetry(); err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}
	if run.Status != RunStatusQueued || run.Attempt != 2 || run.Error != "" {
		t.Errorf("unexpected state after retry: %+v", run)
	}
}

func TestRun_RetryOnlyFromRetryableStatus(t *testing.T) {
	run := NewRun(testPlan())
	if err := run.ResetForRetry(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("queued run: expected ErrInvalidTransition, got %v", err)
	}

	_ = run.MarkRunning()
	_ = run.MarkDone(&QAReport{Passed: true})
	if err := run.ResetForRetry(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("done run: expected ErrInvalidTransition, got %v", err)
	}
}

func TestRun_Progress(t *testing.T) {
	run := NewRun(testPlan())

	for i, step := range Steps[:6] {
		run.CompleteStep(step)
		want := (i + 1) * 100 / 7
		if run.Progress != want {
			t.Errorf("after %s: progress %d, want %d", step, run.Progress, want)
		}
	}

	run.CompleteStep(StepFinalize)
	if run.Progress != 100 {
		t.Errorf("expected 100 after Finalize, got %d", run.Progress)
	}

	// повторное завершение не дублирует шаг
	run.CompleteStep(StepFinalize)
	if len(run.Checkpoint) != 7 {
		t.Errorf("expected 7 checkpoint entries, got %d", len(run.Checkpoint))
	}
}

func TestRun_NextStepAndTruncate(t *testing.T) {
	run := NewRun(testPlan())

	step, ok := run.NextStep()
	if !ok || step != StepSpeechSynthesis {
		t.Fatalf("expected Speech-Synthesis, got %s", step)
	}

	for _, s := range Steps[:5] {
		run.CompleteStep(s)
	}
	step, _ = run.NextStep()
	if step != StepVideoEncode {
		t.Errorf("expected Video-Encode, got %s", step)
	}

	dropped := run.TruncateCheckpoint(StepImageSynthesis)
	if len(dropped) != 3 {
		t.Errorf("expected 3 dropped steps, got %v", dropped)
	}
	if len(run.Checkpoint) != 2 {
		t.Errorf("expected 2 remaining steps, got %v", run.Checkpoint)
	}
	step, _ = run.NextStep()
	if step != StepImageSynthesis {
		t.Errorf("expected Image-Synthesis, got %s", step)
	}
	if run.Progress != 2*100/7 {
		t.Errorf("unexpected progress %d", run.Progress)
	}
}

func TestParseStep(t *testing.T) {
	step, err := ParseStep("Captions-Build")
	if err != nil || step != StepCaptionsBuild {
		t.Errorf("ParseStep: %s, %v", step, err)
	}

	if _, err := ParseStep("Upload"); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
}

func TestArtifacts_ClearStep(t *testing.T) {
	var a Artifacts
	a.SetImage(2, "img/3.png")
	if len(a.Images) != 3 || a.Images[2] != "img/3.png" {
		t.Fatalf("SetImage grew slice incorrectly: %v", a.Images)
	}

	a.Video = "video.mp4"
	clone := a.Clone()
	a.ClearStep(StepImageSynthesis)
	a.ClearStep(StepVideoEncode)

	if a.Images != nil || a.Video != "" {
		t.Errorf("ClearStep did not clear: %+v", a)
	}
	if len(clone.Images) != 3 || clone.Video == "" {
		t.Error("clone shares state with original")
	}
}
