package qa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Montage/internal/capability"
)

type fakeProber struct {
	info capability.MediaInfo
	err  error
	opts capability.ProbeOptions
}

func (f *fakeProber) Probe(_ context.Context, _ string, opts capability.ProbeOptions) (capability.MediaInfo, error) {
	f.opts = opts
	return f.info, f.err
}

func goodInfo() capability.MediaInfo {
	return capability.MediaInfo{
		Width:     1080,
		Height:    1920,
		Duration:  30 * time.Second,
		SizeBytes: 10 << 20,
	}
}

func TestGate_Passes(t *testing.T) {
	p := &fakeProber{info: goodInfo()}
	p.info.Silences = []capability.Interval{{Start: 5 * time.Second, End: 7 * time.Second}}
	g := New(Config{Prober: p})

	report, err := g.Evaluate(context.Background(), "video.mp4")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !report.Passed {
		t.Errorf("expected pass, got %+v", report)
	}
	if p.opts.MinSilence != 2*time.Second {
		t.Errorf("prober asked for silences >= %s", p.opts.MinSilence)
	}
}

func TestGate_SilenceFails(t *testing.T) {
	p := &fakeProber{info: goodInfo()}
	p.info.Silences = []capability.Interval{{Start: 10 * time.Second, End: 13 * time.Second}}
	g := New(Config{Prober: p})

	report, err := g.Evaluate(context.Background(), "video.mp4")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Passed || report.Checks.Silence {
		t.Errorf("expected silence failure, got %+v", report)
	}
	if !report.Checks.Size || !report.Checks.Resolution {
		t.Errorf("other checks must pass: %+v", report.Checks)
	}
	if len(report.Details) != 1 {
		t.Errorf("expected one detail, got %v", report.Details)
	}
}

func TestGate_SizeAndResolution(t *testing.T) {
	p := &fakeProber{info: goodInfo()}
	g := New(Config{Prober: p, MaxSizeBytes: 100, SizeMargin: 0.1, Width: 720, Height: 1280})

	// лимит 90 байт: 89 проходит, 90 — нет
	p.info.SizeBytes = 89
	p.info.Width, p.info.Height = 720, 1280
	report, _ := g.Evaluate(context.Background(), "v")
	if !report.Passed {
		t.Errorf("expected pass under limit: %+v", report)
	}

	p.info.SizeBytes = 90
	p.info.Width = 1080
	report, _ = g.Evaluate(context.Background(), "v")
	if report.Checks.Size || report.Checks.Resolution || report.Passed {
		t.Errorf("expected size and resolution failures: %+v", report)
	}
	failed := report.FailedChecks()
	if len(failed) != 2 || failed[0] != "size" || failed[1] != "resolution" {
		t.Errorf("unexpected failed checks %v", failed)
	}
}

func TestGate_ProbeError(t *testing.T) {
	g := New(Config{Prober: &fakeProber{err: errors.New("moov atom not found")}})
	if _, err := g.Evaluate(context.Background(), "v"); err == nil {
		t.Error("expected probe error")
	}
}
