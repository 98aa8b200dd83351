package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Montage/internal/domain"
)

func words(bounds ...int64) []domain.Word {
	// bounds: start, end парами
	var ws []domain.Word
	for i := 0; i+1 < len(bounds); i += 2 {
		ws = append(ws, domain.Word{Text: "w", StartMs: bounds[i], EndMs: bounds[i+1]})
	}
	return ws
}

func TestGroupWords_PauseStartsSegment(t *testing.T) {
	in := words(
		0, 300,
		350, 650, // пауза 50ms
		1100, 1400, // пауза 450ms > 350ms
		1750, 2000, // пауза ровно 350ms — тот же сегмент
	)
	segs := GroupWords(in, 350*time.Millisecond, 10)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if len(segs[0].Words) != 2 || len(segs[1].Words) != 2 {
		t.Errorf("unexpected grouping: %+v", segs)
	}
	if segs[0].Start != 0 || segs[0].End != 650*time.Millisecond {
		t.Errorf("segment 0 bounds: %s-%s", segs[0].Start, segs[0].End)
	}
	if segs[1].Start != 1100*time.Millisecond || segs[1].End != 2000*time.Millisecond {
		t.Errorf("segment 1 bounds: %s-%s", segs[1].Start, segs[1].End)
	}
}

func TestGroupWords_MaxWords(t *testing.T) {
	var in []domain.Word
	for i := int64(0); i < 7; i++ {
		in = append(in, domain.Word{Text: "w", StartMs: i * 100, EndMs: i*100 + 90})
	}
	segs := GroupWords(in, time.Second, 3)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if got := []int{len(segs[0].Words), len(segs[1].Words), len(segs[2].Words)}; got[0] != 3 || got[1] != 3 || got[2] != 1 {
		t.Errorf("unexpected sizes %v", got)
	}
}

func TestGroupWords_SkipsBlankAndEmpty(t *testing.T) {
	if segs := GroupWords(nil, 0, 0); len(segs) != 0 {
		t.Errorf("expected no segments, got %+v", segs)
	}
	in := []domain.Word{{Text: " ", StartMs: 0, EndMs: 10}, {Text: "hi", StartMs: 20, EndMs: 30}}
	segs := GroupWords(in, 0, 0)
	if len(segs) != 1 || segs[0].Text() != "hi" {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestRenderASS(t *testing.T) {
	segs := []CaptionSegment{
		{Start: 0, End: 1500 * time.Millisecond, Words: []string{"hello", "{world}"}},
		{Start: 61*time.Second + 230*time.Millisecond, End: 3723 * time.Second, Words: []string{"bye"}},
	}
	out := RenderASS(segs, DefaultCaptionStyle(1080, 1920))

	for _, want := range []string{
		"PlayResX: 1080",
		"PlayResY: 1920",
		"Dialogue: 0,0:00:00.00,0:00:01.50,Default,,0,0,0,,hello (world)",
		"Dialogue: 0,0:01:01.23,1:02:03.00,Default,,0,0,0,,bye",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if out != RenderASS(segs, DefaultCaptionStyle(1080, 1920)) {
		t.Error("rendering is not deterministic")
	}
}
