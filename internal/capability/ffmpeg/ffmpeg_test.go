package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
)

// fakeRunner подставляет поведение вместо запуска процессов.
type fakeRunner struct {
	calls [][]string
	run   func(name string, args []string) (commandResult, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(name, args)
}

func newTestMedia(r *fakeRunner) *Media {
	m := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	m.runner = r
	return m
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestEncodeArgs(t *testing.T) {
	comp := capability.Composition{
		Clips: []capability.Clip{
			{Image: "s1.png", Duration: 2 * time.Second, Motion: domain.MotionZoomIn},
			{Image: "s2.png", Duration: 3 * time.Second, Transition: domain.TransitionFade},
		},
		Audio:     "mix.wav",
		Subtitles: "/work/run/captions.ass",
		Output: capability.OutputSpec{
			Width: 1080, Height: 1920, FPS: 30,
			MinBitrateKbps: 4000, MaxBitrateKbps: 8000, LoudnessLUFS: -14,
		},
		Out: "video.partial.mp4",
	}

	args, err := encodeArgs(comp)
	if err != nil {
		t.Fatalf("encodeArgs: %v", err)
	}

	if args[len(args)-1] != "video.partial.mp4" {
		t.Errorf("output must be last argument, got %q", args[len(args)-1])
	}
	if argValue(args, "-r") != "30" || argValue(args, "-maxrate") != "8000k" || argValue(args, "-minrate") != "4000k" {
		t.Errorf("output constraints missing: %v", args)
	}

	graph := argValue(args, "-filter_complex")
	for _, want := range []string{
		"concat=n=2:v=1:a=0",
		"zoompan=z='min(zoom+0.0008,1.2)'",
		"fade=t=in",
		`subtitles=/work/run/captions.ass`,
		"[2:a]loudnorm=I=-14.0",
		"d=60:s=1080x1920",
	} {
		if !strings.Contains(graph, want) {
			t.Errorf("filter graph missing %q:\n%s", want, graph)
		}
	}
	if strings.Count(graph, "fade=t=in") != 1 {
		t.Error("fade must apply only to the scene with fade transition")
	}

	// каждая сцена подаётся одним кадром, длительность задаёт zoompan
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-loop") {
		t.Errorf("image inputs must not be looped: %s", joined)
	}
	for _, want := range []string{"-i s1.png", "-i s2.png"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing input %q: %s", want, joined)
		}
	}
	for _, want := range []string{
		"[0:v]trim=end_frame=1,",
		"[1:v]trim=end_frame=1,",
		"d=90:s=1080x1920",
	} {
		if !strings.Contains(graph, want) {
			t.Errorf("filter graph missing %q:\n%s", want, graph)
		}
	}
}

func TestEncodeArgs_Invalid(t *testing.T) {
	if _, err := encodeArgs(capability.Composition{}); err == nil {
		t.Error("expected error for empty composition")
	}
	_, err := encodeArgs(capability.Composition{Clips: []capability.Clip{{Image: "a", Duration: time.Second}}})
	if err == nil {
		t.Error("expected error for zero output spec")
	}
}

func TestMixArgs(t *testing.T) {
	plain := mixArgs(capability.MixRequest{Narration: "n.wav", Out: "m.wav"})
	if strings.Contains(strings.Join(plain, " "), "amix") {
		t.Error("mix without music must not use amix")
	}

	withMusic := mixArgs(capability.MixRequest{Narration: "n.wav", Music: "bg.mp3", MusicGain: -18, Out: "m.wav"})
	joined := strings.Join(withMusic, " ")
	if !strings.Contains(joined, "-stream_loop -1 -i bg.mp3") {
		t.Errorf("music must be looped: %s", joined)
	}
	if !strings.Contains(joined, "volume=-18.0dB") {
		t.Errorf("music gain missing: %s", joined)
	}
}

func TestParseSilences(t *testing.T) {
	stderr := `
[silencedetect @ 0x1] silence_start: 1.5
[silencedetect @ 0x1] silence_end: 2.25 | silence_duration: 0.75
[silencedetect @ 0x1] silence_start: 9.0
`
	got := parseSilences(stderr, 12*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 intervals, got %v", got)
	}
	if got[0].Start != 1500*time.Millisecond || got[0].End != 2250*time.Millisecond {
		t.Errorf("unexpected first interval %+v", got[0])
	}
	if got[1].End != 12*time.Second || got[1].Length() != 3*time.Second {
		t.Errorf("open silence must last until end, got %+v", got[1])
	}
}

func TestProbe(t *testing.T) {
	r := &fakeRunner{run: func(name string, args []string) (commandResult, error) {
		if name == "ffprobe" {
			return commandResult{Stdout: `{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1080,"height":1920}],
				"format":{"duration":"31.500000","size":"7340032"}}`}, nil
		}
		return commandResult{Stderr: "silence_start: 4\nsilence_end: 7 | silence_duration: 3\n"}, nil
	}}
	m := newTestMedia(r)

	info, err := m.Probe(context.Background(), "video.mp4", capability.ProbeOptions{MinSilence: 2 * time.Second})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Width != 1080 || info.Height != 1920 || info.SizeBytes != 7340032 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Duration != 31500*time.Millisecond {
		t.Errorf("unexpected duration %s", info.Duration)
	}
	if len(info.Silences) != 1 || info.Silences[0].Length() != 3*time.Second {
		t.Errorf("unexpected silences %v", info.Silences)
	}
	if len(r.calls) != 2 || !strings.Contains(strings.Join(r.calls[1], " "), "silencedetect=noise=-50dB:d=2.000") {
		t.Errorf("unexpected calls %v", r.calls)
	}
}

func TestCommandErrorCarriesStderr(t *testing.T) {
	r := &fakeRunner{run: func(string, []string) (commandResult, error) {
		return commandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
	}}
	m := newTestMedia(r)

	err := m.ExtractFrame(context.Background(), "video.mp4", time.Second, "f.jpg")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.Op != "frame" || cmdErr.Log.ExitCode != 1 {
		t.Errorf("unexpected command error %+v", cmdErr)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("stderr missing from message: %v", err)
	}
}
