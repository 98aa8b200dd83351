// Package ffmpeg реализует capability.Media поверх ffmpeg и ffprobe.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
)

// Default configuration values.
const (
	defaultFFmpeg       = "ffmpeg"
	defaultFFprobe      = "ffprobe"
	silenceNoiseFloorDB = -50
	fadeDuration        = 0.4
)

// Config — конфигурация Media.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

// Media — backend медиа на ffmpeg.
type Media struct {
	ffmpeg  string
	ffprobe string
	runner  commandRunner
	logger  *slog.Logger
}

// New создаёт Media.
func New(cfg Config) *Media {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = defaultFFmpeg
	}
	ffprobe := cfg.FFprobePath
	if ffprobe == "" {
		ffprobe = defaultFFprobe
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Media{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		runner:  &execRunner{},
		logger:  logger,
	}
}

// ConcatAudio склеивает аудиофайлы в один WAV.
func (m *Media) ConcatAudio(ctx context.Context, parts []string, out string) error {
	if len(parts) == 0 {
		return fmt.Errorf("concat: no parts")
	}
	args := []string{"-hide_banner", "-y"}
	var labels strings.Builder
	for i, p := range parts {
		args = append(args, "-i", p)
		fmt.Fprintf(&labels, "[%d:a]", i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[a]", labels.String(), len(parts))
	args = append(args, "-filter_complex", filter, "-map", "[a]", "-c:a", "pcm_s16le", "-ar", "48000", out)

	_, err := m.run(ctx, "concat", m.ffmpeg, args...)
	return err
}

// MixAudio смешивает озвучку с зацикленной музыкой или копирует озвучку.
func (m *Media) MixAudio(ctx context.Context, req capability.MixRequest) error {
	_, err := m.run(ctx, "mix", m.ffmpeg, mixArgs(req)...)
	return err
}

func mixArgs(req capability.MixRequest) []string {
	args := []string{"-hide_banner", "-y", "-i", req.Narration}
	if req.Music == "" {
		return append(args, "-c:a", "pcm_s16le", "-ar", "48000", req.Out)
	}
	filter := fmt.Sprintf(
		"[1:a]volume=%.1fdB[m];[0:a][m]amix=inputs=2:duration=first:dropout_transition=2:normalize=0[a]",
		req.MusicGain,
	)
	return append(args,
		"-stream_loop", "-1", "-i", req.Music,
		"-filter_complex", filter,
		"-map", "[a]",
		"-c:a", "pcm_s16le", "-ar", "48000",
		req.Out,
	)
}

// Encode собирает итоговое видео.
func (m *Media) Encode(ctx context.Context, comp capability.Composition) error {
	args, err := encodeArgs(comp)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, "encode", m.ffmpeg, args...)
	return err
}

// encodeArgs строит команду: по одному зацикленному входу на сцену,
// zoompan для движения, fade для перехода, concat, субтитры и loudnorm.
func encodeArgs(comp capability.Composition) ([]string, error) {
	if len(comp.Clips) == 0 {
		return nil, fmt.Errorf("encode: no clips")
	}
	o := comp.Output
	if o.Width <= 0 || o.Height <= 0 || o.FPS <= 0 {
		return nil, fmt.Errorf("encode: invalid output spec %+v", o)
	}

	args := []string{"-hide_banner", "-y"}
	// один кадр на сцену: zoompan выдаёт d кадров на каждый входной
	for _, clip := range comp.Clips {
		args = append(args, "-i", clip.Image)
	}
	audioIdx := len(comp.Clips)
	args = append(args, "-i", comp.Audio)

	var graph []string
	var concatIn strings.Builder
	for i, clip := range comp.Clips {
		frames := int(clip.Duration.Seconds() * float64(o.FPS))
		if frames < 1 {
			frames = 1
		}
		chain := fmt.Sprintf("[%d:v]trim=end_frame=1,scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,%s,setsar=1",
			i, o.Width*2, o.Height*2, o.Width*2, o.Height*2, zoompan(clip.Motion, frames, o))
		if clip.Transition == domain.TransitionFade {
			chain += fmt.Sprintf(",fade=t=in:st=0:d=%.1f", fadeDuration)
		}
		graph = append(graph, fmt.Sprintf("%s[v%d]", chain, i))
		fmt.Fprintf(&concatIn, "[v%d]", i)
	}

	video := fmt.Sprintf("%sconcat=n=%d:v=1:a=0,format=yuv420p", concatIn.String(), len(comp.Clips))
	if comp.Subtitles != "" {
		video += ",subtitles=" + escapeFilterPath(comp.Subtitles)
	}
	graph = append(graph, video+"[vout]")
	graph = append(graph, fmt.Sprintf("[%d:a]loudnorm=I=%.1f:TP=-1.5:LRA=11[aout]", audioIdx, o.LoudnessLUFS))

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[vout]", "-map", "[aout]",
		"-r", strconv.Itoa(o.FPS),
		"-c:v", "libx264", "-preset", "medium",
		"-b:v", fmt.Sprintf("%dk", o.MaxBitrateKbps),
		"-minrate", fmt.Sprintf("%dk", o.MinBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", o.MaxBitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", o.MaxBitrateKbps*2),
		"-c:a", "aac", "-b:a", "192k", "-ar", "48000",
		"-movflags", "+faststart",
		"-shortest",
		comp.Out,
	)
	return args, nil
}

func zoompan(motion domain.Motion, frames int, o capability.OutputSpec) string {
	size := fmt.Sprintf("%dx%d", o.Width, o.Height)
	var z, x, y string
	switch motion {
	case domain.MotionZoomIn:
		z, x, y = "min(zoom+0.0008,1.2)", "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	case domain.MotionZoomOut:
		z, x, y = "if(eq(on,0),1.2,max(zoom-0.0008,1))", "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	case domain.MotionPanLeft:
		z, x, y = "1.1", fmt.Sprintf("(iw-iw/zoom)*(1-on/%d)", frames), "ih/2-(ih/zoom/2)"
	case domain.MotionPanRight:
		z, x, y = "1.1", fmt.Sprintf("(iw-iw/zoom)*on/%d", frames), "ih/2-(ih/zoom/2)"
	default:
		z, x, y = "1", "0", "0"
	}
	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=%d:s=%s:fps=%d", z, x, y, frames, size, o.FPS)
}

// ExtractFrame сохраняет один кадр видео.
func (m *Media) ExtractFrame(ctx context.Context, video string, at time.Duration, out string) error {
	_, err := m.run(ctx, "frame", m.ffmpeg,
		"-hide_banner", "-y",
		"-ss", seconds(at),
		"-i", video,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	)
	return err
}

// probeOutput — ответ ffprobe -of json.
type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe читает разрешение, длительность и размер, затем ищет тишину.
func (m *Media) Probe(ctx context.Context, path string, opts capability.ProbeOptions) (capability.MediaInfo, error) {
	res, err := m.run(ctx, "probe", m.ffprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height:format=duration,size",
		"-of", "json",
		path,
	)
	if err != nil {
		return capability.MediaInfo{}, err
	}

	info, err := parseProbe(res.Stdout)
	if err != nil {
		return info, err
	}
	if opts.MinSilence <= 0 {
		return info, nil
	}

	res, err = m.run(ctx, "silencedetect", m.ffmpeg,
		"-hide_banner", "-nostats",
		"-i", path,
		"-af", fmt.Sprintf("silencedetect=noise=%ddB:d=%s", silenceNoiseFloorDB, seconds(opts.MinSilence)),
		"-f", "null", "-",
	)
	if err != nil {
		return info, err
	}
	info.Silences = parseSilences(res.Stderr, info.Duration)
	return info, nil
}

func parseProbe(out string) (capability.MediaInfo, error) {
	var p probeOutput
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		return capability.MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info capability.MediaInfo
	for _, s := range p.Streams {
		if s.CodecType == "video" {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(d * float64(time.Second))
	}
	if size, err := strconv.ParseInt(p.Format.Size, 10, 64); err == nil {
		info.SizeBytes = size
	}
	return info, nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([0-9.]+)`)
)

// parseSilences разбирает вывод silencedetect. Незакрытая тишина
// длится до конца файла.
func parseSilences(stderr string, total time.Duration) []capability.Interval {
	var out []capability.Interval
	var start time.Duration
	open := false

	for _, line := range strings.Split(stderr, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			start = parseSeconds(m[1])
			if start < 0 {
				start = 0
			}
			open = true
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && open {
			out = append(out, capability.Interval{Start: start, End: parseSeconds(m[1])})
			open = false
		}
	}
	if open && total > start {
		out = append(out, capability.Interval{Start: start, End: total})
	}
	return out
}

func (m *Media) run(ctx context.Context, op, name string, args ...string) (commandResult, error) {
	start := time.Now()
	res, err := m.runner.Run(ctx, name, args...)
	m.logger.Debug("media command finished",
		"op", op,
		"command", name,
		"exit_code", res.ExitCode,
		"duration", time.Since(start),
	)
	if err != nil {
		return res, &CommandError{
			Op:  op,
			Log: CommandLog{Command: name, Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr},
			Err: err,
		}
	}
	return res, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// escapeFilterPath экранирует путь для аргумента фильтра ffmpeg.
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`)
	return r.Replace(p)
}
