// Package dryrun — детерминированные заглушки всех возможностей.
//
// Файлы, которые пишет провайдер, не являются настоящими медиа, но
// читаются обратно его же Probe и Transcribe, поэтому весь pipeline,
// включая QA, проходит без внешних сервисов. Провайдер умеет задерживать
// шаги и проваливать выбранный шаг.
package dryrun

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
)

const (
	audioHeader = "DRYRUN-AUDIO"
	videoFormat = "dryrun-video"

	wordDuration = 300 * time.Millisecond
	wordGap      = 50 * time.Millisecond
	sceneGap     = 600 * time.Millisecond
)

// Options — настройки dry-run провайдера.
type Options struct {
	// FailAt — шаг, который завершится ошибкой. Пустой — без сбоев.
	FailAt domain.Step

	// Delay — задержка перед каждым шагом.
	Delay time.Duration

	// StepDelays — задержки отдельных шагов (перекрывают Delay).
	StepDelays map[domain.Step]time.Duration

	// Silences — отрезки тишины, которые будут «записаны» в видео.
	Silences []capability.Interval

	// Resolution — переопределение разрешения видео (0 — из композиции).
	Width, Height int
}

// Provider реализует все возможности.
type Provider struct {
	opts Options

	mu    sync.Mutex
	calls map[string]int
}

// New создаёт Provider.
func New(opts Options) *Provider {
	return &Provider{opts: opts, calls: make(map[string]int)}
}

// Set возвращает набор возможностей на основе провайдера.
func (p *Provider) Set() capability.Set {
	return capability.Set{
		Name:        "dryrun",
		Speech:      p,
		Transcriber: p,
		Images:      p,
		Media:       p,
		Interceptor: p,
	}
}

// Calls возвращает число вызовов метода (например "images").
func (p *Provider) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *Provider) count(name string) {
	p.mu.Lock()
	p.calls[name]++
	p.mu.Unlock()
}

// Intercept задерживает шаг и внедряет сбой.
func (p *Provider) Intercept(ctx context.Context, step domain.Step) error {
	delay := p.opts.Delay
	if d, ok := p.opts.StepDelays[step]; ok {
		delay = d
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.opts.FailAt != "" && p.opts.FailAt == step {
		return capability.ErrInjected
	}
	return nil
}

// Synthesize пишет «аудио» с текстом озвучки.
func (p *Provider) Synthesize(ctx context.Context, req capability.SpeechRequest, out string) error {
	p.count("speech")
	if err := ctx.Err(); err != nil {
		return err
	}
	text := strings.Join(strings.Fields(req.Text), " ")
	return os.WriteFile(out, []byte(fmt.Sprintf("%s voice=%s\n%s\n", audioHeader, req.Voice, text)), 0o644)
}

// ConcatAudio склеивает строки озвучки всех частей.
func (p *Provider) ConcatAudio(ctx context.Context, parts []string, out string) error {
	p.count("concat")
	var buf bytes.Buffer
	buf.WriteString(audioHeader + " concat\n")
	for _, part := range parts {
		lines, err := readAudioLines(part)
		if err != nil {
			return err
		}
		for _, l := range lines {
			buf.WriteString(l + "\n")
		}
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

// Transcribe возвращает детерминированные таймкоды: 300ms на слово,
// 50ms между словами, 600ms между строками (сценами).
func (p *Provider) Transcribe(ctx context.Context, audioPath string) ([]domain.Word, error) {
	p.count("transcribe")
	lines, err := readAudioLines(audioPath)
	if err != nil {
		return nil, err
	}

	var words []domain.Word
	var cursor time.Duration
	for i, line := range lines {
		if i > 0 {
			cursor += sceneGap - wordGap
		}
		for _, w := range strings.Fields(line) {
			words = append(words, domain.Word{
				Text:    w,
				StartMs: cursor.Milliseconds(),
				EndMs:   (cursor + wordDuration).Milliseconds(),
			})
			cursor += wordDuration + wordGap
		}
	}
	return words, ctx.Err()
}

// Generate пишет «изображение» с промптом.
func (p *Provider) Generate(ctx context.Context, req capability.ImageRequest, out string) error {
	p.count("images")
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(out, []byte(fmt.Sprintf("DRYRUN-IMAGE %dx%d\n%s\n", req.Width, req.Height, req.Prompt)), 0o644)
}

// MixAudio копирует озвучку и дописывает имя музыки.
func (p *Provider) MixAudio(ctx context.Context, req capability.MixRequest) error {
	p.count("mix")
	data, err := os.ReadFile(req.Narration)
	if err != nil {
		return fmt.Errorf("read narration: %w", err)
	}
	if req.Music != "" {
		data = append(data, []byte(fmt.Sprintf("MUSIC %s gain=%.1f\n", req.Music, req.MusicGain))...)
	}
	return os.WriteFile(req.Out, data, 0o644)
}

// container — формат «видео» dry-run провайдера.
type container struct {
	Format     string                `json:"format"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	FPS        int                   `json:"fps"`
	DurationMs int64                 `json:"duration_ms"`
	Clips      int                   `json:"clips"`
	Subtitles  string                `json:"subtitles,omitempty"`
	Silences   []capability.Interval `json:"silences,omitempty"`
}

// Encode пишет JSON-описание композиции.
func (p *Provider) Encode(ctx context.Context, comp capability.Composition) error {
	p.count("encode")
	for _, clip := range comp.Clips {
		if _, err := os.Stat(clip.Image); err != nil {
			return fmt.Errorf("clip image: %w", err)
		}
	}
	if _, err := os.Stat(comp.Audio); err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	var total time.Duration
	for _, clip := range comp.Clips {
		total += clip.Duration
	}

	c := container{
		Format:     videoFormat,
		Width:      comp.Output.Width,
		Height:     comp.Output.Height,
		FPS:        comp.Output.FPS,
		DurationMs: total.Milliseconds(),
		Clips:      len(comp.Clips),
		Subtitles:  comp.Subtitles,
		Silences:   p.opts.Silences,
	}
	if p.opts.Width > 0 && p.opts.Height > 0 {
		c.Width, c.Height = p.opts.Width, p.opts.Height
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(comp.Out, data, 0o644)
}

// ExtractFrame пишет «кадр» с меткой времени.
func (p *Provider) ExtractFrame(ctx context.Context, video string, at time.Duration, out string) error {
	p.count("frame")
	if _, err := os.Stat(video); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	return os.WriteFile(out, []byte(fmt.Sprintf("DRYRUN-FRAME at=%s\n", at)), 0o644)
}

// Probe читает размер файла и, для видео dry-run, его параметры.
func (p *Provider) Probe(ctx context.Context, path string, opts capability.ProbeOptions) (capability.MediaInfo, error) {
	p.count("probe")
	st, err := os.Stat(path)
	if err != nil {
		return capability.MediaInfo{}, err
	}
	info := capability.MediaInfo{SizeBytes: st.Size()}

	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	var c container
	if json.Unmarshal(data, &c) != nil || c.Format != videoFormat {
		return info, nil
	}

	info.Width = c.Width
	info.Height = c.Height
	info.Duration = time.Duration(c.DurationMs) * time.Millisecond
	if opts.MinSilence > 0 {
		for _, s := range c.Silences {
			if s.Length() >= opts.MinSilence {
				info.Silences = append(info.Silences, s)
			}
		}
	}
	return info, nil
}

func readAudioLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			first = false
			if !strings.HasPrefix(line, audioHeader) {
				return nil, fmt.Errorf("%s: not a dry-run audio file", path)
			}
			continue
		}
		if strings.HasPrefix(line, "MUSIC ") || strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
