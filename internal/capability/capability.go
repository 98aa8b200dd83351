// Package capability описывает внешние возможности, которые вызывают шаги
// pipeline: синтез речи, транскрипцию, генерацию изображений и работу с медиа.
//
// Реализации выбираются один раз при старте (см. пакет providers):
// dryrun — детерминированные заглушки, live — HTTP-клиенты и ffmpeg.
// Все методы пишут результат в переданный путь; публикацию файла делает
// вызывающий шаг.
package capability

import (
	"context"
	"time"

	"github.com/shaiso/Montage/internal/domain"
)

// SpeechRequest — запрос синтеза речи.
type SpeechRequest struct {
	Text  string
	Voice string
}

// Speech синтезирует озвучку.
type Speech interface {
	Synthesize(ctx context.Context, req SpeechRequest, out string) error
}

// Transcriber возвращает таймкоды слов аудиофайла.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]domain.Word, error)
}

// ImageRequest — запрос генерации изображения.
type ImageRequest struct {
	Prompt string
	Width  int
	Height int
}

// Images генерирует изображения сцен.
type Images interface {
	Generate(ctx context.Context, req ImageRequest, out string) error
}

// MixRequest — смешивание озвучки с фоновой музыкой.
// Пустой Music означает копию озвучки.
type MixRequest struct {
	Narration string
	Music     string
	MusicGain float64 // dB, обычно отрицательное
	Out       string
}

// OutputSpec — фиксированные параметры итогового видео.
type OutputSpec struct {
	Width          int
	Height         int
	FPS            int
	MinBitrateKbps int
	MaxBitrateKbps int
	LoudnessLUFS   float64
}

// Clip — одна сцена в композиции.
type Clip struct {
	Image      string
	Duration   time.Duration
	Motion     domain.Motion
	Transition domain.Transition
}

// Composition — всё, из чего собирается итоговое видео.
type Composition struct {
	Clips     []Clip
	Audio     string
	Subtitles string
	Output    OutputSpec
	Out       string
}

// Interval — отрезок времени в медиафайле.
type Interval struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Length возвращает длину отрезка.
func (i Interval) Length() time.Duration { return i.End - i.Start }

// MediaInfo — результат анализа медиафайла.
type MediaInfo struct {
	Width     int
	Height    int
	Duration  time.Duration
	SizeBytes int64
	Silences  []Interval
}

// ProbeOptions — параметры анализа.
type ProbeOptions struct {
	// MinSilence — минимальная длина тишины для отчёта. 0 — не искать тишину.
	MinSilence time.Duration
}

// Media — склейка, микширование, кодирование и анализ медиа.
type Media interface {
	ConcatAudio(ctx context.Context, parts []string, out string) error
	MixAudio(ctx context.Context, req MixRequest) error
	Encode(ctx context.Context, comp Composition) error
	ExtractFrame(ctx context.Context, video string, at time.Duration, out string) error
	Probe(ctx context.Context, path string, opts ProbeOptions) (MediaInfo, error)
}

// Interceptor вызывается перед каждым шагом. Ошибка проваливает шаг.
// Используется dry-run режимом для задержек и внедрения сбоев.
type Interceptor interface {
	Intercept(ctx context.Context, step domain.Step) error
}

// NopInterceptor ничего не делает.
type NopInterceptor struct{}

// Intercept реализует Interceptor.
func (NopInterceptor) Intercept(context.Context, domain.Step) error { return nil }

// Set — набор возможностей, выбранный при старте.
type Set struct {
	Name        string
	Speech      Speech
	Transcriber Transcriber
	Images      Images
	Media       Media
	Interceptor Interceptor
}

// Validate проверяет, что все возможности заданы.
func (s Set) Validate() error {
	switch {
	case s.Speech == nil:
		return missing("speech")
	case s.Transcriber == nil:
		return missing("transcriber")
	case s.Images == nil:
		return missing("images")
	case s.Media == nil:
		return missing("media")
	}
	return nil
}
