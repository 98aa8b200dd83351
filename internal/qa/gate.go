// Package qa проверяет готовое видео перед переводом run в done.
//
// Проверки: нет непрерывной тишины длиннее порога, размер меньше потолка
// с запасом, разрешение точно совпадает с ожидаемым. Все проверки должны
// пройти для passed=true.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxSilence   = 2 * time.Second
	defaultMaxSizeBytes = 50 << 20
	defaultSizeMargin   = 0.05
	defaultWidth        = 1080
	defaultHeight       = 1920
)

// Prober анализирует медиафайл.
type Prober interface {
	Probe(ctx context.Context, path string, opts capability.ProbeOptions) (capability.MediaInfo, error)
}

// Config — конфигурация Gate.
type Config struct {
	Prober       Prober
	MaxSilence   time.Duration // порог непрерывной тишины (default: 2s)
	MaxSizeBytes int64         // потолок размера (default: 50 MiB)
	SizeMargin   float64       // запас от потолка (default: 0.05)
	Width        int           // ожидаемая ширина (default: 1080)
	Height       int           // ожидаемая высота (default: 1920)
	Logger       *slog.Logger
}

// Gate — проверка качества.
type Gate struct {
	prober       Prober
	maxSilence   time.Duration
	maxSizeBytes int64
	sizeMargin   float64
	width        int
	height       int
	logger       *slog.Logger
}

// New создаёт Gate.
func New(cfg Config) *Gate {
	g := &Gate{
		prober:       cfg.Prober,
		maxSilence:   cfg.MaxSilence,
		maxSizeBytes: cfg.MaxSizeBytes,
		sizeMargin:   cfg.SizeMargin,
		width:        cfg.Width,
		height:       cfg.Height,
		logger:       cfg.Logger,
	}
	if g.maxSilence <= 0 {
		g.maxSilence = defaultMaxSilence
	}
	if g.maxSizeBytes <= 0 {
		g.maxSizeBytes = defaultMaxSizeBytes
	}
	if g.sizeMargin <= 0 || g.sizeMargin >= 1 {
		g.sizeMargin = defaultSizeMargin
	}
	if g.width <= 0 || g.height <= 0 {
		g.width, g.height = defaultWidth, defaultHeight
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// SizeLimit возвращает допустимый размер с учётом запаса.
func (g *Gate) SizeLimit() int64 {
	return int64(float64(g.maxSizeBytes) * (1 - g.sizeMargin))
}

// Evaluate проверяет видео. Ошибка означает, что проверку провести
// не удалось (файл не читается), а не что видео плохое.
func (g *Gate) Evaluate(ctx context.Context, video string) (*domain.QAReport, error) {
	// тишина ровно на пороге допустима, поэтому ищем отрезки от порога и
	// сравниваем строго
	info, err := g.prober.Probe(ctx, video, capability.ProbeOptions{MinSilence: g.maxSilence})
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", video, err)
	}

	report := &domain.QAReport{
		Checks: domain.QAChecks{
			Silence:    true,
			Size:       true,
			Resolution: true,
		},
		CheckedAt: time.Now().UTC(),
	}

	for _, s := range info.Silences {
		if s.Length() > g.maxSilence {
			report.Checks.Silence = false
			report.Details = append(report.Details, fmt.Sprintf(
				"silent segment of %.2fs at %.2fs exceeds %.2fs",
				s.Length().Seconds(), s.Start.Seconds(), g.maxSilence.Seconds(),
			))
		}
	}

	if limit := g.SizeLimit(); info.SizeBytes >= limit {
		report.Checks.Size = false
		report.Details = append(report.Details, fmt.Sprintf(
			"file size %d bytes exceeds limit %d bytes", info.SizeBytes, limit,
		))
	}

	if info.Width != g.width || info.Height != g.height {
		report.Checks.Resolution = false
		report.Details = append(report.Details, fmt.Sprintf(
			"resolution %dx%d, expected %dx%d", info.Width, info.Height, g.width, g.height,
		))
	}

	report.Passed = report.Checks.Silence && report.Checks.Size && report.Checks.Resolution
	for _, check := range report.FailedChecks() {
		telemetry.QAFailures.WithLabelValues(check).Inc()
	}

	g.logger.Info("qa evaluated",
		"video", video,
		"passed", report.Passed,
		"size_bytes", info.SizeBytes,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"silences", len(info.Silences),
	)
	return report, nil
}
