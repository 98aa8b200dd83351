// Package providers выбирает набор возможностей по конфигурации.
package providers

import (
	"fmt"
	"log/slog"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/capability/dryrun"
	"github.com/shaiso/Montage/internal/capability/ffmpeg"
	"github.com/shaiso/Montage/internal/capability/live"
	"github.com/shaiso/Montage/internal/config"
	"github.com/shaiso/Montage/internal/domain"
)

// New собирает capability.Set. Выбор делается один раз при старте.
func New(cfg config.CapabilitiesConfig, logger *slog.Logger) (capability.Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case config.ModeDryRun, "":
		opts := dryrun.Options{Delay: cfg.DryRun.StepDelay.Duration}
		if cfg.DryRun.FailAt != "" {
			step, err := domain.ParseStep(cfg.DryRun.FailAt)
			if err != nil {
				return capability.Set{}, err
			}
			opts.FailAt = step
		}
		logger.Info("using dry-run capabilities",
			"fail_at", opts.FailAt,
			"step_delay", opts.Delay,
		)
		return dryrun.New(opts).Set(), nil

	case config.ModeLive:
		client := live.New(live.Config{
			SpeechURL:        cfg.SpeechURL,
			TranscriptionURL: cfg.TranscriptionURL,
			ImagesURL:        cfg.ImagesURL,
			APIKey:           cfg.APIKey,
			Logger:           logger,
		})
		if err := client.Validate(); err != nil {
			return capability.Set{}, err
		}
		set := capability.Set{
			Name:        "live",
			Speech:      client,
			Transcriber: client,
			Images:      client,
			Media: ffmpeg.New(ffmpeg.Config{
				FFmpegPath:  cfg.FFmpegPath,
				FFprobePath: cfg.FFprobePath,
				Logger:      logger,
			}),
			Interceptor: capability.NopInterceptor{},
		}
		logger.Info("using live capabilities", "ffmpeg", cfg.FFmpegPath)
		return set, set.Validate()

	default:
		return capability.Set{}, fmt.Errorf("unknown capability mode %q", cfg.Mode)
	}
}
