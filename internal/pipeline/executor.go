package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/qa"
	"github.com/shaiso/Montage/internal/runlog"
	"github.com/shaiso/Montage/internal/telemetry"
)

// Default configuration values.
const (
	defaultImageConcurrency  = 2
	defaultSpeechConcurrency = 1
	defaultCapabilityTimeout = 2 * time.Minute
	defaultEncodeTimeout     = 15 * time.Minute
	defaultMusicGainDB       = -18
)

// Journal — запись журнала и манифеста run (реализует runlog.Serializer).
type Journal interface {
	Append(runID uuid.UUID, entry domain.LogEntry) <-chan error
	UpdateArtifacts(runID uuid.UUID, fn func(a *domain.Artifacts)) <-chan error
}

// QualityGate проверяет готовое видео.
type QualityGate interface {
	Evaluate(ctx context.Context, video string) (*domain.QAReport, error)
}

// StepResult — результат шага.
type StepResult struct {
	// QA — отчёт проверки качества (только Finalize).
	QA *domain.QAReport
}

// Config — конфигурация Executor.
type Config struct {
	Caps      capability.Set
	Workspace *Workspace
	Journal   Journal

	// Gate — проверка качества. Nil — qa.Gate поверх Caps.Media.
	Gate QualityGate

	ImageConcurrency  int           // default: 2
	SpeechConcurrency int           // default: 1
	CapabilityTimeout time.Duration // таймаут одного вызова возможности (default: 2m)
	EncodeTimeout     time.Duration // таймаут кодирования (default: 15m)

	CaptionGap      time.Duration // пауза, начинающая новый сегмент (default: 350ms)
	CaptionMaxWords int           // default: 6

	MusicGainDB float64 // громкость музыки относительно озвучки (default: -18)
	Output      capability.OutputSpec

	Logger *slog.Logger
}

type stepFunc func(ctx context.Context, run *domain.Run) (*StepResult, error)

// Executor выполняет шаги pipeline.
type Executor struct {
	caps    capability.Set
	ws      *Workspace
	journal Journal
	gate    QualityGate
	steps   map[domain.Step]stepFunc

	imageConcurrency  int
	speechConcurrency int
	capTimeout        time.Duration
	encodeTimeout     time.Duration
	captionGap        time.Duration
	captionMaxWords   int
	musicGainDB       float64
	output            capability.OutputSpec

	logger *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	e := &Executor{
		caps:              cfg.Caps,
		ws:                cfg.Workspace,
		journal:           cfg.Journal,
		gate:              cfg.Gate,
		imageConcurrency:  cfg.ImageConcurrency,
		speechConcurrency: cfg.SpeechConcurrency,
		capTimeout:        cfg.CapabilityTimeout,
		encodeTimeout:     cfg.EncodeTimeout,
		captionGap:        cfg.CaptionGap,
		captionMaxWords:   cfg.CaptionMaxWords,
		musicGainDB:       cfg.MusicGainDB,
		output:            cfg.Output,
		logger:            cfg.Logger,
	}

	if e.imageConcurrency <= 0 {
		e.imageConcurrency = defaultImageConcurrency
	}
	if e.speechConcurrency <= 0 {
		e.speechConcurrency = defaultSpeechConcurrency
	}
	if e.capTimeout <= 0 {
		e.capTimeout = defaultCapabilityTimeout
	}
	if e.encodeTimeout <= 0 {
		e.encodeTimeout = defaultEncodeTimeout
	}
	if e.captionGap <= 0 {
		e.captionGap = DefaultCaptionGap
	}
	if e.captionMaxWords <= 0 {
		e.captionMaxWords = DefaultCaptionMaxWords
	}
	if e.musicGainDB == 0 {
		e.musicGainDB = defaultMusicGainDB
	}
	if e.output.Width <= 0 || e.output.Height <= 0 {
		e.output.Width, e.output.Height = 1080, 1920
	}
	if e.output.FPS <= 0 {
		e.output.FPS = 30
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.caps.Interceptor == nil {
		e.caps.Interceptor = capability.NopInterceptor{}
	}
	if e.gate == nil {
		e.gate = qa.New(qa.Config{
			Prober: e.caps.Media,
			Width:  e.output.Width,
			Height: e.output.Height,
			Logger: e.logger,
		})
	}

	e.steps = map[domain.Step]stepFunc{
		domain.StepSpeechSynthesis:        e.synthesizeSpeech,
		domain.StepTranscriptionAlignment: e.alignTranscript,
		domain.StepImageSynthesis:         e.synthesizeImages,
		domain.StepCaptionsBuild:          e.buildCaptions,
		domain.StepMusicMix:               e.mixMusic,
		domain.StepVideoEncode:            e.encodeVideo,
		domain.StepFinalize:               e.finalize,
	}
	return e
}

// Execute выполняет один шаг run.
//
// Перед шагом вызывается Interceptor. Ошибка всегда *StepError.
// Шаг не меняет статус и checkpoint run.
func (e *Executor) Execute(ctx context.Context, run *domain.Run, step domain.Step) (*StepResult, error) {
	fn, ok := e.steps[step]
	if !ok {
		return nil, NewStepError(step, "unknown step", domain.ErrUnknownStep)
	}

	logger := telemetry.WithStep(telemetry.WithRunID(e.logger, run.ID.String()), step.String())
	start := time.Now()

	result, err := e.invoke(ctx, run, step, fn)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.StepDuration.WithLabelValues(step.String(), outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Warn("step failed", "error", err, "duration", time.Since(start))
		return nil, asStepError(step, err)
	}
	logger.Info("step completed", "duration", time.Since(start))
	if result == nil {
		result = &StepResult{}
	}
	return result, nil
}

func (e *Executor) invoke(ctx context.Context, run *domain.Run, step domain.Step, fn stepFunc) (*StepResult, error) {
	if err := e.caps.Interceptor.Intercept(ctx, step); err != nil {
		return nil, err
	}
	return fn(ctx, run)
}

// Invalidate удаляет файлы шагов и убирает их из манифеста.
// Используется при retry с fromStep.
func (e *Executor) Invalidate(ctx context.Context, run *domain.Run, steps []domain.Step) error {
	if len(steps) == 0 {
		return nil
	}
	for _, step := range steps {
		for _, rel := range e.outputs(run.ID, step) {
			if err := e.ws.Remove(rel); err != nil {
				return fmt.Errorf("remove %s: %w", rel, err)
			}
		}
	}
	return e.record(ctx, run, func(a *domain.Artifacts) {
		for _, step := range steps {
			a.ClearStep(step)
		}
	})
}

// call вызывает возможность с таймаутом. Истечение таймаута превращается
// в capability.ErrTimeout, отмена родительского контекста — нет.
func (e *Executor) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", capability.ErrTimeout, timeout, err)
	}
	return err
}

// record применяет изменение манифеста через Journal и ждёт записи.
func (e *Executor) record(ctx context.Context, run *domain.Run, fn func(a *domain.Artifacts)) error {
	if err := runlog.Wait(ctx, e.journal.UpdateArtifacts(run.ID, fn)); err != nil {
		return fmt.Errorf("update artifacts: %w", err)
	}
	fn(&run.Artifacts)
	return nil
}

// note пишет строку в журнал run. Порядок записей сохраняет Journal.
func (e *Executor) note(run *domain.Run, step domain.Step, format string, args ...any) {
	e.journal.Append(run.ID, domain.NewLogEntry(domain.LogLevelInfo, step, fmt.Sprintf(format, args...)))
}

// require проверяет, что файлы предыдущих шагов на месте.
func (e *Executor) require(step domain.Step, rels ...string) error {
	var missing []string
	for _, rel := range rels {
		if !e.ws.Exists(rel) {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		return NewStepError(step, fmt.Sprintf("missing inputs %v", missing), ErrMissingArtifact)
	}
	return nil
}

func asStepError(step domain.Step, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	msg := "step failed"
	switch {
	case errors.Is(err, capability.ErrInjected):
		msg = "injected failure"
	case errors.Is(err, capability.ErrTimeout):
		msg = "capability timed out"
	case errors.Is(err, context.Canceled):
		msg = "interrupted"
	}
	return NewStepError(step, msg, err)
}
