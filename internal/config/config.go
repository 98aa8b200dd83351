// Package config загружает конфигурацию рендерера.
//
// Порядок: значения по умолчанию → TOML файл (MONTAGE_CONFIG) → переменные
// окружения. Окружение имеет приоритет над файлом.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shaiso/Montage/internal/domain"
	"github.com/shaiso/Montage/internal/janitor"
)

// Значения драйверов и режимов.
const (
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
	StoreMemory   = "memory"

	ModeDryRun = "dryrun"
	ModeLive   = "live"
)

// ErrInvalid — конфигурация не прошла проверку.
var ErrInvalid = errors.New("invalid config")

// Duration — time.Duration, который читается из строки вида "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText реализует encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config — конфигурация рендерера.
type Config struct {
	HTTP         HTTPConfig         `toml:"http"`
	Log          LogConfig          `toml:"log"`
	Store        StoreConfig        `toml:"store"`
	MQ           MQConfig           `toml:"mq"`
	Workspace    string             `toml:"workspace"`
	Capabilities CapabilitiesConfig `toml:"capabilities"`
	Pipeline     PipelineConfig     `toml:"pipeline"`
	QA           QAConfig           `toml:"qa"`
	Progress     ProgressConfig     `toml:"progress"`
	Janitor      JanitorConfig      `toml:"janitor"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
}

type HTTPConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type StoreConfig struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
	BoltPath    string `toml:"bolt_path"`
}

// MQConfig — RabbitMQ. Пустой URL отключает брокер.
type MQConfig struct {
	URL string `toml:"url"`
}

type CapabilitiesConfig struct {
	Mode             string       `toml:"mode"`
	SpeechURL        string       `toml:"speech_url"`
	TranscriptionURL string       `toml:"transcription_url"`
	ImagesURL        string       `toml:"images_url"`
	APIKey           string       `toml:"api_key"`
	FFmpegPath       string       `toml:"ffmpeg_path"`
	FFprobePath      string       `toml:"ffprobe_path"`
	Timeout          Duration     `toml:"timeout"`
	DryRun           DryRunConfig `toml:"dryrun"`
}

// DryRunConfig — внедрение задержек и сбоев в dry-run режиме.
type DryRunConfig struct {
	FailAt    string   `toml:"fail_at"`
	StepDelay Duration `toml:"step_delay"`
}

type PipelineConfig struct {
	ImageConcurrency  int          `toml:"image_concurrency"`
	SpeechConcurrency int          `toml:"speech_concurrency"`
	EncodeTimeout     Duration     `toml:"encode_timeout"`
	CaptionGap        Duration     `toml:"caption_gap"`
	CaptionMaxWords   int          `toml:"caption_max_words"`
	MusicGainDB       float64      `toml:"music_gain_db"`
	Output            OutputConfig `toml:"output"`
}

type OutputConfig struct {
	Width          int     `toml:"width"`
	Height         int     `toml:"height"`
	FPS            int     `toml:"fps"`
	MinBitrateKbps int     `toml:"min_bitrate_kbps"`
	MaxBitrateKbps int     `toml:"max_bitrate_kbps"`
	LoudnessLUFS   float64 `toml:"loudness_lufs"`
}

type QAConfig struct {
	MaxSilence   Duration `toml:"max_silence"`
	MaxSizeBytes int64    `toml:"max_size_bytes"`
	SizeMargin   float64  `toml:"size_margin"`
}

type ProgressConfig struct {
	KeepAlive Duration `toml:"keepalive"`
}

type JanitorConfig struct {
	Schedule string   `toml:"schedule"`
	MinAge   Duration `toml:"min_age"`
}

type OrchestratorConfig struct {
	PollInterval Duration `toml:"poll_interval"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Port: "8080"},
		Log:       LogConfig{Level: "INFO", Format: "json"},
		Store:     StoreConfig{Driver: StorePostgres, BoltPath: "montage.db"},
		Workspace: "./workspace",
		Capabilities: CapabilitiesConfig{
			Mode:        ModeDryRun,
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			Timeout:     Duration{2 * time.Minute},
		},
		Pipeline: PipelineConfig{
			ImageConcurrency:  2,
			SpeechConcurrency: 1,
			EncodeTimeout:     Duration{15 * time.Minute},
			CaptionGap:        Duration{350 * time.Millisecond},
			CaptionMaxWords:   6,
			MusicGainDB:       -18,
			Output: OutputConfig{
				Width:          1080,
				Height:         1920,
				FPS:            30,
				MinBitrateKbps: 4000,
				MaxBitrateKbps: 8000,
				LoudnessLUFS:   -14,
			},
		},
		QA: QAConfig{
			MaxSilence:   Duration{2 * time.Second},
			MaxSizeBytes: 50 << 20,
			SizeMargin:   0.05,
		},
		Progress:     ProgressConfig{KeepAlive: Duration{15 * time.Second}},
		Janitor:      JanitorConfig{Schedule: "*/10 * * * *", MinAge: Duration{time.Hour}},
		Orchestrator: OrchestratorConfig{PollInterval: Duration{10 * time.Second}},
	}
}

// Load читает конфигурацию из MONTAGE_CONFIG и окружения процесса.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("MONTAGE_CONFIG"), os.Getenv)
}

// LoadFrom читает конфигурацию из файла path (может быть пустым)
// и переменных, которые возвращает getenv.
func LoadFrom(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	env := envReader{getenv: getenv}
	env.str("LOG_LEVEL", &cfg.Log.Level)
	env.str("LOG_FORMAT", &cfg.Log.Format)
	env.str("RENDER_PORT", &cfg.HTTP.Port)
	env.str("STORE_DRIVER", &cfg.Store.Driver)
	env.str("DB_URL", &cfg.Store.DatabaseURL)
	env.str("BOLT_PATH", &cfg.Store.BoltPath)
	env.str("RABBITMQ_URL", &cfg.MQ.URL)
	env.str("WORKSPACE_DIR", &cfg.Workspace)
	env.str("CAPABILITY_MODE", &cfg.Capabilities.Mode)
	env.str("SPEECH_URL", &cfg.Capabilities.SpeechURL)
	env.str("TRANSCRIPTION_URL", &cfg.Capabilities.TranscriptionURL)
	env.str("IMAGES_URL", &cfg.Capabilities.ImagesURL)
	env.str("PROVIDER_API_KEY", &cfg.Capabilities.APIKey)
	env.str("FFMPEG_PATH", &cfg.Capabilities.FFmpegPath)
	env.str("FFPROBE_PATH", &cfg.Capabilities.FFprobePath)
	env.duration("CAPABILITY_TIMEOUT", &cfg.Capabilities.Timeout)
	env.str("DRYRUN_FAIL_AT", &cfg.Capabilities.DryRun.FailAt)
	env.duration("DRYRUN_STEP_DELAY", &cfg.Capabilities.DryRun.StepDelay)
	env.integer("IMAGE_CONCURRENCY", &cfg.Pipeline.ImageConcurrency)
	env.integer("SPEECH_CONCURRENCY", &cfg.Pipeline.SpeechConcurrency)
	env.duration("ENCODE_TIMEOUT", &cfg.Pipeline.EncodeTimeout)
	env.duration("CAPTION_GAP", &cfg.Pipeline.CaptionGap)
	env.duration("QA_MAX_SILENCE", &cfg.QA.MaxSilence)
	env.int64("QA_MAX_SIZE_BYTES", &cfg.QA.MaxSizeBytes)
	env.duration("KEEPALIVE_INTERVAL", &cfg.Progress.KeepAlive)
	env.str("JANITOR_SCHEDULE", &cfg.Janitor.Schedule)
	env.duration("POLL_INTERVAL", &cfg.Orchestrator.PollInterval)
	if env.err != nil {
		return cfg, env.err
	}

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность значений.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StorePostgres, StoreBolt, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
	switch c.Capabilities.Mode {
	case ModeDryRun, ModeLive:
	default:
		return fmt.Errorf("%w: unknown capability mode %q", ErrInvalid, c.Capabilities.Mode)
	}
	if c.Capabilities.DryRun.FailAt != "" {
		if _, err := domain.ParseStep(c.Capabilities.DryRun.FailAt); err != nil {
			return fmt.Errorf("%w: dryrun fail_at: %v", ErrInvalid, err)
		}
	}
	if c.Pipeline.ImageConcurrency < 1 || c.Pipeline.SpeechConcurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalid)
	}
	if c.Pipeline.EncodeTimeout.Duration <= 0 || c.Capabilities.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	o := c.Pipeline.Output
	if o.Width <= 0 || o.Height <= 0 || o.FPS <= 0 || o.MinBitrateKbps > o.MaxBitrateKbps {
		return fmt.Errorf("%w: bad output spec %+v", ErrInvalid, o)
	}
	if c.QA.SizeMargin < 0 || c.QA.SizeMargin >= 1 {
		return fmt.Errorf("%w: qa size margin must be in [0, 1)", ErrInvalid)
	}
	if c.Janitor.Schedule != "" {
		if err := janitor.ValidateSchedule(c.Janitor.Schedule); err != nil {
			return fmt.Errorf("%w: janitor: %v", ErrInvalid, err)
		}
	}
	return nil
}

// envReader применяет переменные окружения, запоминая первую ошибку.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
}
