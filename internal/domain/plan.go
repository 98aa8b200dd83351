package domain

import (
	"fmt"
	"strings"
	"time"
)

// Motion — эффект движения кадра сцены.
type Motion string

const (
	MotionStatic   Motion = "static"
	MotionZoomIn   Motion = "zoom_in"
	MotionZoomOut  Motion = "zoom_out"
	MotionPanLeft  Motion = "pan_left"
	MotionPanRight Motion = "pan_right"
)

// Transition — переход в начале сцены.
type Transition string

const (
	TransitionCut  Transition = "cut"
	TransitionFade Transition = "fade"
)

// Plan — утверждённый план ролика.
//
// План неизменяем после создания run: повторные попытки используют тот же план.
type Plan struct {
	// Title — название ролика (для журнала и CLI).
	Title string `json:"title,omitempty"`

	// Voice — голос синтеза речи.
	Voice string `json:"voice,omitempty"`

	// MusicTrack — путь к фоновой музыке. Пустой — без музыки.
	MusicTrack string `json:"music_track,omitempty"`

	// Scenes — сцены в порядке показа.
	Scenes []Scene `json:"scenes"`
}

// Scene — одна сцена плана.
type Scene struct {
	// Narration — текст озвучки сцены.
	Narration string `json:"narration"`

	// Visual — описание изображения (промпт генерации).
	Visual string `json:"visual"`

	// Motion — эффект движения.
	Motion Motion `json:"motion,omitempty"`

	// Transition — переход в начале сцены.
	Transition Transition `json:"transition,omitempty"`

	// DurationSec — целевая длительность сцены в секундах.
	DurationSec float64 `json:"duration_sec"`
}

// Duration возвращает длительность сцены.
func (s Scene) Duration() time.Duration {
	return time.Duration(s.DurationSec * float64(time.Second))
}

// TotalDuration возвращает суммарную длительность всех сцен.
func (p *Plan) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Scenes {
		total += s.Duration()
	}
	return total
}

// Validate проверяет план.
func (p *Plan) Validate() error {
	if len(p.Scenes) == 0 {
		return fmt.Errorf("%w: plan has no scenes", ErrInvalidPlan)
	}
	for i, s := range p.Scenes {
		n := i + 1
		if strings.TrimSpace(s.Narration) == "" {
			return fmt.Errorf("%w: scene %d: narration is empty", ErrInvalidPlan, n)
		}
		if strings.TrimSpace(s.Visual) == "" {
			return fmt.Errorf("%w: scene %d: visual is empty", ErrInvalidPlan, n)
		}
		if s.DurationSec <= 0 {
			return fmt.Errorf("%w: scene %d: duration must be positive", ErrInvalidPlan, n)
		}
		switch s.Motion {
		case "", MotionStatic, MotionZoomIn, MotionZoomOut, MotionPanLeft, MotionPanRight:
		default:
			return fmt.Errorf("%w: scene %d: unknown motion %q", ErrInvalidPlan, n, s.Motion)
		}
		switch s.Transition {
		case "", TransitionCut, TransitionFade:
		default:
			return fmt.Errorf("%w: scene %d: unknown transition %q", ErrInvalidPlan, n, s.Transition)
		}
	}
	return nil
}
