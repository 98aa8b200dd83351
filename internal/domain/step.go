package domain

import "fmt"

// Step — имя шага render pipeline.
//
// Порядок шагов фиксирован и задаётся Steps.
type Step string

const (
	StepSpeechSynthesis        Step = "Speech-Synthesis"
	StepTranscriptionAlignment Step = "Transcription-Alignment"
	StepImageSynthesis         Step = "Image-Synthesis"
	StepCaptionsBuild          Step = "Captions-Build"
	StepMusicMix               Step = "Music-Mix"
	StepVideoEncode            Step = "Video-Encode"
	StepFinalize               Step = "Finalize"
)

// Steps — все шаги в порядке выполнения.
var Steps = []Step{
	StepSpeechSynthesis,
	StepTranscriptionAlignment,
	StepImageSynthesis,
	StepCaptionsBuild,
	StepMusicMix,
	StepVideoEncode,
	StepFinalize,
}

// ParseStep парсит имя шага.
func ParseStep(s string) (Step, error) {
	for _, step := range Steps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
}

// Index возвращает позицию шага в pipeline или -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid проверяет, что шаг известен.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// String возвращает имя шага.
func (s Step) String() string {
	return string(s)
}
