package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Montage/internal/domain"
)

// Раскладка файлов run.
const (
	narrationDir  = "narration"
	audioFile     = "narration.wav"
	alignmentFile = "alignment.json"
	imagesDir     = "images"
	captionsFile  = "captions.ass"
	mixFile       = "mix.wav"
	videoFile     = "video.mp4"
	previewsDir   = "previews"
)

// previewPoints — доли длительности, на которых берутся кадры предпросмотра.
var previewPoints = []float64{0, 0.1, 0.5}

func (e *Executor) narrationPath(id uuid.UUID, scene int) string {
	return e.ws.Rel(id, narrationDir, fmt.Sprintf("scene-%03d.wav", scene+1))
}

func (e *Executor) audioPath(id uuid.UUID) string     { return e.ws.Rel(id, audioFile) }
func (e *Executor) alignmentPath(id uuid.UUID) string { return e.ws.Rel(id, alignmentFile) }
func (e *Executor) captionsPath(id uuid.UUID) string  { return e.ws.Rel(id, captionsFile) }
func (e *Executor) mixPath(id uuid.UUID) string       { return e.ws.Rel(id, mixFile) }
func (e *Executor) videoPath(id uuid.UUID) string     { return e.ws.Rel(id, videoFile) }

func (e *Executor) imagePath(id uuid.UUID, scene int) string {
	return e.ws.Rel(id, imagesDir, fmt.Sprintf("scene-%03d.png", scene+1))
}

func (e *Executor) previewPath(id uuid.UUID, i int) string {
	return e.ws.Rel(id, previewsDir, fmt.Sprintf("frame-%02d.jpg", i+1))
}

// outputs возвращает файлы и каталоги, которые создаёт шаг.
func (e *Executor) outputs(id uuid.UUID, step domain.Step) []string {
	switch step {
	case domain.StepSpeechSynthesis:
		return []string{e.ws.Rel(id, narrationDir), e.audioPath(id)}
	case domain.StepTranscriptionAlignment:
		return []string{e.alignmentPath(id)}
	case domain.StepImageSynthesis:
		return []string{e.ws.Rel(id, imagesDir)}
	case domain.StepCaptionsBuild:
		return []string{e.captionsPath(id)}
	case domain.StepMusicMix:
		return []string{e.mixPath(id)}
	case domain.StepVideoEncode:
		return []string{e.videoPath(id)}
	case domain.StepFinalize:
		return []string{e.ws.Rel(id, previewsDir)}
	}
	return nil
}

// declared возвращает все файлы, которые должны существовать перед Finalize.
func (e *Executor) declared(run *domain.Run) []string {
	var rels []string
	for i := range run.Plan.Scenes {
		rels = append(rels, e.narrationPath(run.ID, i))
	}
	rels = append(rels, e.audioPath(run.ID), e.alignmentPath(run.ID))
	for i := range run.Plan.Scenes {
		rels = append(rels, e.imagePath(run.ID, i))
	}
	return append(rels,
		e.captionsPath(run.ID),
		e.mixPath(run.ID),
		e.videoPath(run.ID),
	)
}
