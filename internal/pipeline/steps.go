package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shaiso/Montage/internal/capability"
	"github.com/shaiso/Montage/internal/domain"
	"golang.org/x/sync/errgroup"
)

// synthesizeSpeech озвучивает сцены, для которых ещё нет файла, и склеивает
// их в общую дорожку.
func (e *Executor) synthesizeSpeech(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepSpeechSynthesis
	scenes := run.Plan.Scenes

	var produced atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.speechConcurrency)

	for i, scene := range scenes {
		rel := e.narrationPath(run.ID, i)
		if e.ws.Exists(rel) {
			continue
		}
		g.Go(func() error {
			err := e.ws.Produce(rel, func(tmp string) error {
				return e.call(gctx, e.capTimeout, func(ctx context.Context) error {
					return e.caps.Speech.Synthesize(ctx, capability.SpeechRequest{
						Text:  scene.Narration,
						Voice: run.Plan.Voice,
					}, tmp)
				})
			})
			if err != nil {
				return NewStepError(step, fmt.Sprintf("synthesize scene %d", i+1), err)
			}
			produced.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parts := make([]string, len(scenes))
	for i := range scenes {
		parts[i] = e.ws.Abs(e.narrationPath(run.ID, i))
	}

	audio := e.audioPath(run.ID)
	if produced.Load() > 0 || !e.ws.Exists(audio) {
		err := e.ws.Produce(audio, func(tmp string) error {
			return e.call(ctx, e.capTimeout, func(ctx context.Context) error {
				return e.caps.Media.ConcatAudio(ctx, parts, tmp)
			})
		})
		if err != nil {
			return nil, NewStepError(step, "concatenate narration", err)
		}
	}

	e.note(run, step, "narration ready: %d synthesized, %d reused", produced.Load(), len(scenes)-int(produced.Load()))
	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		for i := range scenes {
			a.SetNarration(i, e.narrationPath(run.ID, i))
		}
		a.Audio = audio
	})
}

// alignTranscript получает таймкоды слов озвучки.
func (e *Executor) alignTranscript(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepTranscriptionAlignment
	audio := e.audioPath(run.ID)
	if err := e.require(step, audio); err != nil {
		return nil, err
	}

	rel := e.alignmentPath(run.ID)
	if !e.ws.Exists(rel) {
		var words []domain.Word
		err := e.call(ctx, e.capTimeout, func(ctx context.Context) error {
			var err error
			words, err = e.caps.Transcriber.Transcribe(ctx, e.ws.Abs(audio))
			return err
		})
		if err != nil {
			return nil, NewStepError(step, "transcribe narration", err)
		}
		if len(words) == 0 {
			return nil, NewStepError(step, "transcription returned no words", ErrEmptyOutput)
		}

		data, err := json.MarshalIndent(words, "", "  ")
		if err != nil {
			return nil, NewStepError(step, "encode alignment", err)
		}
		if err := e.ws.WriteFile(rel, data); err != nil {
			return nil, NewStepError(step, "write alignment", err)
		}
		e.note(run, step, "aligned %d words", len(words))
	}

	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		a.Alignment = rel
	})
}

// synthesizeImages генерирует недостающие изображения сцен
// не более чем imageConcurrency одновременно.
func (e *Executor) synthesizeImages(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepImageSynthesis
	scenes := run.Plan.Scenes

	var produced atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.imageConcurrency)

	for i, scene := range scenes {
		rel := e.imagePath(run.ID, i)
		g.Go(func() error {
			if e.ws.Exists(rel) {
				e.note(run, step, "scene %d: image reused", i+1)
				return nil
			}
			e.note(run, step, "scene %d: generating image", i+1)
			err := e.ws.Produce(rel, func(tmp string) error {
				return e.call(gctx, e.capTimeout, func(ctx context.Context) error {
					return e.caps.Images.Generate(ctx, capability.ImageRequest{
						Prompt: scene.Visual,
						Width:  e.output.Width,
						Height: e.output.Height,
					}, tmp)
				})
			})
			if err != nil {
				return NewStepError(step, fmt.Sprintf("generate image for scene %d", i+1), err)
			}
			produced.Add(1)
			e.note(run, step, "scene %d: image generated", i+1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.note(run, step, "images ready: %d generated, %d reused", produced.Load(), len(scenes)-int(produced.Load()))
	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		for i := range scenes {
			a.SetImage(i, e.imagePath(run.ID, i))
		}
	})
}

// buildCaptions строит дорожку субтитров из таймкодов.
func (e *Executor) buildCaptions(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepCaptionsBuild
	alignment := e.alignmentPath(run.ID)
	if err := e.require(step, alignment); err != nil {
		return nil, err
	}

	rel := e.captionsPath(run.ID)
	if !e.ws.Exists(rel) {
		data, err := e.ws.ReadFile(alignment)
		if err != nil {
			return nil, NewStepError(step, "read alignment", err)
		}
		var words []domain.Word
		if err := json.Unmarshal(data, &words); err != nil {
			return nil, NewStepError(step, "decode alignment", err)
		}

		segments := GroupWords(words, e.captionGap, e.captionMaxWords)
		track := RenderASS(segments, DefaultCaptionStyle(e.output.Width, e.output.Height))
		if err := e.ws.WriteFile(rel, []byte(track)); err != nil {
			return nil, NewStepError(step, "write captions", err)
		}
		e.note(run, step, "built %d caption segments", len(segments))
	}

	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		a.Captions = rel
	})
}

// mixMusic смешивает озвучку с фоновой музыкой. Без музыки итоговая
// дорожка — копия озвучки.
func (e *Executor) mixMusic(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepMusicMix
	audio := e.audioPath(run.ID)
	if err := e.require(step, audio); err != nil {
		return nil, err
	}

	rel := e.mixPath(run.ID)
	if !e.ws.Exists(rel) {
		err := e.ws.Produce(rel, func(tmp string) error {
			return e.call(ctx, e.capTimeout, func(ctx context.Context) error {
				return e.caps.Media.MixAudio(ctx, capability.MixRequest{
					Narration: e.ws.Abs(audio),
					Music:     run.Plan.MusicTrack,
					MusicGain: e.musicGainDB,
					Out:       tmp,
				})
			})
		})
		if err != nil {
			return nil, NewStepError(step, "mix audio", err)
		}
		if run.Plan.MusicTrack == "" {
			e.note(run, step, "no music track, narration used as mix")
		} else {
			e.note(run, step, "mixed music track %s", run.Plan.MusicTrack)
		}
	}

	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		a.MixedAudio = rel
	})
}

// encodeVideo собирает итоговое видео. Кодирование ограничено encodeTimeout.
func (e *Executor) encodeVideo(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepVideoEncode

	inputs := []string{e.mixPath(run.ID), e.captionsPath(run.ID)}
	for i := range run.Plan.Scenes {
		inputs = append(inputs, e.imagePath(run.ID, i))
	}
	if err := e.require(step, inputs...); err != nil {
		return nil, err
	}

	rel := e.videoPath(run.ID)
	if !e.ws.Exists(rel) {
		clips := make([]capability.Clip, len(run.Plan.Scenes))
		for i, scene := range run.Plan.Scenes {
			clips[i] = capability.Clip{
				Image:      e.ws.Abs(e.imagePath(run.ID, i)),
				Duration:   scene.Duration(),
				Motion:     scene.Motion,
				Transition: scene.Transition,
			}
			if clips[i].Motion == "" {
				clips[i].Motion = domain.MotionStatic
			}
			if clips[i].Transition == "" {
				clips[i].Transition = domain.TransitionCut
			}
		}

		start := time.Now()
		err := e.ws.Produce(rel, func(tmp string) error {
			return e.call(ctx, e.encodeTimeout, func(ctx context.Context) error {
				return e.caps.Media.Encode(ctx, capability.Composition{
					Clips:     clips,
					Audio:     e.ws.Abs(e.mixPath(run.ID)),
					Subtitles: e.ws.Abs(e.captionsPath(run.ID)),
					Output:    e.output,
					Out:       tmp,
				})
			})
		})
		if err != nil {
			return nil, NewStepError(step, "encode video", err)
		}
		e.note(run, step, "encoded %d scenes in %s", len(clips), time.Since(start).Round(time.Millisecond))
	}

	return nil, e.record(ctx, run, func(a *domain.Artifacts) {
		a.Video = rel
	})
}

// finalize проверяет артефакты, извлекает кадры предпросмотра и передаёт
// видео на проверку качества.
func (e *Executor) finalize(ctx context.Context, run *domain.Run) (*StepResult, error) {
	step := domain.StepFinalize
	if err := e.require(step, e.declared(run)...); err != nil {
		return nil, err
	}

	video := e.ws.Abs(e.videoPath(run.ID))

	var info capability.MediaInfo
	err := e.call(ctx, e.capTimeout, func(ctx context.Context) error {
		var err error
		info, err = e.caps.Media.Probe(ctx, video, capability.ProbeOptions{})
		return err
	})
	if err != nil {
		return nil, NewStepError(step, "probe video", err)
	}
	duration := info.Duration
	if duration <= 0 {
		duration = run.Plan.TotalDuration()
	}

	previews := make([]string, len(previewPoints))
	for i, point := range previewPoints {
		rel := e.previewPath(run.ID, i)
		previews[i] = rel
		if e.ws.Exists(rel) {
			continue
		}
		at := time.Duration(float64(duration) * point)
		err := e.ws.Produce(rel, func(tmp string) error {
			return e.call(ctx, e.capTimeout, func(ctx context.Context) error {
				return e.caps.Media.ExtractFrame(ctx, video, at, tmp)
			})
		})
		if err != nil {
			return nil, NewStepError(step, fmt.Sprintf("extract preview at %s", at), err)
		}
	}
	if err := e.record(ctx, run, func(a *domain.Artifacts) {
		for i, rel := range previews {
			a.SetPreview(i, rel)
		}
	}); err != nil {
		return nil, err
	}

	var report *domain.QAReport
	err = e.call(ctx, e.capTimeout, func(ctx context.Context) error {
		var err error
		report, err = e.gate.Evaluate(ctx, video)
		return err
	})
	if err != nil {
		return nil, NewStepError(step, "quality check", err)
	}

	if report.Passed {
		e.note(run, step, "quality checks passed")
	} else {
		e.journal.Append(run.ID, domain.NewLogEntry(domain.LogLevelWarn, step,
			fmt.Sprintf("quality checks failed: %v", report.FailedChecks())))
	}
	return &StepResult{QA: report}, nil
}
