package domain

// Artifacts — манифест файлов, созданных шагами run.
//
// Пути относительны корня рабочего каталога. Поле заполняется только после
// атомарной публикации файла.
type Artifacts struct {
	// Narration — озвучка по сценам (индекс = номер сцены).
	Narration []string `json:"narration,omitempty"`

	// Audio — склеенная дорожка озвучки.
	Audio string `json:"audio,omitempty"`

	// Alignment — JSON с таймкодами слов.
	Alignment string `json:"alignment,omitempty"`

	// Images — изображения по сценам (индекс = номер сцены).
	Images []string `json:"images,omitempty"`

	// Captions — дорожка субтитров (ASS).
	Captions string `json:"captions,omitempty"`

	// MixedAudio — озвучка, смешанная с музыкой.
	MixedAudio string `json:"mixed_audio,omitempty"`

	// Video — итоговое видео.
	Video string `json:"video,omitempty"`

	// Previews — кадры предпросмотра (начало, ранний кадр, середина).
	Previews []string `json:"previews,omitempty"`
}

// SetNarration записывает путь озвучки сцены i.
func (a *Artifacts) SetNarration(i int, path string) {
	a.Narration = setAt(a.Narration, i, path)
}

// SetImage записывает путь изображения сцены i.
func (a *Artifacts) SetImage(i int, path string) {
	a.Images = setAt(a.Images, i, path)
}

// SetPreview записывает путь кадра предпросмотра i.
func (a *Artifacts) SetPreview(i int, path string) {
	a.Previews = setAt(a.Previews, i, path)
}

// ClearStep удаляет из манифеста файлы, которые создаёт шаг.
func (a *Artifacts) ClearStep(step Step) {
	switch step {
	case StepSpeechSynthesis:
		a.Narration = nil
		a.Audio = ""
	case StepTranscriptionAlignment:
		a.Alignment = ""
	case StepImageSynthesis:
		a.Images = nil
	case StepCaptionsBuild:
		a.Captions = ""
	case StepMusicMix:
		a.MixedAudio = ""
	case StepVideoEncode:
		a.Video = ""
	case StepFinalize:
		a.Previews = nil
	}
}

// Clone возвращает глубокую копию манифеста.
func (a Artifacts) Clone() Artifacts {
	c := a
	c.Narration = append([]string(nil), a.Narration...)
	c.Images = append([]string(nil), a.Images...)
	c.Previews = append([]string(nil), a.Previews...)
	return c
}

func setAt(s []string, i int, v string) []string {
	for len(s) <= i {
		s = append(s, "")
	}
	s[i] = v
	return s
}
