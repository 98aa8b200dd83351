package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Montage/internal/domain"
)

// Значения по умолчанию для субтитров.
const (
	DefaultCaptionGap      = 350 * time.Millisecond
	DefaultCaptionMaxWords = 6
)

// CaptionSegment — группа слов, показываемая одновременно.
type CaptionSegment struct {
	Start time.Duration
	End   time.Duration
	Words []string
}

// Text возвращает текст сегмента.
func (s CaptionSegment) Text() string {
	return strings.Join(s.Words, " ")
}

// GroupWords разбивает слова на сегменты. Новый сегмент начинается, когда
// пауза перед словом больше gap или в текущем сегменте уже maxWords слов.
func GroupWords(words []domain.Word, gap time.Duration, maxWords int) []CaptionSegment {
	if gap <= 0 {
		gap = DefaultCaptionGap
	}
	if maxWords <= 0 {
		maxWords = DefaultCaptionMaxWords
	}

	var segments []CaptionSegment
	var cur *CaptionSegment
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		if cur != nil && (w.Start()-cur.End > gap || len(cur.Words) >= maxWords) {
			segments = append(segments, *cur)
			cur = nil
		}
		if cur == nil {
			cur = &CaptionSegment{Start: w.Start()}
		}
		cur.Words = append(cur.Words, text)
		if w.End() > cur.End {
			cur.End = w.End()
		}
	}
	if cur != nil {
		segments = append(segments, *cur)
	}
	return segments
}

// CaptionStyle — оформление дорожки субтитров.
type CaptionStyle struct {
	Width    int
	Height   int
	Font     string
	FontSize int
	// MarginV — отступ снизу в пикселях.
	MarginV int
}

// DefaultCaptionStyle возвращает оформление для кадра width×height.
func DefaultCaptionStyle(width, height int) CaptionStyle {
	return CaptionStyle{
		Width:    width,
		Height:   height,
		Font:     "Arial",
		FontSize: height / 24,
		MarginV:  height / 6,
	}
}

// RenderASS строит дорожку субтитров в формате ASS.
// Результат зависит только от входа.
func RenderASS(segments []CaptionSegment, style CaptionStyle) string {
	var b strings.Builder

	b.WriteString("[Script Info]\n")
	b.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&b, "PlayResX: %d\n", style.Width)
	fmt.Fprintf(&b, "PlayResY: %d\n", style.Height)
	b.WriteString("WrapStyle: 0\n")
	b.WriteString("ScaledBorderAndShadow: yes\n\n")

	b.WriteString("[V4+ Styles]\n")
	b.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
		"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
		"Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&b, "Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,"+
		"-1,0,0,0,100,100,0,0,1,4,0,2,60,60,%d,1\n\n", style.Font, style.FontSize, style.MarginV)

	b.WriteString("[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTime(s.Start), assTime(s.End), escapeASS(s.Text()))
	}
	return b.String()
}

// assTime форматирует время как H:MM:SS.cc.
func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Milliseconds() / 10
	h := cs / 360000
	m := cs / 6000 % 60
	s := cs / 100 % 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs%100)
}

func escapeASS(s string) string {
	r := strings.NewReplacer("\\", "/", "{", "(", "}", ")", "\n", " ")
	return r.Replace(s)
}
