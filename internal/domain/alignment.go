package domain

import "time"

// Word — слово озвучки с таймкодами.
type Word struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Start возвращает начало слова.
func (w Word) Start() time.Duration { return time.Duration(w.StartMs) * time.Millisecond }

// End возвращает конец слова.
func (w Word) End() time.Duration { return time.Duration(w.EndMs) * time.Millisecond }
