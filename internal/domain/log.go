package domain

import "time"

// LogLevel — уровень записи в журнале run.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry — запись журнала run.
//
// Журнал только дополняется; записи пишутся через runlog.Serializer.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"msg"`
	Step      Step      `json:"step,omitempty"`
}

// NewLogEntry создаёт запись с текущим временем.
func NewLogEntry(level LogLevel, step Step, msg string) LogEntry {
	return LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Step:      step,
	}
}
