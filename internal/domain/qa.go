package domain

import "time"

// QAChecks — результаты отдельных проверок QA.
type QAChecks struct {
	Silence    bool `json:"silence"`
	Size       bool `json:"size"`
	Resolution bool `json:"resolution"`
}

// QAReport — итог проверки готового видео.
type QAReport struct {
	Passed    bool      `json:"passed"`
	Checks    QAChecks  `json:"checks"`
	Details   []string  `json:"details,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// FailedChecks возвращает имена непройденных проверок.
func (r *QAReport) FailedChecks() []string {
	var failed []string
	if !r.Checks.Silence {
		failed = append(failed, "silence")
	}
	if !r.Checks.Size {
		failed = append(failed, "size")
	}
	if !r.Checks.Resolution {
		failed = append(failed, "resolution")
	}
	return failed
}
