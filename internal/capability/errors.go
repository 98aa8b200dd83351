package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing — в наборе нет обязательной возможности.
	ErrMissing = errors.New("capability missing")

	// ErrTimeout — вызов не уложился в таймаут.
	ErrTimeout = errors.New("capability timed out")

	// ErrInjected — сбой, внедрённый dry-run режимом.
	ErrInjected = errors.New("injected failure")
)

// Error — ошибка внешнего провайдера.
type Error struct {
	Capability string
	Status     int
	Message    string
	Err        error
}

// Error форматирует ошибку для журнала run.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Capability, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Capability, e.Message)
}

// Unwrap возвращает исходную ошибку.
func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary возвращает true для ошибок, которые может исправить повтор.
// Pipeline не повторяет шаги автоматически; признак идёт в журнал.
func (e *Error) Temporary() bool {
	return e.Status == 429 || e.Status >= 500
}

func missing(name string) error {
	return fmt.Errorf("%w: %s", ErrMissing, name)
}
