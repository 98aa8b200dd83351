package pipeline

import (
	"errors"

	"github.com/shaiso/Montage/internal/domain"
)

// Ошибки pipeline.
var (
	// ErrMissingArtifact — файл, заявленный предыдущими шагами, отсутствует или пуст.
	ErrMissingArtifact = errors.New("artifact missing")

	// ErrEmptyOutput — возможность завершилась без ошибки, но файл пуст.
	ErrEmptyOutput = errors.New("capability produced empty output")

	// ErrInvalidPath — относительный путь выходит за корень рабочего каталога.
	ErrInvalidPath = errors.New("path escapes workspace")
)

// StepError — ошибка выполнения шага.
//
// Message попадает в журнал run и в поле error.
type StepError struct {
	Step    domain.Step
	Message string
	Err     error
}

// Error реализует интерфейс error.
func (e *StepError) Error() string {
	if e.Err != nil {
		return e.Step.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Step.String() + ": " + e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError создаёт ошибку шага.
func NewStepError(step domain.Step, message string, err error) *StepError {
	return &StepError{Step: step, Message: message, Err: err}
}
