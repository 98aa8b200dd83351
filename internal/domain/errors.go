package domain

import "errors"

// Ошибки доменной модели.
var (
	// ErrUnknownStep — имя шага не входит в pipeline.
	ErrUnknownStep = errors.New("unknown step")

	// ErrInvalidTransition — переход статуса запрещён.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidPlan — план не прошёл валидацию.
	ErrInvalidPlan = errors.New("invalid plan")
)
