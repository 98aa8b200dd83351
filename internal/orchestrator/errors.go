package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidState — команда недопустима в текущем статусе run.
	ErrInvalidState = errors.New("invalid run state")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
