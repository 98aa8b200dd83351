package domain

// RunStatus — статус render run.
//
// Жизненный цикл одной попытки:
//
//	queued → running → done
//	                 ↘ failed
//	                 ↘ quality_failed
//	       (или)     → canceled (из queued или running)
//
// failed, quality_failed и canceled могут вернуться в queued через retry.
type RunStatus string

const (
	// RunStatusQueued — run ждёт слот рендера.
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning — run держит слот и выполняет шаги.
	RunStatusRunning RunStatus = "running"

	// RunStatusDone — все шаги выполнены, QA пройден.
	RunStatusDone RunStatus = "done"

	// RunStatusFailed — шаг завершился ошибкой.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCanceled — run отменён пользователем.
	RunStatusCanceled RunStatus = "canceled"

	// RunStatusQualityFailed — видео собрано, но не прошло QA.
	RunStatusQualityFailed RunStatus = "quality_failed"
)

// IsTerminal возвращает true, если статус финальный для текущей попытки.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusDone, RunStatusFailed, RunStatusCanceled, RunStatusQualityFailed:
		return true
	default:
		return false
	}
}

// IsRetryable возвращает true, если из статуса разрешён retry.
func (s RunStatus) IsRetryable() bool {
	switch s {
	case RunStatusFailed, RunStatusQualityFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус известен.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusDone,
		RunStatusFailed, RunStatusCanceled, RunStatusQualityFailed:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// transitions — допустимые переходы статусов.
// running → queued используется только при восстановлении после рестарта.
var transitions = map[RunStatus][]RunStatus{
	RunStatusQueued:        {RunStatusRunning, RunStatusCanceled, RunStatusFailed},
	RunStatusRunning:       {RunStatusDone, RunStatusFailed, RunStatusQualityFailed, RunStatusCanceled, RunStatusQueued},
	RunStatusFailed:        {RunStatusQueued},
	RunStatusQualityFailed: {RunStatusQueued},
	RunStatusCanceled:      {RunStatusQueued},
}

// CanTransition проверяет, разрешён ли переход from → to.
func CanTransition(from, to RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
