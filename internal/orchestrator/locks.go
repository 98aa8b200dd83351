package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// runLocks — блокировки по run id.
//
// Команды управления держат блокировку run от чтения состояния до его
// записи. Запуск run берёт ту же блокировку на время перехода в running,
// поэтому команда никогда не пишет устаревшую копию поверх выполнения.
type runLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[uuid.UUID]*runLock)}
}

// lock захватывает блокировку run и возвращает функцию освобождения.
func (l *runLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &runLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		if rl.refs--; rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held возвращает число runs с захваченной или ожидаемой блокировкой.
func (l *runLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
