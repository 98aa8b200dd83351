package queue

import "errors"

var (
	// ErrAlreadyQueued — run уже в очереди или держит слот.
	ErrAlreadyQueued = errors.New("run already queued")

	// ErrNotHolder — освобождение слота не его владельцем.
	ErrNotHolder = errors.New("run does not hold the render slot")

	// ErrNoLauncher — очередь не привязана к оркестратору.
	ErrNoLauncher = errors.New("queue launcher not set")
)
