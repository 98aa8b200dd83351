package runlog

import "errors"

var (
	// ErrAborted — операция отклонена, потому что предыдущая запись run упала.
	ErrAborted = errors.New("log write aborted")

	// ErrClosed — сериализатор остановлен.
	ErrClosed = errors.New("serializer closed")
)
