package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или переподключается.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrUnexpectedType — сообщение другого типа в очереди.
	ErrUnexpectedType = errors.New("unexpected message type")
)
