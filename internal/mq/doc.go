// Package mq — RabbitMQ-интеграция рендера.
//
// Структура:
//   - connection.go — соединение с reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий runs
//   - consumer.go   — потребление с ручным ack
//
// Типы сообщений:
//   - run.requested — внешний сервис просит запустить run (потребитель: renderer)
//   - run.finished  — run достиг финального статуса (потребители: внешние)
//
// Exchanges:
//   - montage.runs — события runs
//   - montage.dlq  — некорректные сообщения
package mq
