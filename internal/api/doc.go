// Package api содержит HTTP API рендер-сервиса.
//
// Структура:
//   - handler.go        — Handler с DI (Controller, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects (request/response)
//   - run_handler.go    — обработчики для /runs и /queue
//   - events_handler.go — SSE поток прогресса run
//
// API предоставляет REST endpoints для создания, запуска, повтора и отмены
// runs и поток событий прогресса.
package api
