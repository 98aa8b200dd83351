// Package orchestrator ведёт runs через pipeline.
//
// Orchestrator отвечает за:
//   - Команды управления: создание, запуск, retry, отмена
//   - Выполнение run, получившего слот очереди рендера, шаг за шагом
//   - Checkpoint, прогресс и финальный статус
//   - Кооперативную отмену на границе шагов
//   - Восстановление после рестарта: runs в running возвращаются в работу
//   - Запросы run.requested из RabbitMQ и polling как fallback
//
// Шаги выполняет pipeline.Executor, журнал пишется через runlog,
// события прогресса рассылает broadcast.
package orchestrator
