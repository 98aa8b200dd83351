// Package pipeline выполняет шаги render pipeline.
//
// Executor знает семь шагов и вызывает для каждого внешние возможности
// (capability.Set). Каждый шаг идемпотентен: результат определяется
// детерминированным путём в рабочем каталоге, и шаг вычисляет только
// отсутствующие файлы. Файлы публикуются атомарно через Workspace:
// запись во временный файл *.partial.*, затем rename.
//
// Шаги не меняют статус run. Статус, checkpoint и прогресс ведёт
// оркестратор; шаги пишут только журнал и манифест артефактов через
// runlog.Serializer.
package pipeline
