// Package janitor удаляет брошенные временные файлы рабочего каталога.
//
// Шаг пишет результат во временный файл name.partial.ext и переименовывает
// его после успешного завершения. Если процесс упал посреди шага, файл
// остаётся. Janitor по cron-расписанию находит такие файлы старше MinAge
// и удаляет их, пропуская run, который сейчас держит слот рендера.
//
// Структура:
//   - janitor.go — Janitor (Start, Stop, Sweep)
//   - cron.go    — парсинг и проверка расписания
//
// Использование:
//
//	j, err := janitor.New(janitor.Config{
//	    Workspace: ws,
//	    Slot:      renderQueue,
//	    Schedule:  "*/10 * * * *",
//	    MinAge:    time.Hour,
//	    Logger:    logger,
//	})
//	j.Start(ctx)
//	defer j.Stop()
package janitor
