// Package cli реализует инструмент командной строки Montage.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с API рендер-сервиса.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для отправки планов, управления runs и наблюдения
// за прогрессом.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Montage API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse),
// обработку ошибок и чтение потока событий (Server-Sent Events).
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{Status: "failed"})
//
// ## Plan
//
// Загрузка плана ролика из YAML (или JSON) файла:
//
//	plan, err := cli.LoadPlan("plan.yaml")
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: montage run list --json | jq .
//
// ## Commands
//
//   - run: submit, list, show, start, retry, cancel, watch
//   - queue
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
