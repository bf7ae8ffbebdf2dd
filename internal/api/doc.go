// Package api содержит HTTP API кошелька.
//
// Структура:
//   - handler.go          — Handler с зависимостями (workflow, оркестратор, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — logging, recovery, метрики
//   - response.go         — JSON-ответы и отображение ошибок в HTTP статусы
//   - dto.go              — request/response структуры
//   - transfer_handler.go — /transfers, /accounts/{id}/transfers, /sagas/{id}/transfer
//   - saga_handler.go     — /sagas и /dead-letters
//   - account_handler.go  — /accounts
//
// Суммы передаются строками ("100.50"), чтобы не терять точность.
package api
