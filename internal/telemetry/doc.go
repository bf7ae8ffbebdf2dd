// Package telemetry обеспечивает наблюдаемость кошелька.
//
// Включает:
//   - logging.go — structured logging через slog, атрибуты component/saga_id/step
//   - metrics.go — Prometheus метрики саг, шагов, recovery и HTTP
//
// wallet-api и wallet-recovery экспортируют метрики на /metrics.
package telemetry
