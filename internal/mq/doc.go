// Package mq публикует события саг в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с переподключением (go-retry backoff)
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — Publisher и Notifier (реализует saga.Notifier)
//   - consumer.go   — чтение очередей и временных tap-очередей
//
// Типы сообщений:
//   - saga.finished      — сага в COMPLETED, COMPENSATED или FAILED
//   - saga.dead_lettered — сага записана в dead-letter
//
// Брокер необязателен: без RABBITMQ_URL оркестратор работает
// без уведомлений. Ошибки публикации только логируются.
package mq
