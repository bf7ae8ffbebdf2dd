// Package cli реализует walletctl, инструмент командной строки кошелька.
//
// CLI ходит в Wallet API по HTTP и не импортирует серверные пакеты.
// Исключение: deadletter watch читает события напрямую из RabbitMQ
// через internal/mq.
//
// # Client
//
// HTTP-клиент API. Разбирает конверты ответов (data, list, error)
// и превращает ошибки API в error.
//
//	client := cli.NewClient("http://localhost:8080")
//	t, accepted, err := client.CreateTransfer(cli.CreateTransferRequest{...})
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	walletctl saga steps $SAGA --json | jq '.[] | select(.status=="FAILED")'
//
// # Commands
//
//   - transfer: create, show, list
//   - saga: show, steps
//   - deadletter: list, watch
//   - account: open, show
//
// Группы создаются фабриками (NewTransferCmd и т.д.), которые получают
// clientFn и outputFn: Client и Output собираются после разбора
// PersistentFlags.
package cli
