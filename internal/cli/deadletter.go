package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Wallet/internal/mq"
)

// NewDeadLetterCmd создаёт группу команд для dead-letter.
func NewDeadLetterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect sagas that could be neither completed nor compensated",
	}

	cmd.AddCommand(
		newDeadLetterListCmd(clientFn, outputFn),
		newDeadLetterWatchCmd(outputFn),
	)

	return cmd
}

func newDeadLetterListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := clientFn().ListDeadLetters(limit, offset)
			if err != nil {
				return err
			}

			headers := []string{"ID", "SAGA_ID", "TYPE", "LAST_STATUS", "ERROR", "CREATED"}
			rows := make([][]string, len(records))
			for i, d := range records {
				rows[i] = []string{d.ID, d.SagaID, d.SagaType, d.LastStatus, d.ErrorDetails, d.CreatedAt}
			}

			outputFn().Print(headers, rows, records)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")

	return cmd
}

// newDeadLetterWatchCmd печатает dead-letter события из брокера по мере поступления.
// Читает из временной очереди, поэтому dlq.sagas не опустошается.
func newDeadLetterWatchCmd(outputFn func() *Output) *cobra.Command {
	var brokerURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream dead-letter events from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			logger := slog.New(slog.DiscardHandler)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			conn, err := mq.NewConnection(brokerURL, logger)
			if err != nil {
				return fmt.Errorf("connect to broker: %w", err)
			}
			defer conn.Close()

			if err := mq.SetupTopology(ctx, conn); err != nil {
				return err
			}

			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Tap:     &mq.Binding{Exchange: mq.ExchangeDLQ, RoutingKey: mq.RoutingKeyDLQSagas},
				Handler: printDeadLetter(out),
			})

			out.Success("Watching dead-letter events, Ctrl+C to stop")
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brokerURL, "rabbitmq-url", mq.DefaultURL(), "RabbitMQ URL")

	return cmd
}

func printDeadLetter(out *Output) mq.Handler {
	return func(_ context.Context, msg *mq.Message) error {
		p, err := mq.ParsePayload[mq.SagaDeadLetteredPayload](msg)
		if err != nil {
			// Повторная доставка не исправит payload
			out.Error(err.Error())
			return nil
		}
		out.Print(
			[]string{"SAGA_ID", "TYPE", "LAST_STATUS", "ERROR", "AT"},
			[][]string{{p.SagaID.String(), p.SagaType, string(p.LastStatus), p.ErrorDetails, msg.Timestamp.Format(time.RFC3339)}},
			p,
		)
		return nil
	}
}
