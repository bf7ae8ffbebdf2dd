package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewTransferCmd создаёт группу команд для переводов.
func NewTransferCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Manage transfers",
	}

	cmd.AddCommand(
		newTransferCreateCmd(clientFn, outputFn),
		newTransferShowCmd(clientFn, outputFn),
		newTransferListCmd(clientFn, outputFn),
	)

	return cmd
}

var transferHeaders = []string{"ID", "FROM", "TO", "AMOUNT", "STATUS", "SAGA_ID", "CREATED"}

func transferRow(t *TransferResponse) []string {
	return []string{t.ID, t.SourceAccountID, t.DestinationAccountID, t.Amount, t.Status, t.SagaID, t.CreatedAt}
}

func newTransferCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateTransferRequest

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Transfer money between two accounts",
		Example: "  walletctl transfer create --from A --to B --amount 100.50 --idempotency-key order-42",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			t, accepted, err := client.CreateTransfer(req)
			if err != nil {
				return err
			}

			switch {
			case accepted:
				out.Success(fmt.Sprintf("Transfer accepted, saga %s will be finished by recovery", t.SagaID))
			case t.Status == "SUCCESS":
				out.Success(fmt.Sprintf("Transfer succeeded: %s", t.ID))
			default:
				out.Error(fmt.Sprintf("transfer %s failed, see: walletctl saga steps %s", t.ID, t.SagaID))
			}
			out.Print(transferHeaders, [][]string{transferRow(t)}, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.SourceAccountID, "from", "", "Source account ID")
	cmd.Flags().StringVar(&req.DestinationAccountID, "to", "", "Destination account ID")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "Amount, at most 2 decimal places")
	cmd.Flags().StringVar(&req.Description, "description", "", "Transfer description")
	cmd.Flags().StringVar(&req.IdempotencyKey, "idempotency-key", "", "Client idempotency key")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newTransferShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show transfer details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := clientFn().GetTransfer(args[0])
			if err != nil {
				return err
			}
			outputFn().Print(transferHeaders, [][]string{transferRow(t)}, t)
			return nil
		},
	}
}

func newTransferListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts TransferListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transfers, newest first",
		Example: "  walletctl transfer list --account A --status FAILED\n" +
			"  walletctl transfer list --from A --to B\n" +
			"  walletctl transfer list --saga S",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = strings.ToUpper(opts.Status)
			transfers, err := clientFn().ListTransfers(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(transfers))
			for i := range transfers {
				rows[i] = transferRow(&transfers[i])
			}
			outputFn().Print(transferHeaders, rows, transfers)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.AccountID, "account", "", "Account ID as source or destination")
	cmd.Flags().StringVar(&opts.SourceID, "from", "", "Source account ID")
	cmd.Flags().StringVar(&opts.DestinationID, "to", "", "Destination account ID")
	cmd.Flags().StringVar(&opts.SagaID, "saga", "", "Saga ID")
	cmd.Flags().StringVar(&opts.Status, "status", "", "PENDING, SUCCESS or FAILED")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Page offset")

	return cmd
}
