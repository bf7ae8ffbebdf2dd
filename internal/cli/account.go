package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewAccountCmd создаёт группу команд для счетов.
func NewAccountCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountOpenCmd(clientFn, outputFn),
		newAccountShowCmd(clientFn, outputFn),
	)

	return cmd
}

var accountHeaders = []string{"ID", "USER_ID", "BALANCE", "CURRENCY", "ACTIVE"}

func accountRow(a *AccountResponse) []string {
	return []string{a.ID, a.UserID, a.Balance, a.Currency, strconv.FormatBool(a.Active)}
}

func newAccountOpenCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req OpenAccountRequest

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an account with an initial balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			acc, err := clientFn().OpenAccount(req)
			if err != nil {
				return err
			}

			out.Success("Account opened: " + acc.ID)
			out.Print(accountHeaders, [][]string{accountRow(acc)}, acc)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.UserID, "user", "", "Owner user ID")
	cmd.Flags().StringVar(&req.InitialBalance, "balance", "0", "Initial balance")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newAccountShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := clientFn().GetAccount(args[0])
			if err != nil {
				return err
			}
			outputFn().Print(accountHeaders, [][]string{accountRow(acc)}, acc)
			return nil
		},
	}
}
