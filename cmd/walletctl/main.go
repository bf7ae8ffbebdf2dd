// walletctl — инструмент командной строки для переводов,
// саг и dead-letter через Wallet API.
//
// Использование:
//
//	walletctl [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	transfer    Переводы между счетами
//	saga        Статус саги и её шагов
//	deadletter  Саги, которые не удалось ни завершить, ни откатить
//	account     Счета
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Wallet/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "walletctl, command line client for the Wallet API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("WALLET_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTransferCmd(clientFn, outputFn),
		cli.NewSagaCmd(clientFn, outputFn),
		cli.NewDeadLetterCmd(clientFn, outputFn),
		cli.NewAccountCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
