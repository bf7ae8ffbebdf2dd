package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewSagaCmd создаёт группу команд для просмотра саг.
func NewSagaCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Inspect sagas",
	}

	cmd.AddCommand(
		newSagaShowCmd(clientFn, outputFn),
		newSagaStepsCmd(clientFn, outputFn),
	)

	return cmd
}

func newSagaShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show saga status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := clientFn().GetSaga(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"ID", "TYPE", "STATUS", "CURRENT_STEP", "ERROR", "UPDATED"},
				[][]string{{s.ID, s.SagaType, s.Status, s.CurrentStep, s.ErrorDetails, s.UpdatedAt}},
				s,
			)
			return nil
		},
	}
}

func newSagaStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps SAGA_ID",
		Short: "List saga steps in execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := clientFn().ListSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ORDER", "STEP", "STATUS", "RETRIES", "ERROR"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{
					strconv.Itoa(s.StepOrder),
					s.StepName,
					s.Status,
					strconv.Itoa(s.RetryCount) + "/" + strconv.Itoa(s.MaxRetries),
					s.ErrorMessage,
				}
			}

			outputFn().Print(headers, rows, steps)
			return nil
		},
	}
}
