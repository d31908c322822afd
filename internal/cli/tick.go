package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewTickCmd создаёт команду, выполняющую один проход планировщика.
func NewTickCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass (POST /run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			summary, err := client.Tick()
			if summary != nil {
				out.Print(
					[]string{"CLAIMED", "SUCCEEDED", "FAILED", "RETRIED", "DISCARDED", "RELEASED", "ERRORS"},
					[][]string{{
						strconv.Itoa(summary.Claimed), strconv.Itoa(summary.Succeeded),
						strconv.Itoa(summary.Failed), strconv.Itoa(summary.Retried),
						strconv.Itoa(summary.Discarded), strconv.Itoa(summary.Released),
						strconv.Itoa(summary.Errors),
					}},
					summary,
				)
			}
			return err
		},
	}
}
