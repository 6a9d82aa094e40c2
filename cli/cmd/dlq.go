package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered dispatches",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the oldest dead-lettered dispatches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		dl, err := c.DeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		format := outputFormat(cmd)
		if format == "" || format == "table" {
			output.Info("%d messages (%d bytes) in the dead-letter queue", dl.Stats.Messages, dl.Stats.Bytes)
			if len(dl.Messages) == 0 {
				return nil
			}
		}
		return output.Render(format, dl, func() *output.Table {
			t := output.NewTable("EVENT ID", "RULE", "TARGET", "STEP", "ATTEMPTS", "RETRYABLE", "FAILED AT", "ERROR")
			for _, m := range dl.Messages {
				t.AddRow(m.EventID, m.Rule, m.Target, m.Step,
					strconv.Itoa(m.Attempts), strconv.FormatBool(m.Retryable),
					m.FailedAt.UTC().Format("2006-01-02 15:04:05"), m.Error)
			}
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)

	dlqListCmd.Flags().Int("limit", 50, "maximum messages to show")
}
