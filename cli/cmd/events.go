package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/cli/internal/client"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Look up indexed events",
	Long:  "Query the event index by id, entity or author, and inspect workflow history",
}

var eventsGetCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show the index record of an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		rec, err := c.GetEvent(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get event: %w", err)
		}
		return output.Render(outputFormat(cmd), rec, func() *output.Table {
			return recordTable([]client.EventRecord{*rec})
		})
	},
}

var eventsEntityCmd = &cobra.Command{
	Use:   "entity <entity-id>",
	Short: "List the events of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := listQuery(cmd)
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		records, err := c.ListByEntity(cmd.Context(), args[0], q)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		return renderRecords(cmd, records)
	},
}

var eventsAuthorCmd = &cobra.Command{
	Use:   "author <author>",
	Short: "List the events recorded for an author",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := listQuery(cmd)
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		records, err := c.ListByAuthor(cmd.Context(), args[0], q)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		return renderRecords(cmd, records)
	},
}

var eventsHistoryCmd = &cobra.Command{
	Use:   "history <event-id>",
	Short: "Show the latest workflow execution of an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		exec, err := c.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get execution: %w", err)
		}
		return output.Render(outputFormat(cmd), exec, func() *output.Table {
			t := output.NewTable("STEP", "STATUS", "DURATION")
			for _, s := range exec.Steps {
				t.AddRow(s.Step, s.Status, strconv.FormatInt(s.DurationMs, 10)+"ms")
			}
			if exec.Error != "" {
				t.AddRow(exec.FailedStep, exec.State, exec.Error)
			}
			return t
		})
	},
}

func listQuery(cmd *cobra.Command) (client.Query, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	limit, _ := cmd.Flags().GetInt("limit")

	var (
		q   = client.Query{Limit: limit}
		err error
	)
	if q.From, err = parseMillis(from); err != nil {
		return q, fmt.Errorf("invalid --from: %w", err)
	}
	if q.To, err = parseMillis(to); err != nil {
		return q, fmt.Errorf("invalid --to: %w", err)
	}
	return q, nil
}

func renderRecords(cmd *cobra.Command, records []client.EventRecord) error {
	format := outputFormat(cmd)
	if (format == "" || format == "table") && len(records) == 0 {
		output.Info("No events found")
		return nil
	}
	return output.Render(format, records, func() *output.Table {
		return recordTable(records)
	})
}

func recordTable(records []client.EventRecord) *output.Table {
	t := output.NewTable("EVENT ID", "ENTITY TYPE", "ENTITY ID", "OPERATION", "AUTHOR", "TIME", "ARCHIVE KEY")
	for _, r := range records {
		t.AddRow(r.EventID, r.EntityType, r.EntityID, r.Operation, r.Author, formatMillis(r.TS), r.S3Key)
	}
	return t
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsGetCmd, eventsEntityCmd, eventsAuthorCmd, eventsHistoryCmd)

	for _, c := range []*cobra.Command{eventsEntityCmd, eventsAuthorCmd} {
		c.Flags().String("from", "", "lower ts bound, epoch millis or RFC3339")
		c.Flags().String("to", "", "upper ts bound, epoch millis or RFC3339")
		c.Flags().Int("limit", 0, "maximum records to return (server default when 0)")
	}
}
