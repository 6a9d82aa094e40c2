package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an event",
	Long:  "Send a single state-change envelope to the audit service",
	Example: `  thawk-audit publish --entity-type book --entity-id B1 --operation insert --data '{"name":"x"}'
  thawk-audit publish --entity-type book --entity-id B1 --operation delete
  thawk-audit publish --file envelope.json
  cat envelope.json | thawk-audit publish --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := envelopeFromFlags(cmd)
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		id, err := c.Publish(cmd.Context(), body)
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputFormat(cmd) == "json" {
			return output.JSON(map[string]string{"id": id})
		}
		output.Success("Event %s accepted", id)
		return nil
	},
}

// envelopeFromFlags reads --file or assembles an envelope from the detail flags.
func envelopeFromFlags(cmd *cobra.Command) ([]byte, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		return readEnvelope(cmd, path)
	}

	profile, err := activeProfile(cmd)
	if err != nil {
		return nil, err
	}

	entityType, _ := cmd.Flags().GetString("entity-type")
	entityID, _ := cmd.Flags().GetString("entity-id")
	operation, _ := cmd.Flags().GetString("operation")
	author, _ := cmd.Flags().GetString("author")
	source, _ := cmd.Flags().GetString("source")
	detailType, _ := cmd.Flags().GetString("detail-type")
	dataJSON, _ := cmd.Flags().GetString("data")
	tsFlag, _ := cmd.Flags().GetString("ts")

	if entityID == "" {
		return nil, fmt.Errorf("either --file or --entity-id is required")
	}
	if author == "" {
		author = profile.Author
	}
	if source == "" {
		source = profile.Source
	}

	ts := time.Now()
	if tsFlag != "" {
		ms, err := parseMillis(tsFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --ts: %w", err)
		}
		ts = time.UnixMilli(ms)
	}

	var data any
	if dataJSON != "" {
		if !json.Valid([]byte(dataJSON)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		data = json.RawMessage(dataJSON)
	}

	env, err := event.New(source, entityType, entityID, operation, author, ts, data)
	if err != nil {
		return nil, err
	}
	if detailType != "" {
		env.DetailType = detailType
	}
	env.Time = ts.UTC().Format(time.RFC3339)
	env.EnsureID()
	return env.Encode()
}

func readEnvelope(cmd *cobra.Command, path string) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	if path == "-" {
		body, err = io.ReadAll(cmd.InOrStdin())
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("envelope in %s is not valid JSON", path)
	}
	return body, nil
}

func addEnvelopeFlags(c *cobra.Command) {
	c.Flags().StringP("file", "f", "", "read the envelope from a file (- for stdin)")
	c.Flags().String("entity-type", "", "detail.entity-type")
	c.Flags().String("entity-id", "", "detail.entity-id")
	c.Flags().String("operation", event.OperationUpdate, "detail.operation (insert, update, delete)")
	c.Flags().String("author", "", "detail.author (default: profile author)")
	c.Flags().String("source", "", "envelope source (default: profile source)")
	c.Flags().String("detail-type", "", "envelope detail-type (default: "+event.DetailTypeStateChange+")")
	c.Flags().String("data", "", "detail.data as JSON")
	c.Flags().String("ts", "", "detail.ts as epoch millis or RFC3339 (default: now)")
}

func init() {
	rootCmd.AddCommand(publishCmd)
	addEnvelopeFlags(publishCmd)
}
