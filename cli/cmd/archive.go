package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Read archived payloads",
}

var archiveGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch the archived data block of an event",
	Example: `  thawk-audit archive get --key 2020/10/21/E1
  thawk-audit archive get --id E1 --ts 1603294852000 --out e1.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		id, _ := cmd.Flags().GetString("id")
		tsFlag, _ := cmd.Flags().GetString("ts")
		out, _ := cmd.Flags().GetString("out")

		if key == "" {
			if id == "" || tsFlag == "" {
				return fmt.Errorf("either --key or both --id and --ts are required")
			}
			ts, err := parseMillis(tsFlag)
			if err != nil {
				return fmt.Errorf("invalid --ts: %w", err)
			}
			key = event.DeriveKey(id, ts)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		body, err := c.GetArchive(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("failed to get archive %s: %w", key, err)
		}

		if out == "" {
			_, err := fmt.Fprintln(output.Stdout, string(body))
			return err
		}
		if err := os.WriteFile(out, body, 0644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		output.Success("Wrote %d bytes from %s to %s", len(body), key, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveGetCmd)

	archiveGetCmd.Flags().String("key", "", "archive key (YYYY/MM/DD/<id>)")
	archiveGetCmd.Flags().String("id", "", "event id, used with --ts to derive the key")
	archiveGetCmd.Flags().String("ts", "", "event ts, epoch millis or RFC3339")
	archiveGetCmd.Flags().String("out", "", "write the payload to a file instead of stdout")
}
