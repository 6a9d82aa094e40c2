package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/cli/internal/seeder"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish generated entity events",
	Long: `Generate insert, update and delete events for a pool of fake entities
and publish them to the audit service.

Settings come from seeder.yaml (current directory or $HOME/.thawk-audit),
SEEDER_* environment variables, then the flags below.`,
	Example: `  thawk-audit seed --count 1000 --entities 100
  thawk-audit seed --types book,order --delete-ratio 0.2 --seed 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seedConfig, _ := cmd.Flags().GetString("seed-config")
		sc, err := seeder.LoadConfig(seedConfig)
		if err != nil {
			return err
		}
		applySeedFlags(cmd, sc)
		if err := sc.Validate(); err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		runner := seeder.NewRunner(sc, c)
		runner.Logger = log.New(os.Stderr, "", log.LstdFlags)

		summary, err := runner.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("seeding interrupted: %w", err)
		}
		if outputFormat(cmd) == "json" {
			return output.JSON(summary)
		}
		if summary.Failed > 0 {
			output.Warn("Sent %d events, %d failed (%v)", summary.Sent, summary.Failed, summary.Duration)
			return nil
		}
		output.Success("Sent %d events in %v", summary.Sent, summary.Duration)
		return nil
	},
}

// applySeedFlags overrides only the flags the user set.
func applySeedFlags(cmd *cobra.Command, sc *seeder.Config) {
	f := cmd.Flags()
	if f.Changed("count") {
		sc.Count, _ = f.GetInt("count")
	}
	if f.Changed("entities") {
		sc.Entities, _ = f.GetInt("entities")
	}
	if f.Changed("authors") {
		sc.Authors, _ = f.GetInt("authors")
	}
	if f.Changed("types") {
		sc.EntityTypes, _ = f.GetStringSlice("types")
	}
	if f.Changed("delete-ratio") {
		sc.DeleteRatio, _ = f.GetFloat64("delete-ratio")
	}
	if f.Changed("time-spread") {
		sc.TimeSpread, _ = f.GetDuration("time-spread")
	}
	if f.Changed("concurrency") {
		sc.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("interval") {
		sc.Interval, _ = f.GetDuration("interval")
	}
	if f.Changed("source") {
		sc.Source, _ = f.GetString("source")
	}
	if f.Changed("seed") {
		sc.Seed, _ = f.GetInt64("seed")
	}
}

func init() {
	rootCmd.AddCommand(seedCmd)

	d := seeder.DefaultConfig()
	seedCmd.Flags().String("seed-config", "", "seeder config file (default: ./seeder.yaml)")
	seedCmd.Flags().Int("count", d.Count, "number of events to publish")
	seedCmd.Flags().Int("entities", d.Entities, "size of the active entity pool")
	seedCmd.Flags().Int("authors", d.Authors, "number of distinct authors")
	seedCmd.Flags().StringSlice("types", d.EntityTypes, "entity types to generate")
	seedCmd.Flags().Float64("delete-ratio", d.DeleteRatio, "probability that a known entity is deleted")
	seedCmd.Flags().Duration("time-spread", d.TimeSpread, "spread event timestamps over this window ending now")
	seedCmd.Flags().Int("concurrency", d.Concurrency, "parallel publish requests")
	seedCmd.Flags().Duration("interval", d.Interval, "pause between events")
	seedCmd.Flags().String("source", d.Source, "envelope source")
	seedCmd.Flags().Int64("seed", d.Seed, "random seed (0 uses the clock)")
}
