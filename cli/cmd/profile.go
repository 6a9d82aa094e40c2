package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/cli/internal/config"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &config.Profile{}
		if existing, ok := cfg.Profiles[args[0]]; ok {
			*p = *existing
		}
		if cmd.Flags().Changed("server") {
			p.ServerURL, _ = cmd.Flags().GetString("server")
		}
		if cmd.Flags().Changed("source") {
			p.Source, _ = cmd.Flags().GetString("source")
		}
		if cmd.Flags().Changed("author") {
			p.Author, _ = cmd.Flags().GetString("author")
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cfg.GetProfile(args[0]); err != nil {
			return err
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		output.Success("Switched to profile '%s'", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles)+1)
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		if _, ok := cfg.Profiles["default"]; !ok {
			names = append(names, "default")
		}
		sort.Strings(names)

		profiles := make(map[string]*config.Profile, len(names))
		for _, name := range names {
			p, err := cfg.GetProfile(name)
			if err != nil {
				return err
			}
			profiles[name] = p
		}

		return output.Render(outputFormat(cmd), profiles, func() *output.Table {
			t := output.NewTable("", "NAME", "SERVER", "SOURCE", "AUTHOR")
			for _, name := range names {
				marker := ""
				if name == cfg.CurrentProfile {
					marker = "*"
				}
				p := profiles[name]
				t.AddRow(marker, name, p.ServerURL, p.Source, p.Author)
			}
			return t
		})
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileUseCmd, profileListCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("source", "", "default envelope source")
	profileSetCmd.Flags().String("author", "", "default author for publish")
}
