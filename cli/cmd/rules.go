package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/audit/pkg/routing"
	"github.com/telhawk-systems/telhawk-audit/cli/internal/client"
	"github.com/telhawk-systems/telhawk-audit/cli/pkg/output"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Routing rules tooling",
	Long:  "Validate routing rule files and test which rules an envelope matches",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <rules-file>",
	Short: "Compile a rules file and list its rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := routing.LoadFile(args[0])
		if err != nil {
			return err
		}
		rules := engine.Rules()

		if format := outputFormat(cmd); format == "json" || format == "yaml" {
			return output.Render(format, ruleSummaries(rules), nil)
		}
		output.Success("%s: %d rules OK", args[0], len(rules))
		ruleTable(rules).Render()
		return nil
	},
}

var rulesDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the built-in rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := output.Stdout.Write(routing.DefaultRules())
		return err
	},
}

var rulesRouteCmd = &cobra.Command{
	Use:   "route <envelope-file|->",
	Short: "Show which rules and targets an envelope matches",
	Long: `Evaluate an envelope against a rule set without publishing it.

Offline mode uses --rules (or the built-in rules). With --remote the
server's active rule set is used instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := readEnvelope(cmd, args[0])
		if err != nil {
			return err
		}

		var resp *client.RouteResponse
		if remote, _ := cmd.Flags().GetBool("remote"); remote {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if resp, err = c.Route(cmd.Context(), body); err != nil {
				return fmt.Errorf("failed to route event: %w", err)
			}
		} else {
			rulesFile, _ := cmd.Flags().GetString("rules")
			if resp, err = routeOffline(body, rulesFile); err != nil {
				return err
			}
		}

		format := outputFormat(cmd)
		if (format == "" || format == "table") && len(resp.Matches) == 0 {
			output.Warn("Event %s matches no rules", resp.EventID)
			return nil
		}
		return output.Render(format, resp, func() *output.Table {
			t := output.NewTable("RULE", "TARGET", "INDEX", "MESSAGE")
			for _, m := range resp.Matches {
				msg := m.Message
				if m.Error != "" {
					msg = "error: " + m.Error
				}
				t.AddRow(m.Rule, m.Target, strconv.Itoa(m.TargetIndex), msg)
			}
			return t
		})
	},
}

// routeOffline mirrors the server's dry run with a local rule set.
func routeOffline(body []byte, rulesFile string) (*client.RouteResponse, error) {
	ev, err := event.Parse(body)
	if err != nil {
		return nil, err
	}

	var engine *routing.Engine
	if rulesFile != "" {
		engine, err = routing.LoadFile(rulesFile)
	} else {
		engine, err = routing.Default()
	}
	if err != nil {
		return nil, err
	}

	resp := &client.RouteResponse{EventID: ev.ID, Matches: []client.RouteMatch{}}
	fields := ev.Fields()
	for _, d := range engine.Route(ev) {
		m := client.RouteMatch{
			Rule:        d.Rule.Name,
			Target:      string(d.Target.Type),
			TargetIndex: d.TargetIndex,
		}
		if d.Target.Template != nil {
			if msg, err := d.Target.Template.Render(fields); err != nil {
				m.Error = err.Error()
			} else {
				m.Message = msg
			}
		}
		resp.Matches = append(resp.Matches, m)
	}
	return resp, nil
}

type ruleSummary struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Targets     []string `json:"targets" yaml:"targets"`
}

func ruleSummaries(rules []*routing.Rule) []ruleSummary {
	out := make([]ruleSummary, 0, len(rules))
	for _, r := range rules {
		s := ruleSummary{Name: r.Name, Description: r.Description, Pattern: r.Pattern.String()}
		for _, t := range r.Targets {
			s.Targets = append(s.Targets, string(t.Type))
		}
		out = append(out, s)
	}
	return out
}

func ruleTable(rules []*routing.Rule) *output.Table {
	t := output.NewTable("NAME", "TARGETS", "PATTERN")
	for _, s := range ruleSummaries(rules) {
		t.AddRow(s.Name, strings.Join(s.Targets, ","), s.Pattern)
	}
	return t
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd, rulesDefaultCmd, rulesRouteCmd)

	rulesRouteCmd.Flags().String("rules", "", "rules file for offline routing (default: built-in rules)")
	rulesRouteCmd.Flags().Bool("remote", false, "ask the audit service instead of routing locally")
}
