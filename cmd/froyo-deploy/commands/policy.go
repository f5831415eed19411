package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
	"github.com/openfroyo/deploy/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "List and test install policies",
		Long: `List and test the Rego policies that vet install requests.

Built-in policies are always loaded; the manifest's policy paths add
.rego, .json and .yaml policy files.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			policies := d.Policy.ListPolicies()
			out := cmd.OutOrStdout()
			if jsonOutput {
				type entry struct {
					Name        string          `json:"name"`
					Description string          `json:"description,omitempty"`
					Severity    policy.Severity `json:"severity"`
					Enabled     bool            `json:"enabled"`
					Builtin     bool            `json:"builtin,omitempty"`
					Source      string          `json:"source,omitempty"`
				}
				entries := make([]entry, len(policies))
				for i, p := range policies {
					entries[i] = entry{p.Name, p.Description, p.Severity, p.Enabled, p.Builtin, p.Source}
				}
				return printJSON(out, entries)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tSTATE\tSOURCE")
			for _, p := range policies {
				state := color.GreenString("enabled")
				if !p.Enabled {
					state = color.YellowString("disabled")
				}
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, state, source)
			}
			return tw.Flush()
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		params []string
		host   string
	)

	cmd := &cobra.Command{
		Use:   "check <artifact>",
		Short: "Evaluate policies against an install request",
		Long: `Evaluate every enabled policy against an install request without
touching any host.`,
		Example: `  froyo-deploy policy check nginx -p version=1.24 --host web-1`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseKeyValues(params)
			if err != nil {
				return err
			}
			artifact, err := engine.NewProduct(args[0], engine.Params(values))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			result, err := d.Policy.Evaluate(ctx, policy.NewInput(host, artifact))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, result); err != nil {
					return err
				}
			} else {
				for _, v := range result.Violations {
					fmt.Fprintf(out, "%s %s: %s\n", color.RedString("deny"), v.Policy, v.Message)
				}
				for _, v := range result.Warnings {
					fmt.Fprintf(out, "%s %s: %s\n", color.YellowString("warn"), v.Policy, v.Message)
				}
				if result.Allowed {
					fmt.Fprintf(out, "%s %s on %s (%d policies)\n", color.GreenString("allow"),
						artifact.Name(), host, len(result.EvaluatedPolicies))
				}
			}

			if !result.Allowed {
				return fmt.Errorf("install of %s on %s denied by %d violations", artifact.Name(), host, len(result.Violations))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "artifact parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&host, "host", executor.LocalTarget, "target host")

	return cmd
}
