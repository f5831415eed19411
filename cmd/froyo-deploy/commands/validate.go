package commands

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Validate a deployment manifest",
		Long: `Validate a deployment manifest without connecting to any host.

This command checks:
  - YAML, CUE or JSON syntax
  - Schema conformance and unknown fields
  - Field constraints (source types, ports, URLs, durations)`,
		Example: `  # Validate the manifest named by --config
  froyo-deploy validate

  # Validate a specific file
  froyo-deploy validate ./deploy.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			out := cmd.OutOrStdout()
			m, err := config.Load(path)
			if err != nil {
				var le *config.LoadError
				if !errors.As(err, &le) {
					return err
				}
				if jsonOutput {
					if perr := printJSON(out, le.Errors); perr != nil {
						return perr
					}
				} else {
					for _, ve := range le.Errors {
						fmt.Fprintf(out, "%s %s\n", color.RedString("error"), ve.Error())
					}
				}
				return fmt.Errorf("%s has %d errors", path, len(le.Errors))
			}

			if jsonOutput {
				sources := make([]string, len(m.Sources))
				for i, sc := range m.Sources {
					sources[i] = sc.Name
				}
				hosts := make([]string, 0, len(m.Hosts))
				for name := range m.Hosts {
					hosts = append(hosts, name)
				}
				sort.Strings(hosts)
				return printJSON(out, map[string]interface{}{
					"valid":   true,
					"sources": sources,
					"hosts":   hosts,
				})
			}
			fmt.Fprintf(out, "%s %s: %d sources, %d hosts\n",
				color.GreenString("ok"), path, len(m.Sources), len(m.Hosts))
			return nil
		},
	}

	return cmd
}
