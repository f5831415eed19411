package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/executor"
)

type detection struct {
	Host     string `json:"host"`
	Variant  string `json:"variant,omitempty"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect [host...]",
		Short: "Detect the operating system of hosts",
		Long: `Detect the operating system of hosts.

Each configured OS variant is probed in order; the first one that
recognises the host wins. Without arguments the local machine is probed.`,
		Example: `  # Detect the local machine
  froyo-deploy detect

  # Detect remote hosts
  froyo-deploy detect web-1 db-1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{executor.LocalTarget}
			}

			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			var (
				results []detection
				failed  int
			)
			for _, host := range args {
				res := detection{Host: host}
				h, err := d.Detector.Detect(ctx, host)
				if err != nil {
					res.Error = err.Error()
					failed++
				} else {
					res.Variant = h.Variant().Name
					res.Platform = h.Platform()
					h.Close()
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				bold := color.New(color.Bold).SprintFunc()
				red := color.New(color.FgRed).SprintFunc()
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(out, "%s\t%s\n", bold(r.Host), red(r.Error))
						continue
					}
					fmt.Fprintf(out, "%s\t%s (%s)\n", bold(r.Host), r.Variant, r.Platform)
				}
			}

			if failed > 0 {
				return fmt.Errorf("detection failed on %d of %d hosts", failed, len(results))
			}
			return nil
		},
	}

	return cmd
}
