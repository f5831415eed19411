package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/engine"
	"github.com/openfroyo/deploy/pkg/executor"
)

func newInstallCommand() *cobra.Command {
	var (
		params  []string
		hosts   []string
		sources []string
	)

	cmd := &cobra.Command{
		Use:   "install <artifact>",
		Short: "Install an artifact on one or more hosts",
		Long: `Install an artifact on one or more hosts.

For every host this command:
  - Checks the artifact against the loaded policies
  - Detects the host's operating system
  - Queries the repository for the version matching the parameters
  - Tries each package source in order until one succeeds

A host fails only when every source failed; each source's error is
reported.`,
		Example: `  # Install nginx 1.24 on the local machine
  froyo-deploy install nginx --param version=1.24

  # Install on two hosts, mirror source only
  froyo-deploy install nginx -p version=1.24 --host web-1 --host web-2 --source mirror

  # Install a differently named package under an artifact type
  froyo-deploy install WebServer -p package=nginx -p version=1.25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseKeyValues(params)
			if err != nil {
				return err
			}
			artifact, err := engine.NewProduct(args[0], engine.Params(values))
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				hosts = []string{executor.LocalTarget}
			}

			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			inst, err := d.Installer(sources...)
			if err != nil {
				return err
			}

			log.Info().
				Str("artifact", artifact.String()).
				Strs("hosts", hosts).
				Strs("sources", inst.Sources()).
				Msg("Installing artifact")

			rollout := d.Rollout(inst)
			var bar *progressbar.ProgressBar
			if !jsonOutput && len(hosts) > 1 {
				bar = newHostBar(cmd.ErrOrStderr(), len(hosts))
				rollout.OnHostDone = func(res engine.HostResult) {
					bar.Describe(res.Host)
					_ = bar.Add(1)
				}
			}

			results, runErr := rollout.Run(ctx, hosts, artifact)
			if bar != nil {
				_ = bar.Finish()
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, installReports(results)); err != nil {
					return err
				}
			} else {
				printInstallResults(out, artifact, results)
			}

			if runErr != nil {
				return runErr
			}
			for _, res := range results {
				if !res.Succeeded() {
					return fmt.Errorf("%s failed on one or more hosts", artifact.Name())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "artifact parameter as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "target host (repeatable, default localhost)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "package source to use, in order (default: all)")

	return cmd
}

func newHostBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("installing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

type installReport struct {
	Host     string   `json:"host"`
	Success  bool     `json:"success"`
	Source   string   `json:"source,omitempty"`
	Duration string   `json:"duration,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func installReports(results []engine.HostResult) []installReport {
	reports := make([]installReport, 0, len(results))
	for _, res := range results {
		r := installReport{Host: res.Host, Success: res.Succeeded()}
		if res.Outcome != nil {
			r.Source = res.Outcome.Source
			r.Duration = res.Outcome.Duration.String()
			for _, se := range res.Outcome.Errors {
				r.Errors = append(r.Errors, se.Error())
			}
		}
		if res.Err != nil {
			r.Errors = append(r.Errors, res.Err.Error())
		}
		reports = append(reports, r)
	}
	return reports
}

func printInstallResults(w io.Writer, artifact engine.Artifact, results []engine.HostResult) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for _, res := range results {
		switch {
		case res.Succeeded():
			fmt.Fprintf(w, "%s %s %s via %s %s\n", ok("✓"), res.Host, artifact.Name(),
				res.Outcome.Source, dim(res.Outcome.Duration.Round(time.Millisecond)))
			for _, se := range res.Outcome.Errors {
				fmt.Fprintf(w, "    %s %s\n", dim("skipped"), se.Error())
			}
		case res.Err != nil:
			fmt.Fprintf(w, "%s %s %v\n", fail("✗"), res.Host, res.Err)
		case res.Outcome != nil:
			fmt.Fprintf(w, "%s %s %s: all sources failed\n", fail("✗"), res.Host, artifact.Name())
			for _, se := range res.Outcome.Errors {
				fmt.Fprintf(w, "    %s\n", se.Error())
			}
		}
	}
}
