package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/config"
	"github.com/openfroyo/deploy/pkg/engine"
)

const defaultConfigFile = "deploy.yaml"

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-deploy",
		Short: "Install software artifacts onto hosts",
		Long: `froyo-deploy installs versioned software artifacts onto local and
remote hosts.

It detects each host's operating system, queries a package repository for
the matching version and tries the configured package sources in order
until one succeeds. Hosts are reached over SSH, or run locally when the
target resolves to this machine.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv(config.EnvConfig)
	if defaultConfig == "" {
		defaultConfig = defaultConfigFile
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "manifest file path (env "+config.EnvConfig+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newDetectCommand())
	rootCmd.AddCommand(newHostCommand())
	rootCmd.AddCommand(newRepoCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadDeployment loads the manifest named by --config and wires it. The
// caller must Close the deployment.
func loadDeployment(ctx context.Context) (*config.Deployment, error) {
	m, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		m.Telemetry.LogLevel = "debug"
	}

	d, err := config.Build(ctx, m, nil)
	if err != nil {
		return nil, err
	}
	if err := d.Telemetry.StartMetricsServer(); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}

	log.Debug().
		Str("config", configPath).
		Strs("sources", sourceNames(d.Sources)).
		Msg("Deployment loaded")

	return d, nil
}

func sourceNames(sources []engine.PackageSource) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	return names
}

// parseKeyValues turns repeated key=value flags into a map. Later keys win.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
