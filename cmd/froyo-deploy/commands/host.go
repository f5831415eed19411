package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/config"
	"github.com/openfroyo/deploy/pkg/executor"
	"github.com/openfroyo/deploy/pkg/hostos"
)

// hostFlags are shared by the host subcommands.
type hostFlags struct {
	host string
	os   string
}

func newHostCommand() *cobra.Command {
	flags := &hostFlags{}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run file primitives on a host",
		Long: `Run one of the OS-specific file primitives on a host.

The host's operating system is detected first, unless --os names the
variant to use. The command's output is printed and a non-zero exit
status fails the command.`,
	}

	cmd.PersistentFlags().StringVar(&flags.host, "host", executor.LocalTarget, "target host")
	cmd.PersistentFlags().StringVar(&flags.os, "os", "", "skip detection and use this OS variant")

	cmd.AddCommand(newHostFetchCommand(flags))
	cmd.AddCommand(newHostUnzipCommand(flags))
	cmd.AddCommand(newHostMoveCommand(flags))
	cmd.AddCommand(newHostMkdirCommand(flags))
	cmd.AddCommand(newHostTouchCommand(flags))

	return cmd
}

func newHostFetchCommand(flags *hostFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "fetch <uri> <dest-dir>",
		Short:   "Download a URI into a directory",
		Example: `  froyo-deploy host fetch https://packages.example.com/nginx.zip /var/cache/deploy --host web-1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimitive(cmd, flags, func(ctx context.Context, h *hostos.HostOS) (*executor.Result, error) {
				return h.Fetch(ctx, args[0], args[1])
			})
		},
	}
}

func newHostUnzipCommand(flags *hostFlags) *cobra.Command {
	var unzipFlags string

	cmd := &cobra.Command{
		Use:     "unzip <archive> <target-dir>",
		Short:   "Extract a zip archive",
		Example: `  froyo-deploy host unzip /var/cache/deploy/nginx.zip /opt/nginx --flags -o`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimitive(cmd, flags, func(ctx context.Context, h *hostos.HostOS) (*executor.Result, error) {
				return h.Unzip(ctx, args[0], args[1], unzipFlags)
			})
		},
	}
	cmd.Flags().StringVar(&unzipFlags, "flags", "", "extra flags passed to unzip")

	return cmd
}

func newHostMoveCommand(flags *hostFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimitive(cmd, flags, func(ctx context.Context, h *hostos.HostOS) (*executor.Result, error) {
				return h.Move(ctx, args[0], args[1])
			})
		},
	}
}

func newHostMkdirCommand(flags *hostFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <dir>",
		Short: "Create a directory and its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimitive(cmd, flags, func(ctx context.Context, h *hostos.HostOS) (*executor.Result, error) {
				return h.Mkdir(ctx, args[0])
			})
		},
	}
}

func newHostTouchCommand(flags *hostFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <path>",
		Short: "Create a file or update its timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrimitive(cmd, flags, func(ctx context.Context, h *hostos.HostOS) (*executor.Result, error) {
				return h.Touch(ctx, args[0])
			})
		},
	}
}

func runPrimitive(cmd *cobra.Command, flags *hostFlags, fn func(context.Context, *hostos.HostOS) (*executor.Result, error)) error {
	ctx := cmd.Context()
	d, err := loadDeployment(ctx)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	h, err := openHost(ctx, d, flags)
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := fn(ctx, h)
	if err != nil {
		return err
	}

	log.Debug().
		Str("host", h.Host()).
		Str("command", res.Command).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("Primitive finished")

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, res.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	}

	if res.Failed() {
		return fmt.Errorf("%s exited with status %d on %s", firstWord(res.Command), res.ExitCode, h.Host())
	}
	return nil
}

// openHost detects the host's OS, or binds the --os variant directly.
func openHost(ctx context.Context, d *config.Deployment, flags *hostFlags) (*hostos.HostOS, error) {
	if flags.os == "" {
		return d.Detector.Detect(ctx, flags.host)
	}

	variant, err := lookupVariant(d, flags.os)
	if err != nil {
		return nil, err
	}
	exec, err := d.Factory.Open(ctx, flags.host)
	if err != nil {
		return nil, err
	}
	return hostos.New(variant, exec), nil
}

func lookupVariant(d *config.Deployment, name string) (hostos.Variant, error) {
	for _, v := range d.Detector.Variants() {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return d.Detector.Variant(name)
}

func firstWord(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}
