package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/deploy/pkg/config"
	"github.com/openfroyo/deploy/pkg/repository"
)

func newRepoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Inspect and index the package repository",
		Long: `Inspect and index the package repository.

The repository is either a directory tree of <platform>/<package>/.metadata
files or a catalog database indexed from such a tree.`,
	}

	cmd.AddCommand(newRepoPlatformsCommand())
	cmd.AddCommand(newRepoPackagesCommand())
	cmd.AddCommand(newRepoQueryCommand())
	cmd.AddCommand(newRepoIndexCommand())

	return cmd
}

func newRepoPlatformsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			platforms, err := d.Repository.Platforms(ctx)
			if err != nil {
				return err
			}
			return printNames(cmd.OutOrStdout(), platforms)
		},
	}
}

func newRepoPackagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "packages <platform>",
		Short: "List the packages of a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			packages, err := d.Repository.Packages(ctx, args[0])
			if err != nil {
				return err
			}
			return printNames(cmd.OutOrStdout(), packages)
		},
	}
}

func newRepoQueryCommand() *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:   "query <platform> <package>",
		Short: "List the versions of a package matching attributes",
		Example: `  # All versions of nginx on FreeBSD
  froyo-deploy repo query freebsd nginx

  # Versions with a given attribute set
  froyo-deploy repo query freebsd nginx --where version=1.24 --where arch=amd64`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := parseKeyValues(where)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d, err := loadDeployment(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			versions, err := d.Repository.Query(ctx, args[0], args[1], repository.Criteria(criteria))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if versions == nil {
					versions = []repository.Version{}
				}
				return printJSON(out, versions)
			}
			printVersions(out, versions)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "attribute filter as key=value (repeatable)")

	return cmd
}

func newRepoIndexCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the repository tree into a catalog database",
		Long: `Index the repository tree into a catalog database.

Every platform and package under the manifest's repository root is read
and written to the catalog in one transaction, replacing what the catalog
held before. Packages with unreadable metadata are skipped and counted.`,
		Example: `  froyo-deploy repo index --catalog /var/lib/froyo-deploy/catalog.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if m.Repository.Root == "" {
				return fmt.Errorf("repository.root is required to build a catalog")
			}
			if catalogPath == "" {
				catalogPath = m.Repository.Catalog
			}
			if catalogPath == "" {
				return fmt.Errorf("--catalog is required when the manifest names no catalog")
			}

			ctx := cmd.Context()
			catalog, err := repository.OpenCatalog(ctx, catalogPath)
			if err != nil {
				return err
			}
			defer catalog.Close()

			stats, err := catalog.Import(ctx, repository.NewFilesystem(m.Repository.Root))
			if err != nil {
				return err
			}

			log.Info().
				Str("catalog", catalog.Path()).
				Int("platforms", stats.Platforms).
				Int("packages", stats.Packages).
				Int("versions", stats.Versions).
				Int("broken", stats.Broken).
				Msg("Catalog indexed")

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d platforms, %d packages, %d versions into %s\n",
				stats.Platforms, stats.Packages, stats.Versions, catalog.Path())
			if stats.Broken > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("skipped %d packages with unreadable metadata", stats.Broken))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog database path (default: repository.catalog)")

	return cmd
}

func printNames(w io.Writer, names []string) error {
	if jsonOutput {
		if names == nil {
			names = []string{}
		}
		return printJSON(w, names)
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

func printVersions(w io.Writer, versions []repository.Version) {
	key := color.New(color.FgCyan).SprintFunc()
	for i, v := range versions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		var attrs []string
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			attrs = append(attrs, key(k)+"="+val)
		}
		fmt.Fprintln(w, strings.Join(attrs, " "))
		for _, r := range v.Resources() {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
}
