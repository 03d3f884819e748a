package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/telemetry"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, info BuildInfo) error {
	rootCmd := newRootCommand(info)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(info BuildInfo) *cobra.Command {
	var tel *telemetry.Telemetry

	rootCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Schema-driven fact catalog",
		Long: `catalog resolves facts by semantic type.

Facts are typed values (objects, collections, scalars and enums) checked
against a schema written in CUE, YAML or JSON. A search asks for a type and
a discovery strategy and returns the single matching value, every matching
value, or nothing when the answer is ambiguous.

Features:
  - Schemas in CUE, YAML or JSON, validated on load
  - Datasets of root facts in YAML, JSON, CUE or Starlark
  - Validity predicates as Starlark expressions or OPA/Rego policies
  - SQLite store for schemas and datasets
  - Watch mode that re-runs searches when inputs change`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			cfg, err := loadConfig(cmd.Name() == "init")
			if err != nil {
				return err
			}
			cfg.Telemetry.ServiceVersion = info.Version
			if verbose {
				cfg.Telemetry.Logging.Level = "debug"
			}

			tel, err = telemetry.NewTelemetry(cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}

			ctx := withConfig(tel.WithContext(cmd.Context()), cfg)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if tel == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
			}
			return nil
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./catalog.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newDatasetCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd, info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog %s\n  commit: %s\n  built:  %s\n", info.Version, info.Commit, info.BuildDate)
			return nil
		},
	}
}
