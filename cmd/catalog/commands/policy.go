package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/policy"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and try validity policies",
		Long: `Rego policies decide whether a candidate fact may be returned by a search.

A policy is a Rego module defining a boolean valid rule, a deny set of
messages, or both; modules defining neither are rejected. Policies are read
from .rego files, .json policies and .json bundles holding a policies array.
Three policies are built in: exclude_failed_sources, non_null_values and
provided_only.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyEvalCommand())

	return cmd
}

// newPolicyEngine returns an engine holding the built-in policies, the
// policies configured in catalog.yaml and those under paths.
func newPolicyEngine(cmd *cobra.Command, paths []string) (*policy.Engine, error) {
	ctx := cmd.Context()
	cfg := configFrom(ctx)

	engine, err := policy.NewEngine(telemetry.FromContext(ctx).Zerolog())
	if err != nil {
		return nil, err
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		engine.SetMetrics(tel.Metrics)
	}

	all := append(append([]string{}, cfg.Policies.Paths...), paths...)
	if len(all) > 0 {
		if err := engine.LoadPolicies(ctx, all); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func newPolicyListCommand() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newPolicyEngine(cmd, paths)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return printJSON(cmd, policies)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENABLED\tTAGS\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", p.Name, p.Enabled, strings.Join(p.Tags, ","), p.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "policy file or directory to load")

	return cmd
}

func newPolicyEvalCommand() *cobra.Command {
	var (
		paths   []string
		schemas []string
		fact    string
	)

	cmd := &cobra.Command{
		Use:   "eval <policy...>",
		Short: "Evaluate policies against one fact",
		Example: `  # Would this film be accepted by a custom policy?
  catalog policy eval good_films --path ./policies --schema ./schemas --fact Film=jaws.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(schemas) == 0 {
				schemas = configFrom(ctx).Schemas
			}

			engine, err := newPolicyEngine(cmd, paths)
			if err != nil {
				return err
			}

			s, err := newSchemaLoader(ctx).Load(ctx, schemas)
			if err != nil {
				return err
			}
			typeName, path, err := splitAssignment("fact", fact)
			if err != nil {
				return err
			}
			instance, err := config.LoadFactFile(s, typeName, path)
			if err != nil {
				return err
			}

			decisions := make([]*policy.Decision, 0, len(args))
			for _, name := range args {
				d, err := engine.Evaluate(ctx, name, instance)
				if err != nil {
					return err
				}
				decisions = append(decisions, d)
			}

			if jsonOutput {
				return printJSON(cmd, decisions)
			}
			for _, d := range decisions {
				mark := "✓"
				if !d.Allowed {
					mark = "✗"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", mark, d.Policy, d.Duration)
				for _, reason := range d.Reasons {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "policy file or directory to load")
	cmd.Flags().StringSliceVar(&schemas, "schema", nil, "schema file or directory (default: schemas in catalog.yaml)")
	cmd.Flags().StringVar(&fact, "fact", "", "fact to evaluate as Type=path")
	_ = cmd.MarkFlagRequired("fact")

	return cmd
}
