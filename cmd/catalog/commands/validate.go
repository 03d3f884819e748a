package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/policy"
	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// validateReport is the JSON output of validate.
type validateReport struct {
	Files    []string                 `json:"files"`
	Types    int                      `json:"types"`
	Datasets map[string]int           `json:"datasets,omitempty"`
	Policies []string                 `json:"policies,omitempty"`
	Errors   []config.ValidationError `json:"errors,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		datasets []string
		policies []string
	)

	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate schema documents, datasets and policies",
		Long: `Validate schema documents against the built-in schema definition.

This command checks:
  - CUE, YAML and JSON syntax
  - Document structure (type names, fields, enum synonyms)
  - Type references across documents
  - Datasets against the resulting schema
  - Rego policy compilation

Without arguments the schemas listed in catalog.yaml are validated.`,
		Example: `  # Validate the configured schemas
  catalog validate

  # Validate a directory of schemas and a dataset
  catalog validate ./schemas --dataset films.yaml

  # Also compile policies
  catalog validate ./schemas --policy ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ic := telemetry.StartOperation(cmd.Context(), "validate")
			err := runValidate(cmd, args, datasets, policies)
			ic.End(err)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "dataset file to check against the schema")
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "policy file or directory to compile")

	return cmd
}

func runValidate(cmd *cobra.Command, args, datasets, policies []string) error {
	ctx := cmd.Context()
	cfg := configFrom(ctx)

	sources := args
	if len(sources) == 0 {
		sources = cfg.Schemas
	}
	if len(sources) == 0 {
		return fmt.Errorf("no schema sources: pass paths or list schemas in %s", config.DefaultConfigFile)
	}

	log.Info().Strs("sources", sources).Msg("Validating schemas")

	loader := newSchemaLoader(ctx)
	parsed, err := loader.Parse(ctx, sources)
	if err != nil {
		return err
	}

	report := validateReport{
		Files:  parsed.SourceFiles,
		Types:  parsed.TypeCount(),
		Errors: parsed.Errors,
	}

	if len(parsed.Errors) == 0 {
		s, err := config.BuildSchema(parsed)
		if err != nil {
			report.Errors = append(report.Errors, config.ValidationError{Message: err.Error(), Severity: "error"})
		} else {
			report.Datasets = make(map[string]int)
			for _, path := range datasets {
				n, err := countFacts(ctx, loader, s, path)
				if err != nil {
					report.Errors = append(report.Errors, config.ValidationError{File: path, Message: err.Error(), Severity: "error"})
					continue
				}
				report.Datasets[path] = n
			}
		}
	}

	if len(policies) > 0 {
		engine, err := policy.NewEngine(telemetry.FromContext(ctx).Zerolog())
		if err != nil {
			return err
		}
		if err := engine.LoadPolicies(ctx, policies); err != nil {
			report.Errors = append(report.Errors, config.ValidationError{Message: err.Error(), Severity: "error"})
		} else {
			for _, p := range engine.ListPolicies() {
				report.Policies = append(report.Policies, p.Name)
			}
		}
	}

	if jsonOutput {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	} else {
		printValidationErrors(cmd, report.Errors)
		if len(report.Errors) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d file(s), %d type(s) valid\n", len(report.Files), report.Types)
			for path, n := range report.Datasets {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ dataset %s: %d fact(s)\n", path, n)
			}
			if len(report.Policies) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %d policies compiled\n", len(report.Policies))
			}
		}
	}

	if len(report.Errors) > 0 {
		return fmt.Errorf("validation failed with %d error(s)", len(report.Errors))
	}
	return nil
}

func countFacts(ctx context.Context, loader *config.SchemaLoader, s *schema.Schema, path string) (int, error) {
	dataset, err := loader.LoadDataset(ctx, path)
	if err != nil {
		return 0, err
	}
	instances, err := dataset.Instances(s)
	if err != nil {
		return 0, err
	}
	return len(instances), nil
}
