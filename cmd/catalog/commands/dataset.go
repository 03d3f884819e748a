package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

func newDatasetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage stored datasets of root facts",
		Long: `Import, inspect and remove datasets kept in the catalog store.

Facts are checked against a schema when imported. Stored datasets are
searched with search --stored.`,
	}

	cmd.AddCommand(newDatasetImportCommand())
	cmd.AddCommand(newDatasetListCommand())
	cmd.AddCommand(newDatasetShowCommand())
	cmd.AddCommand(newDatasetDeleteCommand())

	return cmd
}

func newDatasetImportCommand() *cobra.Command {
	var (
		name        string
		schemaName  string
		schemaFiles []string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Check a dataset file against a schema and store it",
		Example: `  # Import against a stored schema; the dataset is bound to it
  catalog dataset import films.yaml --schema films

  # Import against schema files
  catalog dataset import films.star --schema-file ./schemas --name classics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ic := telemetry.StartOperation(ctx, "dataset.import")
			record, err := importDataset(ic.Ctx, args[0], name, schemaName, schemaFiles)
			ic.End(err)
			if err != nil {
				return err
			}

			log.Info().Str("dataset", record.Name).Int("facts", record.FactCount).Msg("Dataset imported")
			if jsonOutput {
				return printJSON(cmd, record)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported dataset %s: %d fact(s)\n", record.Name, record.FactCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "dataset name (default: name in the file, then the file name)")
	cmd.Flags().StringVar(&schemaName, "schema", "", "stored schema to check and bind the dataset to")
	cmd.Flags().StringSliceVar(&schemaFiles, "schema-file", nil, "schema files to check the dataset against")
	cmd.MarkFlagsMutuallyExclusive("schema", "schema-file")

	return cmd
}

func importDataset(ctx context.Context, path, name, schemaName string, schemaFiles []string) (*stores.DatasetRecord, error) {
	cfg := configFrom(ctx)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	loader := newSchemaLoader(ctx)

	var s *schema.Schema
	switch {
	case schemaName != "":
		record, err := store.GetSchema(ctx, schemaName)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", schemaName, err)
		}
		if s, err = record.Schema(); err != nil {
			return nil, err
		}
	case len(schemaFiles) > 0:
		if s, err = loader.Load(ctx, schemaFiles); err != nil {
			return nil, err
		}
	case len(cfg.Schemas) > 0:
		if s, err = loader.Load(ctx, cfg.Schemas); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no schema: pass --schema or --schema-file")
	}

	dataset, err := loader.LoadDataset(ctx, path)
	if err != nil {
		return nil, err
	}
	instances, err := dataset.Instances(s)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}

	if name == "" {
		name = dataset.Name
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	record, err := stores.NewDatasetRecord(name, dataset.Description, instances)
	if err != nil {
		return nil, err
	}
	if schemaName != "" {
		record.SchemaName = &schemaName
	}

	if err := store.SaveDataset(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func newDatasetListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListDatasets(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No datasets stored")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCHEMA\tFACTS\tUPDATED")
			for _, r := range records {
				bound := "-"
				if r.SchemaName != nil {
					bound = *r.SchemaName
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, bound, r.FactCount, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of datasets")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of datasets to skip")

	return cmd
}

func newDatasetShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the facts of a stored dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.GetDataset(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, record)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataset: %s\n", record.Name)
			if record.Description != "" {
				fmt.Fprintf(out, "         %s\n", record.Description)
			}
			if record.SchemaName != nil {
				fmt.Fprintf(out, "Schema:  %s\n", *record.SchemaName)
			}
			fmt.Fprintf(out, "Facts:   %d\n\n", record.FactCount)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tTYPE\tSOURCE\tVALUE")
			for _, f := range record.Facts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.Position, f.TypeName, f.SourceKind, truncate(f.Value, 60))
			}
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newDatasetDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored dataset and its facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteDataset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted dataset %s\n", args[0])
			return nil
		},
	}
}
