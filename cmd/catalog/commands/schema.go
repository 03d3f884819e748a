package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage stored schemas",
		Long: `Import, inspect and remove schemas kept in the catalog store.

A stored schema can be used by search --schema-name and is bound to the
datasets imported against it.`,
	}

	cmd.AddCommand(newSchemaImportCommand())
	cmd.AddCommand(newSchemaListCommand())
	cmd.AddCommand(newSchemaShowCommand())
	cmd.AddCommand(newSchemaExportCommand())
	cmd.AddCommand(newSchemaDeleteCommand())

	return cmd
}

func newSchemaImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <name> <paths...>",
		Short: "Validate schema files and store them under a name",
		Example: `  # Store a directory of CUE schemas
  catalog schema import films ./schemas

  # Replace a stored schema with a single YAML file
  catalog schema import films films.yaml`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ic := telemetry.StartOperation(ctx, "schema.import")
			ctx = ic.Ctx

			name, sources := args[0], args[1:]
			parsed, err := newSchemaLoader(ctx).Parse(ctx, sources)
			if err != nil {
				ic.End(err)
				return err
			}
			if len(parsed.Errors) > 0 {
				printValidationErrors(cmd, parsed.Errors)
				err := fmt.Errorf("schema %s has %d validation error(s)", name, len(parsed.Errors))
				ic.End(err)
				return err
			}
			if _, err := config.BuildSchema(parsed); err != nil {
				ic.End(err)
				return err
			}

			record, err := stores.NewSchemaRecord(name, formatOfFiles(parsed.SourceFiles), parsed.Documents...)
			if err != nil {
				ic.End(err)
				return err
			}

			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				ic.End(err)
				return err
			}
			defer store.Close()

			err = store.SaveSchema(ctx, record)
			ic.End(err)
			if err != nil {
				return err
			}

			logger := telemetry.FromContext(ctx).WithSchema(name, record.Hash).Zerolog()
			logger.Info().Int("types", record.TypeCount).Msg("Schema imported")
			if jsonOutput {
				return printJSON(cmd, record)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported schema %s: %d type(s) from %d file(s)\n", name, record.TypeCount, len(parsed.SourceFiles))
			return nil
		},
	}
}

// formatOfFiles names the shared format of files, or "mixed".
func formatOfFiles(files []string) string {
	format := ""
	for _, f := range files {
		ff, ok := config.FormatOf(f)
		if !ok {
			continue
		}
		switch {
		case format == "":
			format = string(ff)
		case format != string(ff):
			return "mixed"
		}
	}
	return format
}

func newSchemaListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListSchemas(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schemas stored")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFORMAT\tTYPES\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, r.Format, r.TypeCount, r.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newSchemaShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the types of a stored schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.GetSchema(ctx, args[0])
			if err != nil {
				return err
			}
			s, err := record.Schema()
			if err != nil {
				return err
			}
			telemetry.FromContext(ctx).WithSchema(record.Name, record.Hash).Debug("Schema read from store")

			if jsonOutput {
				docs, err := record.Decode()
				if err != nil {
					return err
				}
				return printJSON(cmd, docs)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Schema:  %s\nFormat:  %s\nHash:    %s\nUpdated: %s\n\n",
				record.Name, record.Format, record.Hash[:12], record.UpdatedAt.Format("2006-01-02 15:04:05"))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tKIND\tFIELDS\tDESCRIPTION")
			for _, t := range s.Types() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Name, t.Kind, len(t.Fields), t.Description)
			}
			return w.Flush()
		},
	}
}

func newSchemaExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <name>",
		Short: "Print a stored schema as JSON documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.GetSchema(ctx, args[0])
			if err != nil {
				return err
			}
			docs, err := record.Decode()
			if err != nil {
				return err
			}
			data, err := newSchemaLoader(ctx).ExportJSON(docs...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func newSchemaDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored schema",
		Long:  `Delete a stored schema. Datasets bound to it are kept and become unbound.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, configFrom(ctx))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteSchema(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted schema %s\n", args[0])
			return nil
		},
	}
}
