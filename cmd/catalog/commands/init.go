package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/config"
)

const defaultConfigTemplate = `# Catalog configuration

# Schema files or directories (CUE, YAML or JSON)
schemas:
  - %s

# Dataset files loaded as root facts by every search
datasets: []

policies:
  # .rego or .json policy files or directories
  paths: []
  # Built-in policies applied to every search
  builtins:
    - exclude_failed_sources
  watch: true

store:
  path: %s

search:
  strategy: any-depth-expect-one
  timeout: 30s

telemetry:
  service_name: catalog
  logging:
    level: info
    format: console
    output: stderr
`

const exampleSchema = `# Example schema. Every document lists named types.
types:
  - name: Title
    inherits: [String]
  - name: ImdbScore
    inherits: [Decimal]
  - name: Genre
    kind: enum
    enum:
      - name: DRAMA
      - name: COMEDY
  - name: Film
    fields:
      - name: title
        type: Title
      - name: imdbScore
        type: ImdbScore
      - name: genre
        type: Genre
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a catalog workspace",
		Long: `Initialize a catalog workspace with a configuration file, an example
schema and an empty store.

Existing files are kept unless --force is given.`,
		Example: `  # Initialize the current directory
  catalog init

  # Initialize another directory
  catalog init ./films`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing workspace")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initializing catalog workspace in %s\n\n", dir)

			schemaDir := filepath.Join(dir, "schemas")
			if err := os.MkdirAll(schemaDir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", schemaDir, err)
			}
			fmt.Fprintf(out, "✓ Created directory: %s\n", schemaDir)

			schemaPath := filepath.Join(schemaDir, "example.yaml")
			if written, err := writeFile(schemaPath, exampleSchema, force); err != nil {
				return err
			} else if written {
				fmt.Fprintf(out, "✓ Created example schema: %s\n", schemaPath)
			} else {
				fmt.Fprintf(out, "✓ Schema already exists: %s\n", schemaPath)
			}

			cfgPath := configPath
			if cfgPath == "" {
				cfgPath = filepath.Join(dir, config.DefaultConfigFile)
			}
			storePath := filepath.Join(".catalog", "catalog.db")
			content := fmt.Sprintf(defaultConfigTemplate, "schemas", storePath)
			if written, err := writeFile(cfgPath, content, force); err != nil {
				return err
			} else if written {
				fmt.Fprintf(out, "✓ Created config file: %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "✓ Config file already exists: %s\n", cfgPath)
			}

			cfg, err := config.LoadCatalogConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized SQLite store: %s\n", cfg.Store.Path)

			fmt.Fprintf(out, "\n✅ Workspace initialized successfully!\n\n")
			fmt.Fprintf(out, "Next steps:\n")
			fmt.Fprintf(out, "  1. Validate the schemas:\n")
			fmt.Fprintf(out, "     catalog validate\n\n")
			fmt.Fprintf(out, "  2. Search a fact file:\n")
			fmt.Fprintf(out, "     catalog search --fact Film=jaws.yaml --type Title\n\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeFile writes content to path unless the file exists and force is unset.
func writeFile(path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
