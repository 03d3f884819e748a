package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

type configContextKey struct{}

func withConfig(ctx context.Context, cfg *config.CatalogConfig) context.Context {
	return context.WithValue(ctx, configContextKey{}, cfg)
}

// configFrom returns the configuration loaded by the root command, or the
// defaults when none was loaded.
func configFrom(ctx context.Context) *config.CatalogConfig {
	if cfg, ok := ctx.Value(configContextKey{}).(*config.CatalogConfig); ok {
		return cfg
	}
	return config.DefaultCatalogConfig()
}

// loadConfig reads --config, or catalog.yaml when present. A missing default
// file yields the defaults; a missing explicit file is an error unless
// allowMissing is set.
func loadConfig(allowMissing bool) (*config.CatalogConfig, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigFile
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit && !allowMissing {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		log.Debug().Str("path", path).Msg("No config file, using defaults")
		return config.DefaultCatalogConfig(), nil
	}

	cfg, err := config.LoadCatalogConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	log.Debug().Str("path", path).Msg("Loaded config")
	return cfg, nil
}

// openStore opens and migrates the configured store. The caller closes it.
func openStore(ctx context.Context, cfg *config.CatalogConfig) (*stores.SQLiteStore, error) {
	if cfg.Store.Path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path, Actor: actor()})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func actor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "catalog"
}

// newSchemaLoader returns a loader that logs and publishes events through
// the command's telemetry.
func newSchemaLoader(ctx context.Context) *config.SchemaLoader {
	loader := config.NewSchemaLoader(telemetry.FromContext(ctx).NewComponentLogger("schema-loader").Zerolog())
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		loader.SetEventPublisher(tel.Events)
	}
	return loader
}

// splitAssignment splits "Type=path" flag values.
func splitAssignment(flag, value string) (string, string, error) {
	name, path, ok := strings.Cut(value, "=")
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("--%s expects Type=path, got %q", flag, value)
	}
	return name, path, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printValidationErrors(cmd *cobra.Command, errs []config.ValidationError) {
	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", e.Severity, e.String())
	}
}
