package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/catalog/pkg/telemetry"
)

// DefaultConfigFile is the configuration file looked up in the working directory.
const DefaultConfigFile = "catalog.yaml"

// DefaultCatalogConfig returns the configuration used when no file exists.
func DefaultCatalogConfig() *CatalogConfig {
	return &CatalogConfig{
		Store: StoreConfig{
			Path: filepath.Join(".catalog", "catalog.db"),
		},
		Policies: PolicyConfig{
			Watch: true,
		},
		Search: SearchConfig{
			Strategy: "any-depth-expect-one",
			Timeout:  30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadCatalogConfig reads a configuration file. Relative paths in the file
// are resolved against the file's directory.
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultCatalogConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Schemas = resolvePaths(base, cfg.Schemas)
	cfg.Datasets = resolvePaths(base, cfg.Datasets)
	cfg.Policies.Paths = resolvePaths(base, cfg.Policies.Paths)
	if cfg.Store.Path != "" && cfg.Store.Path != ":memory:" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(base, cfg.Store.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry section.
func (c *CatalogConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

func resolvePaths(base string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
		} else {
			out[i] = filepath.Join(base, p)
		}
	}
	return out
}
