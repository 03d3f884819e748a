package config

import (
	"time"

	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// CatalogConfig is the catalog configuration file, usually catalog.yaml.
type CatalogConfig struct {
	// Schemas lists schema files or directories (CUE, YAML or JSON).
	Schemas []string `yaml:"schemas" validate:"required,min=1,dive,required"`

	// Datasets lists dataset files loaded as root facts.
	Datasets []string `yaml:"datasets,omitempty" validate:"dive,required"`

	// Policies configures validity policies.
	Policies PolicyConfig `yaml:"policies"`

	// Store configures the catalog store.
	Store StoreConfig `yaml:"store"`

	// Search holds defaults for the search command.
	Search SearchConfig `yaml:"search"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// PolicyConfig configures validity policies.
type PolicyConfig struct {
	// Paths lists .rego or .json policy files or directories.
	Paths []string `yaml:"paths,omitempty" validate:"dive,required"`

	// Builtins lists the built-in policies to enable.
	Builtins []string `yaml:"builtins,omitempty" validate:"dive,oneof=exclude_failed_sources non_null_values provided_only"`

	// Watch reloads policies when their files change during search --watch.
	Watch bool `yaml:"watch"`
}

// StoreConfig configures the SQLite catalog store.
type StoreConfig struct {
	// Path is the database file path.
	Path string `yaml:"path" validate:"required"`
}

// SearchConfig holds defaults for searches.
type SearchConfig struct {
	// Strategy is the default discovery strategy, e.g. "any-depth-expect-one".
	Strategy string `yaml:"strategy" validate:"omitempty,oneof=top-level-only any-depth-expect-one any-depth-expect-one-distinct any-depth-allow-many"`

	// Where is a default Starlark validity expression.
	Where string `yaml:"where,omitempty"`

	// Timeout bounds one search command.
	Timeout time.Duration `yaml:"timeout"`
}

// ParsedSchema is the result of parsing schema sources.
type ParsedSchema struct {
	// Documents are the decoded documents, one per source file.
	Documents []schema.Document `json:"documents"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the sources were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// TypeCount returns the number of type definitions across all documents.
func (p *ParsedSchema) TypeCount() int {
	n := 0
	for _, doc := range p.Documents {
		n += len(doc.Types)
	}
	return n
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g., "types[2].fields[0].type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
