package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// Dataset is a file of root facts, typed against a schema.
type Dataset struct {
	Name        string        `yaml:"name,omitempty" json:"name,omitempty"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Facts       []DatasetFact `yaml:"facts" json:"facts" validate:"dive"`
}

// DatasetFact is one fact: a type name and its raw value. Source names the
// provenance kind and defaults to "provided".
type DatasetFact struct {
	Type   string `yaml:"type" json:"type" validate:"required"`
	Value  any    `yaml:"value" json:"value"`
	Source string `yaml:"source,omitempty" json:"source,omitempty" validate:"omitempty,oneof=provided defined failed"`
}

// Instances converts the dataset's facts into typed instances.
func (d *Dataset) Instances(s *schema.Schema) ([]models.TypedInstance, error) {
	instances := make([]models.TypedInstance, 0, len(d.Facts))
	for i, f := range d.Facts {
		t, err := s.Type(f.Type)
		if err != nil {
			return nil, fmt.Errorf("fact %d: %w", i, err)
		}
		instance, err := models.FromValue(t, f.Value, sourceOf(f.Source))
		if err != nil {
			return nil, fmt.Errorf("fact %d (%s): %w", i, f.Type, err)
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func sourceOf(kind string) models.DataSource {
	switch kind {
	case string(models.SourceDefined):
		return models.Defined
	case string(models.SourceFailed):
		return models.NewFailedSource("dataset")
	default:
		return models.Provided
	}
}

// LoadDataset reads a dataset from a YAML, JSON, CUE or Starlark file.
// Starlark datasets must assign a global named facts.
func (l *SchemaLoader) LoadDataset(ctx context.Context, path string) (*Dataset, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	var ds Dataset
	switch filepath.Ext(path) {
	case ".cue":
		l.mu.Lock()
		val := l.ctx.CompileBytes(content, cue.Filename(path))
		err = val.Err()
		if err == nil {
			err = val.Decode(&ds)
		}
		l.mu.Unlock()
	case ".star":
		var result *StarlarkResult
		result, err = l.starlark.Evaluate(ctx, string(content), nil)
		if err == nil {
			var data []byte
			data, err = yaml.Marshal(result.Output)
			if err == nil {
				err = yaml.Unmarshal(data, &ds)
			}
		}
	default:
		err = yaml.Unmarshal(content, &ds)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode dataset %s: %w", path, err)
	}

	if ds.Name == "" {
		ds.Name = trimExt(filepath.Base(path))
	}
	if err := l.validator.Struct(ds); err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", path, err)
	}
	if err := l.registry.ValidateAgainstSchema(ctx, "Dataset", ds); err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", path, err)
	}
	return &ds, nil
}

// LoadFactFile reads one raw value from a YAML or JSON file and types it.
func LoadFactFile(s *schema.Schema, typeName, path string) (models.TypedInstance, error) {
	t, err := s.Type(typeName)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fact file %s: %w", path, err)
	}
	var raw any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode fact file %s: %w", path, err)
	}
	return models.FromValue(t, raw, models.Provided)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
