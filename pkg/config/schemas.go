package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE definitions used to validate catalog documents.
// Definitions are looked up by name without the leading '#'.
type SchemaRegistry struct {
	ctx         *cue.Context
	sources     map[string]cue.Value
	definitions map[string]cue.Value
	mu          sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in definitions.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:         cuecontext.New(),
		sources:     make(map[string]cue.Value),
		definitions: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("catalog", builtinCatalogSchema); err != nil {
		panic(fmt.Sprintf("built-in catalog schema does not compile: %v", err))
	}

	return sr
}

// RegisterSchema compiles a CUE source and registers every definition it declares.
func (sr *SchemaRegistry) RegisterSchema(name, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list definitions of %s: %w", name, err)
	}
	for iter.Next() {
		sel := iter.Selector()
		if !sel.IsDefinition() {
			continue
		}
		sr.definitions[strings.TrimPrefix(sel.String(), "#")] = iter.Value()
	}

	sr.sources[name] = val
	return nil
}

// GetSchema retrieves a definition by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.definitions[strings.TrimPrefix(name, "#")]
	return val, ok
}

// ValidateAgainstSchema validates data against a named definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.definitions[strings.TrimPrefix(schemaName, "#")]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered definition names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.definitions))
	for name := range sr.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in definitions

const builtinCatalogSchema = `
// SchemaDocument is one schema file: a list of type definitions.
#SchemaDocument: {
	types: [#TypeDefinition, ...#TypeDefinition]
}

// TypeDefinition declares one named type.
#TypeDefinition: {
	name:         #TypeName
	kind?:        "scalar" | "object" | "enum"
	description?: string
	inherits?: [...#TypeName]
	fields?: [...#FieldDefinition]
	enum?: [...#EnumValueDefinition]
	closed?: bool
}

#TypeName: string & =~"^[A-Za-z_][A-Za-z0-9_.]*$"

// FieldDefinition declares one attribute; the type may carry "[]" suffixes.
#FieldDefinition: {
	name: string & !=""
	type: string & =~"^[A-Za-z_][A-Za-z0-9_.]*(\\[\\])*$"
}

// EnumValueDefinition declares one enum member and its synonyms.
#EnumValueDefinition: {
	name:   string & !=""
	value?: _
	synonyms?: [...string & =~"^[A-Za-z_][A-Za-z0-9_.]*\\.[^.]+$"]
}

// Dataset is a file of root facts.
#Dataset: {
	name?:        string
	description?: string
	facts: [...#DatasetFact]
}

#DatasetFact: {
	type:    #TypeName | =~"^[A-Za-z_][A-Za-z0-9_.]*(\\[\\])+$"
	value:   _
	source?: string
}
`
