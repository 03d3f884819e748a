package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// Format is a schema source format.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf returns the format of a source file from its extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// SchemaLoader parses schema documents and datasets. CUE sources are
// evaluated before decoding, so they may use references and defaults.
// Every document is validated against the #SchemaDocument definition.
type SchemaLoader struct {
	ctx       *cue.Context
	mu        sync.Mutex
	registry  *SchemaRegistry
	validator *validator.Validate
	starlark  *StarlarkEvaluator
	events    *telemetry.EventPublisher
	logger    zerolog.Logger
}

// NewSchemaLoader creates a new loader. Callers tag logger with their
// component, see telemetry.Logger.NewComponentLogger.
func NewSchemaLoader(logger zerolog.Logger) *SchemaLoader {
	return &SchemaLoader{
		ctx:       cuecontext.New(),
		registry:  NewSchemaRegistry(),
		validator: validator.New(),
		starlark:  NewStarlarkEvaluator(10 * time.Second),
		logger:    logger,
	}
}

// SetEventPublisher publishes a schema.loaded event for every schema Load builds.
func (l *SchemaLoader) SetEventPublisher(events *telemetry.EventPublisher) {
	l.events = events
}

// Parse parses schema documents from files and directories. Problems with
// individual sources are reported in ParsedSchema.Errors; an error is only
// returned when a source cannot be accessed at all.
func (l *SchemaLoader) Parse(ctx context.Context, sources []string) (*ParsedSchema, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	parsed := &ParsedSchema{ParsedAt: time.Now()}

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			l.parseDirectory(ctx, source, parsed)
			continue
		}

		doc, errs := l.parseFile(ctx, source)
		parsed.SourceFiles = append(parsed.SourceFiles, source)
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		parsed.Documents = append(parsed.Documents, doc)
	}

	l.logger.Debug().
		Int("files", len(parsed.SourceFiles)).
		Int("types", parsed.TypeCount()).
		Int("errors", len(parsed.Errors)).
		Msg("Parsed schema sources")

	return parsed, nil
}

// Load parses the sources and builds a schema from them.
func (l *SchemaLoader) Load(ctx context.Context, sources []string) (*schema.Schema, error) {
	parsed, err := l.Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	s, err := BuildSchema(parsed)
	if err != nil {
		return nil, err
	}
	if err := l.events.PublishSchemaLoaded(strings.Join(sources, ","), parsed.TypeCount()); err != nil {
		l.logger.Debug().Err(err).Msg("Schema loaded event dropped")
	}
	return s, nil
}

// BuildSchema resolves the parsed documents into one schema.
func BuildSchema(parsed *ParsedSchema) (*schema.Schema, error) {
	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return nil, fmt.Errorf("schema has %d validation error(s), first: %s", len(parsed.Errors), first.String())
	}
	return schema.Build(parsed.Documents...)
}

// parseDirectory parses every supported file in dir. A directory holding a
// CUE package is evaluated as one instance.
func (l *SchemaLoader) parseDirectory(ctx context.Context, dir string, parsed *ParsedSchema) {
	files, err := l.LoadFromDirectory(dir)
	if err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{File: dir, Message: err.Error(), Severity: "error"})
		return
	}

	var hasCUE bool
	for _, file := range files {
		if format, _ := FormatOf(file); format == FormatCUE {
			hasCUE = true
			continue
		}
		doc, errs := l.parseFile(ctx, file)
		parsed.SourceFiles = append(parsed.SourceFiles, file)
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		parsed.Documents = append(parsed.Documents, doc)
	}

	if !hasCUE {
		return
	}
	doc, cueFiles, errs := l.loadPackage(ctx, dir)
	parsed.SourceFiles = append(parsed.SourceFiles, cueFiles...)
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}
	parsed.Documents = append(parsed.Documents, doc)
}

// loadPackage loads a directory as a CUE package.
func (l *SchemaLoader) loadPackage(ctx context.Context, dir string) (schema.Document, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return schema.Document{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return schema.Document{}, nil, convertCUEErrors(inst.Err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	l.mu.Lock()
	val := l.ctx.BuildInstance(inst)
	doc, errs := l.decode(val, dir)
	l.mu.Unlock()
	if len(errs) > 0 {
		return schema.Document{}, files, errs
	}
	return doc, files, l.validate(ctx, doc, dir)
}

func (l *SchemaLoader) parseFile(ctx context.Context, path string) (schema.Document, []ValidationError) {
	format, ok := FormatOf(path)
	if !ok {
		return schema.Document{}, []ValidationError{{
			File:     path,
			Message:  "unsupported schema file extension",
			Severity: "error",
		}}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return schema.Document{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	return l.parseContent(ctx, content, format, path)
}

// ParseInline parses schema content that did not come from a file.
func (l *SchemaLoader) ParseInline(ctx context.Context, content string, format Format) (*ParsedSchema, error) {
	parsed := &ParsedSchema{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}
	doc, errs := l.parseContent(ctx, []byte(content), format, "inline")
	if len(errs) > 0 {
		parsed.Errors = errs
		return parsed, nil
	}
	parsed.Documents = []schema.Document{doc}
	return parsed, nil
}

func (l *SchemaLoader) parseContent(ctx context.Context, content []byte, format Format, name string) (schema.Document, []ValidationError) {
	var (
		doc  schema.Document
		errs []ValidationError
	)

	switch format {
	case FormatCUE:
		l.mu.Lock()
		val := l.ctx.CompileBytes(content, cue.Filename(name))
		doc, errs = l.decode(val, name)
		l.mu.Unlock()
	case FormatYAML, FormatJSON:
		var err error
		doc, err = schema.ParseDocument(content)
		if err != nil {
			errs = []ValidationError{{File: name, Message: err.Error(), Severity: "error"}}
		}
	default:
		errs = []ValidationError{{File: name, Message: fmt.Sprintf("unsupported format %q", format), Severity: "error"}}
	}
	if len(errs) > 0 {
		return schema.Document{}, errs
	}

	return doc, l.validate(ctx, doc, name)
}

// decode must be called with l.mu held.
func (l *SchemaLoader) decode(val cue.Value, name string) (schema.Document, []ValidationError) {
	if err := val.Err(); err != nil {
		return schema.Document{}, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return schema.Document{}, convertCUEErrors(err)
	}
	var doc schema.Document
	if err := val.Decode(&doc); err != nil {
		return schema.Document{}, []ValidationError{{
			File:     name,
			Message:  fmt.Sprintf("failed to decode schema document: %v", err),
			Severity: "error",
		}}
	}
	return doc, nil
}

// validate checks struct tags first, then the #SchemaDocument definition.
func (l *SchemaLoader) validate(ctx context.Context, doc schema.Document, name string) []ValidationError {
	if err := l.validator.Struct(doc); err != nil {
		var out []ValidationError
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				out = append(out, ValidationError{
					File:     name,
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
					Severity: "error",
				})
			}
			return out
		}
		return []ValidationError{{File: name, Message: err.Error(), Severity: "error"}}
	}

	if err := l.registry.ValidateAgainstSchema(ctx, "SchemaDocument", doc); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			if errs[i].File == "" {
				errs[i].File = name
			}
		}
		return errs
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// ExportJSON exports parsed documents as one JSON document.
func (l *SchemaLoader) ExportJSON(docs ...schema.Document) ([]byte, error) {
	merged := schema.Document{}
	for _, doc := range docs {
		merged.Types = append(merged.Types, doc.Types...)
	}
	return json.MarshalIndent(merged, "", "  ")
}

// LoadFromDirectory lists all supported schema files below dir, sorted.
func (l *SchemaLoader) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := FormatOf(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// String formats the error as file:line:column: message.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
