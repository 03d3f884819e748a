package schema

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a schema, as found in CUE, YAML or JSON files.
type Document struct {
	Types []TypeDefinition `yaml:"types" json:"types" validate:"required,min=1,dive"`
}

// TypeDefinition declares one named type.
type TypeDefinition struct {
	Name        string                `yaml:"name" json:"name" validate:"required,excludesall=[]"`
	Kind        string                `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=scalar object enum"`
	Description string                `yaml:"description,omitempty" json:"description,omitempty"`
	Inherits    []string              `yaml:"inherits,omitempty" json:"inherits,omitempty" validate:"dive,required"`
	Fields      []FieldDefinition     `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive"`
	Enum        []EnumValueDefinition `yaml:"enum,omitempty" json:"enum,omitempty" validate:"dive"`
	Closed      bool                  `yaml:"closed,omitempty" json:"closed,omitempty"`
}

// FieldDefinition declares one attribute of an object type. Type may carry
// one or more "[]" suffixes.
type FieldDefinition struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	Type string `yaml:"type" json:"type" validate:"required"`
}

// EnumValueDefinition declares one enum member. Synonyms are qualified
// references of the form "OtherEnum.VALUE".
type EnumValueDefinition struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
	Synonyms []string `yaml:"synonyms,omitempty" json:"synonyms,omitempty" validate:"dive,required,contains=."`
}

// ParseDocument decodes a YAML or JSON schema document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode schema document: %w", err)
	}
	return doc, nil
}

// Build resolves one or more documents into a schema. Types may reference
// each other across documents and in any order.
func Build(docs ...Document) (*Schema, error) {
	s := &Schema{types: make(map[string]*Type)}
	for _, p := range Primitives() {
		s.types[p.Name] = p
	}

	var defs []TypeDefinition
	for _, doc := range docs {
		defs = append(defs, doc.Types...)
	}

	// First pass: allocate every named type so references resolve regardless of order.
	for _, def := range defs {
		if _, exists := s.types[def.Name]; exists {
			return nil, fmt.Errorf("type %q is defined more than once", def.Name)
		}
		kind, err := kindOf(def)
		if err != nil {
			return nil, err
		}
		s.types[def.Name] = &Type{
			Name:        def.Name,
			Kind:        kind,
			Description: def.Description,
			Closed:      def.Closed,
		}
		s.order = append(s.order, def.Name)
	}

	// Second pass: wire inheritance, fields and enum values.
	var errs []error
	for _, def := range defs {
		t := s.types[def.Name]
		for _, parent := range def.Inherits {
			pt, err := s.Type(parent)
			if err != nil {
				errs = append(errs, fmt.Errorf("type %s inherits unknown type: %w", def.Name, err))
				continue
			}
			t.Inherits = append(t.Inherits, pt)
		}
		for _, f := range def.Fields {
			ft, err := s.Type(f.Type)
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s.%s: %w", def.Name, f.Name, err))
				continue
			}
			if _, dup := t.Field(f.Name); dup {
				errs = append(errs, fmt.Errorf("field %s.%s is declared more than once", def.Name, f.Name))
				continue
			}
			t.Fields = append(t.Fields, Field{Name: f.Name, Type: ft})
		}
		for _, ev := range def.Enum {
			value := ev.Value
			if value == nil {
				value = ev.Name
			}
			t.EnumValues = append(t.EnumValues, &EnumValue{Name: ev.Name, Value: value})
		}
		t.indexFields()
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, name := range s.order {
		if t := s.types[name]; t.InheritsFrom(t) {
			errs = append(errs, fmt.Errorf("type %s inherits from itself", t.Name))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// A type that only declares object supertypes is itself an object.
	for changed := true; changed; {
		changed = false
		for _, def := range defs {
			t := s.types[def.Name]
			if def.Kind != "" || !t.IsScalar() || len(def.Enum) > 0 {
				continue
			}
			for _, parent := range t.Inherits {
				if parent.IsObject() {
					t.Kind = KindObject
					changed = true
					break
				}
			}
		}
	}

	inherited := make(map[*Type]struct{})
	for _, name := range s.order {
		inheritFields(s.types[name], inherited)
	}
	if err := s.resolveSynonyms(defs); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(docs ...Document) *Schema {
	s, err := Build(docs...)
	if err != nil {
		panic(err)
	}
	return s
}

// resolveSynonyms links enum values bidirectionally.
func (s *Schema) resolveSynonyms(defs []TypeDefinition) error {
	var errs []error
	for _, def := range defs {
		t := s.types[def.Name]
		for _, ev := range def.Enum {
			value, _ := t.EnumValue(ev.Name)
			for _, ref := range ev.Synonyms {
				typeName, valueName, ok := splitEnumRef(ref)
				if !ok {
					errs = append(errs, fmt.Errorf("enum %s.%s: malformed synonym %q", def.Name, ev.Name, ref))
					continue
				}
				other, err := s.Type(typeName)
				if err != nil || !other.IsEnum() {
					errs = append(errs, fmt.Errorf("enum %s.%s: synonym %q does not name an enum", def.Name, ev.Name, ref))
					continue
				}
				otherValue, found := other.EnumValue(valueName)
				if !found {
					errs = append(errs, fmt.Errorf("enum %s.%s: synonym %q does not name a value", def.Name, ev.Name, ref))
					continue
				}
				linkSynonym(value, EnumRef{Type: other, Name: otherValue.Name})
				linkSynonym(otherValue, EnumRef{Type: t, Name: value.Name})
			}
		}
	}
	return errors.Join(errs...)
}

// inheritFields prepends the fields of object supertypes that t does not redeclare.
func inheritFields(t *Type, done map[*Type]struct{}) {
	if _, ok := done[t]; ok {
		return
	}
	done[t] = struct{}{}
	if !t.IsObject() {
		return
	}
	var fields []Field
	seen := make(map[string]struct{})
	for _, parent := range t.Inherits {
		inheritFields(parent, done)
		for _, f := range parent.Fields {
			if _, own := t.Field(f.Name); own {
				continue
			}
			if _, dup := seen[f.Name]; dup {
				continue
			}
			seen[f.Name] = struct{}{}
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return
	}
	t.Fields = append(fields, t.Fields...)
	t.indexFields()
}

func linkSynonym(v *EnumValue, ref EnumRef) {
	for _, existing := range v.synonyms {
		if existing == ref {
			return
		}
	}
	v.synonyms = append(v.synonyms, ref)
}

func splitEnumRef(ref string) (string, string, bool) {
	idx := strings.LastIndex(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

func kindOf(def TypeDefinition) (Kind, error) {
	switch def.Kind {
	case "object":
		return KindObject, nil
	case "enum":
		return KindEnum, nil
	case "scalar":
		if len(def.Fields) > 0 || len(def.Enum) > 0 {
			return 0, fmt.Errorf("scalar type %s cannot declare fields or enum values", def.Name)
		}
		return KindScalar, nil
	case "":
	default:
		return 0, fmt.Errorf("type %s has unknown kind %q", def.Name, def.Kind)
	}
	switch {
	case len(def.Fields) > 0 && len(def.Enum) > 0:
		return 0, fmt.Errorf("type %s cannot declare both fields and enum values", def.Name)
	case len(def.Fields) > 0:
		return KindObject, nil
	case len(def.Enum) > 0:
		return KindEnum, nil
	default:
		return KindScalar, nil
	}
}
