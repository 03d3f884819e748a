package schema

import (
	"strings"
	"sync"
)

// Kind is the structural shape of a type.
type Kind int

const (
	// KindAny is the universal type. Every type is assignable to it.
	KindAny Kind = iota

	// KindScalar is a single value (string, number, boolean, date).
	KindScalar

	// KindObject is a type with named fields.
	KindObject

	// KindEnum is a closed set of named values, optionally with synonyms in other enums.
	KindEnum

	// KindCollection is an ordered list of an element type.
	KindCollection
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindEnum:
		return "enum"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Field is a named attribute of an object type.
type Field struct {
	Name string
	Type *Type
}

// EnumRef points at a single value of an enum type.
type EnumRef struct {
	Type *Type
	Name string
}

// String returns the qualified reference, e.g. "CountryCode.NZ".
func (r EnumRef) String() string {
	return r.Type.Name + "." + r.Name
}

// EnumValue is a member of an enum type.
type EnumValue struct {
	Name  string
	Value any

	synonyms []EnumRef
}

// Synonyms returns the equivalent values in other enum types.
func (v *EnumValue) Synonyms() []EnumRef {
	return v.synonyms
}

// Type is a semantic type. Types are compared by identity: a schema hands out
// exactly one *Type per name, and CollectionType is memoized per element.
type Type struct {
	Name        string
	Kind        Kind
	Description string

	// Inherits lists the direct supertypes.
	Inherits []*Type

	// Fields is the ordered attribute list of object types.
	Fields []Field

	// Element is the member type of collection types.
	Element *Type

	// EnumValues is the ordered member list of enum types.
	EnumValues []*EnumValue

	// Closed types are opaque: their instances are never expanded during traversal.
	Closed bool

	fieldIndex map[string]int

	collectionOnce sync.Once
	collection     *Type
}

// IsAny reports whether t is the universal type.
func (t *Type) IsAny() bool { return t != nil && t.Kind == KindAny }

// IsCollection reports whether t is a collection type.
func (t *Type) IsCollection() bool { return t != nil && t.Kind == KindCollection }

// IsEnum reports whether t is an enum type.
func (t *Type) IsEnum() bool { return t != nil && t.Kind == KindEnum }

// IsObject reports whether t is an object type.
func (t *Type) IsObject() bool { return t != nil && t.Kind == KindObject }

// IsScalar reports whether t is a scalar type.
func (t *Type) IsScalar() bool { return t != nil && t.Kind == KindScalar }

// ElementType returns the member type of a collection, or nil.
func (t *Type) ElementType() *Type {
	if !t.IsCollection() {
		return nil
	}
	return t.Element
}

// CollectionType returns the collection type whose members are t.
func (t *Type) CollectionType() *Type {
	t.collectionOnce.Do(func() {
		t.collection = &Type{
			Name:    t.Name + "[]",
			Kind:    KindCollection,
			Element: t,
		}
	})
	return t.collection
}

// Field returns the declared type of the named field.
func (t *Type) Field(name string) (*Type, bool) {
	if t.fieldIndex == nil {
		for _, f := range t.Fields {
			if f.Name == name {
				return f.Type, true
			}
		}
		return nil, false
	}
	idx, ok := t.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return t.Fields[idx].Type, true
}

// EnumValue looks up an enum member by name, falling back to its value.
func (t *Type) EnumValue(nameOrValue any) (*EnumValue, bool) {
	for _, v := range t.EnumValues {
		if s, ok := nameOrValue.(string); ok && v.Name == s {
			return v, true
		}
	}
	for _, v := range t.EnumValues {
		if v.Value == nameOrValue {
			return v, true
		}
	}
	return nil, false
}

// InheritsFrom reports whether other is a (transitive) supertype of t.
func (t *Type) InheritsFrom(other *Type) bool {
	if t == nil || other == nil {
		return false
	}
	seen := make(map[*Type]struct{})
	queue := append([]*Type(nil), t.Inherits...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == other {
			return true
		}
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		queue = append(queue, next.Inherits...)
	}
	return false
}

// IsAssignableTo reports whether a value of type t can be used where target is required.
func (t *Type) IsAssignableTo(target *Type) bool {
	switch {
	case t == nil || target == nil:
		return false
	case t == target:
		return true
	case target.IsAny():
		return true
	case t.IsCollection() && target.IsCollection():
		return t.Element.IsAssignableTo(target.Element)
	default:
		return t.InheritsFrom(target)
	}
}

// String returns the type name.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

func (t *Type) indexFields() {
	t.fieldIndex = make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		t.fieldIndex[f.Name] = i
	}
}

// AttributePath is a dotted route of field names beneath an object type.
type AttributePath []string

// String returns the dotted form of the path.
func (p AttributePath) String() string {
	return strings.Join(p, ".")
}

// Head returns the first field name of the path.
func (p AttributePath) Head() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Built-in primitive types, shared by every schema.
var (
	Any     = &Type{Name: "Any", Kind: KindAny}
	String  = &Type{Name: "String", Kind: KindScalar}
	Int     = &Type{Name: "Int", Kind: KindScalar}
	Decimal = &Type{Name: "Decimal", Kind: KindScalar}
	Boolean = &Type{Name: "Boolean", Kind: KindScalar}
	Date    = &Type{Name: "Date", Kind: KindScalar}
)

// Primitives returns the built-in primitive types.
func Primitives() []*Type {
	return []*Type{Any, String, Int, Decimal, Boolean, Date}
}
