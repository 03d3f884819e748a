// Package models defines the typed value instances that facts are made of.
//
// Every instance carries a semantic type from pkg/schema, its underlying value
// and its provenance. The set of shapes is closed: TypedObject,
// TypedCollection, TypedValue, TypedEnumValue and TypedNull.
package models

import (
	"fmt"

	"github.com/openfroyo/catalog/pkg/schema"
)

// TypedInstance is a value tagged with a semantic type and a provenance.
type TypedInstance interface {
	// Type returns the semantic type of the instance.
	Type() *schema.Type

	// Value returns the underlying value; nil for TypedNull.
	Value() any

	// Source returns where the value came from.
	Source() DataSource

	sealed()
}

// NamedInstance is one attribute of a TypedObject.
type NamedInstance struct {
	Name     string
	Instance TypedInstance
}

// TypedObject is an instance of an object type with ordered named attributes.
type TypedObject struct {
	typ    *schema.Type
	fields []NamedInstance
	index  map[string]int
	source DataSource
}

// NewTypedObject builds an object from ordered attributes.
func NewTypedObject(t *schema.Type, fields []NamedInstance, source DataSource) *TypedObject {
	obj := &TypedObject{
		typ:    t,
		fields: append([]NamedInstance(nil), fields...),
		index:  make(map[string]int, len(fields)),
		source: source,
	}
	for i, f := range obj.fields {
		obj.index[f.Name] = i
	}
	return obj
}

func (o *TypedObject) Type() *schema.Type { return o.typ }
func (o *TypedObject) Source() DataSource { return o.source }
func (o *TypedObject) sealed()            {}

// Value returns the attributes keyed by name.
func (o *TypedObject) Value() any {
	out := make(map[string]TypedInstance, len(o.fields))
	for _, f := range o.fields {
		out[f.Name] = f.Instance
	}
	return out
}

// Fields returns the attributes in declaration order.
func (o *TypedObject) Fields() []NamedInstance {
	return o.fields
}

// Get returns the named attribute.
func (o *TypedObject) Get(name string) (TypedInstance, bool) {
	idx, ok := o.index[name]
	if !ok {
		return nil, false
	}
	return o.fields[idx].Instance, true
}

// Has reports whether the named attribute is present.
func (o *TypedObject) Has(name string) bool {
	_, ok := o.index[name]
	return ok
}

// TypedCollection is an ordered list of instances.
type TypedCollection struct {
	typ     *schema.Type
	members []TypedInstance
	source  DataSource
}

// NewTypedCollection builds a collection of the given collection type.
// A non-collection type is promoted to its collection type.
func NewTypedCollection(t *schema.Type, members []TypedInstance, source DataSource) *TypedCollection {
	if !t.IsCollection() {
		t = t.CollectionType()
	}
	return &TypedCollection{
		typ:     t,
		members: append([]TypedInstance(nil), members...),
		source:  source,
	}
}

// CollectionOf builds a collection typed after its members: the first
// member's type when every member is assignable to it, otherwise Any[].
func CollectionOf(members []TypedInstance, source DataSource) *TypedCollection {
	elem := schema.Any
	if len(members) > 0 {
		elem = members[0].Type()
		for _, m := range members[1:] {
			if !m.Type().IsAssignableTo(elem) {
				elem = schema.Any
				break
			}
		}
	}
	return NewTypedCollection(elem.CollectionType(), members, source)
}

func (c *TypedCollection) Type() *schema.Type { return c.typ }
func (c *TypedCollection) Source() DataSource { return c.source }
func (c *TypedCollection) sealed()            {}

// Value returns the members.
func (c *TypedCollection) Value() any { return c.members }

// Members returns the members in order.
func (c *TypedCollection) Members() []TypedInstance { return c.members }

// Len returns the number of members.
func (c *TypedCollection) Len() int { return len(c.members) }

// TypedValue is a scalar instance.
type TypedValue struct {
	typ    *schema.Type
	value  any
	source DataSource
}

// NewTypedValue builds a scalar instance.
func NewTypedValue(t *schema.Type, value any, source DataSource) *TypedValue {
	return &TypedValue{typ: t, value: value, source: source}
}

func (v *TypedValue) Type() *schema.Type { return v.typ }
func (v *TypedValue) Value() any         { return v.value }
func (v *TypedValue) Source() DataSource { return v.source }
func (v *TypedValue) sealed()            {}

// TypedEnumValue is a member of an enum type.
type TypedEnumValue struct {
	typ    *schema.Type
	member *schema.EnumValue
	source DataSource
}

// NewTypedEnumValue builds an enum instance from a member name or value.
func NewTypedEnumValue(t *schema.Type, nameOrValue any, source DataSource) (*TypedEnumValue, error) {
	if !t.IsEnum() {
		return nil, fmt.Errorf("type %s is not an enum", t.Name)
	}
	member, ok := t.EnumValue(nameOrValue)
	if !ok {
		return nil, fmt.Errorf("%v is not a value of enum %s", nameOrValue, t.Name)
	}
	return &TypedEnumValue{typ: t, member: member, source: source}, nil
}

func (e *TypedEnumValue) Type() *schema.Type { return e.typ }
func (e *TypedEnumValue) Value() any         { return e.member.Value }
func (e *TypedEnumValue) Source() DataSource { return e.source }
func (e *TypedEnumValue) sealed()            {}

// Name returns the enum member name.
func (e *TypedEnumValue) Name() string { return e.member.Name }

// Synonyms returns the equivalent values of other enum types, with the same provenance.
func (e *TypedEnumValue) Synonyms() []TypedInstance {
	refs := e.member.Synonyms()
	out := make([]TypedInstance, 0, len(refs))
	for _, ref := range refs {
		member, ok := ref.Type.EnumValue(ref.Name)
		if !ok {
			continue
		}
		out = append(out, &TypedEnumValue{typ: ref.Type, member: member, source: e.source})
	}
	return out
}

// TypedNull is the absence of a value of a known type.
type TypedNull struct {
	typ    *schema.Type
	source DataSource
}

// NewTypedNull builds a null instance.
func NewTypedNull(t *schema.Type, source DataSource) *TypedNull {
	return &TypedNull{typ: t, source: source}
}

func (n *TypedNull) Type() *schema.Type { return n.typ }
func (n *TypedNull) Value() any         { return nil }
func (n *TypedNull) Source() DataSource { return n.source }
func (n *TypedNull) sealed()            {}

// IsNull reports whether the instance carries no value.
func IsNull(instance TypedInstance) bool {
	if instance == nil {
		return true
	}
	_, ok := instance.(*TypedNull)
	return ok
}

// Children returns the instances nested directly beneath instance. Closed
// types have no children; enum values expose their synonyms.
func Children(instance TypedInstance) []TypedInstance {
	if instance == nil || instance.Type().Closed {
		return nil
	}
	switch v := instance.(type) {
	case *TypedObject:
		out := make([]TypedInstance, 0, len(v.fields))
		for _, f := range v.fields {
			out = append(out, f.Instance)
		}
		return out
	case *TypedCollection:
		return v.members
	case *TypedEnumValue:
		return v.Synonyms()
	case *TypedValue, *TypedNull:
		return nil
	default:
		panic(fmt.Sprintf("models: unhandled instance shape %T", instance))
	}
}

// FieldChildren returns the named attributes of an object instance, skipping
// names it does not have. Non-object instances have no named children.
func FieldChildren(instance TypedInstance, names []string) []TypedInstance {
	obj, ok := instance.(*TypedObject)
	if !ok || obj.typ.Closed {
		return nil
	}
	out := make([]TypedInstance, 0, len(names))
	for _, name := range names {
		if child, ok := obj.Get(name); ok {
			out = append(out, child)
		}
	}
	return out
}

// Flatten splices the members of collection instances into one list,
// recursively, and keeps other instances as they are.
func Flatten(instances []TypedInstance) []TypedInstance {
	out := make([]TypedInstance, 0, len(instances))
	for _, inst := range instances {
		if c, ok := inst.(*TypedCollection); ok {
			out = append(out, Flatten(c.members)...)
			continue
		}
		out = append(out, inst)
	}
	return out
}
