package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Schema is an immutable set of named types. It is safe for concurrent use.
type Schema struct {
	types map[string]*Type
	order []string

	// reach memoizes, per target type, the object types whose fields can lead to it.
	reach sync.Map // *Type -> map[*Type]struct{}

	// paths memoizes AttributePathsTo results.
	paths sync.Map // pathKey -> []AttributePath
}

type pathKey struct {
	container *Type
	target    *Type
}

// Type returns the named type. A trailing "[]" yields the collection type of
// the element; nested suffixes are allowed.
func (s *Schema) Type(name string) (*Type, error) {
	name = strings.TrimSpace(name)
	if base, ok := strings.CutSuffix(name, "[]"); ok {
		elem, err := s.Type(base)
		if err != nil {
			return nil, err
		}
		return elem.CollectionType(), nil
	}
	t, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("type %q is not defined in the schema", name)
	}
	return t, nil
}

// MustType is like Type but panics when the type is unknown.
func (s *Schema) MustType(name string) *Type {
	t, err := s.Type(name)
	if err != nil {
		panic(err)
	}
	return t
}

// HasType reports whether the named type exists.
func (s *Schema) HasType(name string) bool {
	_, err := s.Type(name)
	return err == nil
}

// AnyType returns the universal type.
func (s *Schema) AnyType() *Type {
	return Any
}

// Types returns the user defined types in declaration order.
func (s *Schema) Types() []*Type {
	out := make([]*Type, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.types[name])
	}
	return out
}

// TypeNames returns the sorted names of every type, primitives included.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttributePathsTo returns the attribute paths beneath container through which
// a value of type target could appear. Paths end at a field that could hold
// the target; a field leading back into a type already on the current path is
// reported as a single-segment path when that type can reach the target.
func (s *Schema) AttributePathsTo(container, target *Type) []AttributePath {
	if container == nil || target == nil || !container.IsObject() {
		return nil
	}
	key := pathKey{container: container, target: target}
	if cached, ok := s.paths.Load(key); ok {
		return cached.([]AttributePath)
	}

	reaching := s.typesReaching(target)
	stack := map[*Type]struct{}{container: {}}
	paths := collectPaths(container, target, reaching, stack, nil)

	actual, _ := s.paths.LoadOrStore(key, paths)
	return actual.([]AttributePath)
}

// CanContain reports whether an instance of container could have a value of
// type target somewhere beneath it.
func (s *Schema) CanContain(container, target *Type) bool {
	base := unwrapCollection(container)
	if base.IsAny() {
		return true
	}
	if !base.IsObject() {
		return false
	}
	_, ok := s.typesReaching(target)[base]
	return ok
}

func collectPaths(container, target *Type, reaching map[*Type]struct{}, stack map[*Type]struct{}, prefix AttributePath) []AttributePath {
	var out []AttributePath
	for _, field := range container.Fields {
		path := append(append(AttributePath(nil), prefix...), field.Name)
		base := unwrapCollection(field.Type)

		if couldHold(field.Type, target) || base.IsAny() {
			out = append(out, path)
		}
		if !base.IsObject() || base.Closed {
			continue
		}
		if _, ok := reaching[base]; !ok {
			continue
		}
		if _, onStack := stack[base]; onStack {
			if !containsPath(out, path) {
				out = append(out, path)
			}
			continue
		}
		stack[base] = struct{}{}
		out = append(out, collectPaths(base, target, reaching, stack, path)...)
		delete(stack, base)
	}
	return out
}

// typesReaching computes the least fixpoint of object types that can lead to
// target through their fields.
func (s *Schema) typesReaching(target *Type) map[*Type]struct{} {
	if cached, ok := s.reach.Load(target); ok {
		return cached.(map[*Type]struct{})
	}

	objects := make([]*Type, 0, len(s.types))
	for _, t := range s.types {
		if t.IsObject() && !t.Closed {
			objects = append(objects, t)
		}
	}

	reaching := make(map[*Type]struct{})
	for changed := true; changed; {
		changed = false
		for _, obj := range objects {
			if _, done := reaching[obj]; done {
				continue
			}
			for _, field := range obj.Fields {
				base := unwrapCollection(field.Type)
				_, viaField := reaching[base]
				if couldHold(field.Type, target) || base.IsAny() || viaField {
					reaching[obj] = struct{}{}
					changed = true
					break
				}
			}
		}
	}

	actual, _ := s.reach.LoadOrStore(target, reaching)
	return actual.(map[*Type]struct{})
}

// couldHold reports whether a field declared as fieldType may carry a value
// matching target, either directly or as a collection member.
func couldHold(fieldType, target *Type) bool {
	for t := fieldType; t != nil; t = t.ElementType() {
		if t.IsAssignableTo(target) || target.IsAssignableTo(t) {
			return true
		}
		if !t.IsCollection() {
			break
		}
	}
	return false
}

func unwrapCollection(t *Type) *Type {
	for t.IsCollection() {
		t = t.Element
	}
	return t
}

func containsPath(paths []AttributePath, path AttributePath) bool {
	for _, p := range paths {
		if p.String() == path.String() {
			return true
		}
	}
	return false
}
