package models

import (
	"fmt"
	"math"
	"time"

	"github.com/openfroyo/catalog/pkg/schema"
)

// FromValue builds a typed instance from a decoded JSON or YAML value.
// Objects get one attribute per declared field, with TypedNull for fields
// missing from raw; undeclared keys are ignored.
func FromValue(t *schema.Type, raw any, source DataSource) (TypedInstance, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot build an instance without a type")
	}
	if raw == nil {
		return NewTypedNull(t, source), nil
	}

	switch t.Kind {
	case schema.KindCollection:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a list for %s, got %T", t.Name, raw)
		}
		members := make([]TypedInstance, 0, len(items))
		for i, item := range items {
			member, err := FromValue(t.Element, item, source)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", t.Name, i, err)
			}
			members = append(members, member)
		}
		return NewTypedCollection(t, members, source), nil

	case schema.KindObject:
		values, err := asMap(raw)
		if err != nil {
			return nil, fmt.Errorf("expected an object for %s: %w", t.Name, err)
		}
		fields := make([]NamedInstance, 0, len(t.Fields))
		for _, f := range t.Fields {
			child, err := FromValue(f.Type, values[f.Name], source)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			fields = append(fields, NamedInstance{Name: f.Name, Instance: child})
		}
		return NewTypedObject(t, fields, source), nil

	case schema.KindEnum:
		return NewTypedEnumValue(t, raw, source)

	case schema.KindAny:
		return NewTypedValue(t, raw, source), nil

	default:
		value, err := coerceScalar(t, raw)
		if err != nil {
			return nil, err
		}
		return NewTypedValue(t, value, source), nil
	}
}

// ToRaw converts an instance back to plain Go values suitable for JSON encoding.
func ToRaw(instance TypedInstance) any {
	switch v := instance.(type) {
	case nil:
		return nil
	case *TypedObject:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Name] = ToRaw(f.Instance)
		}
		return out
	case *TypedCollection:
		out := make([]any, 0, len(v.members))
		for _, m := range v.members {
			out = append(out, ToRaw(m))
		}
		return out
	case *TypedValue:
		return v.value
	case *TypedEnumValue:
		return v.member.Value
	case *TypedNull:
		return nil
	default:
		panic(fmt.Sprintf("models: unhandled instance shape %T", instance))
	}
}

func asMap(raw any) (map[string]any, error) {
	switch m := raw.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[key] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("got %T", raw)
	}
}

// primitiveOf returns the built-in primitive t derives from, or nil.
func primitiveOf(t *schema.Type) *schema.Type {
	for _, p := range schema.Primitives() {
		if t == p || t.InheritsFrom(p) {
			return p
		}
	}
	return nil
}

func coerceScalar(t *schema.Type, raw any) (any, error) {
	switch primitiveOf(t) {
	case schema.String:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case schema.Int:
		switch n := raw.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case uint64:
			if n <= math.MaxInt64 {
				return int64(n), nil
			}
		case float64:
			// MaxInt64 rounds up to 2^63 as a float64, hence the strict bound.
			if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
				return int64(n), nil
			}
		}
	case schema.Decimal:
		switch n := raw.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case schema.Boolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case schema.Date:
		switch d := raw.(type) {
		case time.Time:
			return d, nil
		case string:
			if _, err := time.Parse(time.DateOnly, d); err == nil {
				return d, nil
			}
			if _, err := time.Parse(time.RFC3339, d); err == nil {
				return d, nil
			}
		}
	default:
		return raw, nil
	}
	return nil, fmt.Errorf("value %v (%T) is not valid for %s", raw, raw, t.Name)
}
