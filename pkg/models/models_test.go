package models

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	doc, err := schema.ParseDocument([]byte(`
types:
  - name: FirstName
    inherits: [String]
  - name: Age
    inherits: [Int]
  - name: City
    inherits: [String]
  - name: Address
    fields:
      - {name: city, type: City}
  - name: Person
    fields:
      - {name: name, type: FirstName}
      - {name: age, type: Age}
      - {name: address, type: Address}
      - {name: nicknames, type: "FirstName[]"}
  - name: Country
    enum:
      - {name: NZ, value: New Zealand, synonyms: [IsoCountry.NZL]}
  - name: IsoCountry
    enum:
      - {name: NZL}
  - name: Blob
    closed: true
    fields:
      - {name: payload, type: String}
`))
	require.NoError(t, err)
	s, err := schema.Build(doc)
	require.NoError(t, err)
	return s
}

func TestFromValue_RoundTrip(t *testing.T) {
	s := testSchema(t)
	raw := map[string]any{
		"name":      "Alice",
		"age":       42,
		"address":   map[string]any{"city": "NYC"},
		"nicknames": []any{"Al", "Ally"},
		"ignored":   true,
	}

	inst, err := FromValue(s.MustType("Person"), raw, Provided)
	require.NoError(t, err)

	obj, ok := inst.(*TypedObject)
	require.True(t, ok)
	assert.Len(t, obj.Fields(), 4)

	age, ok := obj.Get("age")
	require.True(t, ok)
	assert.Equal(t, int64(42), age.Value())

	want := map[string]any{
		"name":      "Alice",
		"age":       int64(42),
		"address":   map[string]any{"city": "NYC"},
		"nicknames": []any{"Al", "Ally"},
	}
	if diff := cmp.Diff(want, ToRaw(inst)); diff != "" {
		t.Errorf("ToRaw() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromValue_MissingFieldsAreNull(t *testing.T) {
	s := testSchema(t)
	inst, err := FromValue(s.MustType("Person"), map[string]any{"name": "Bob"}, Provided)
	require.NoError(t, err)

	addr, ok := inst.(*TypedObject).Get("address")
	require.True(t, ok)
	assert.True(t, IsNull(addr))
	assert.Same(t, s.MustType("Address"), addr.Type())
	assert.Nil(t, addr.Value())
}

func TestFromValue_Errors(t *testing.T) {
	s := testSchema(t)
	tests := []struct {
		name string
		typ  string
		raw  any
	}{
		{name: "object from scalar", typ: "Person", raw: "nope"},
		{name: "list from object", typ: "FirstName[]", raw: map[string]any{}},
		{name: "int from string", typ: "Age", raw: "forty"},
		{name: "string from number", typ: "City", raw: 3},
		{name: "unknown enum value", typ: "Country", raw: "AU"},
		{name: "nested error", typ: "Person", raw: map[string]any{"age": "x"}},
		{name: "int from fraction", typ: "Age", raw: 1.5},
		{name: "int above range", typ: "Age", raw: 1e19},
		{name: "int at two to the 63", typ: "Age", raw: float64(math.MaxInt64)},
		{name: "int below range", typ: "Age", raw: -1e19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromValue(s.MustType(tt.typ), tt.raw, Provided)
			assert.Error(t, err)
		})
	}
}

func TestFromValue_IntFromFloat(t *testing.T) {
	s := testSchema(t)
	for _, raw := range []float64{42, -7, math.MinInt64, 1 << 62} {
		inst, err := FromValue(s.MustType("Age"), raw, Provided)
		require.NoError(t, err, raw)
		assert.Equal(t, int64(raw), inst.Value())
	}
}

func TestEqualAndDistinct(t *testing.T) {
	s := testSchema(t)
	city := s.MustType("City")

	a := NewTypedValue(city, "NYC", Provided)
	b := NewTypedValue(city, "NYC", Provided)
	c := NewTypedValue(city, "LA", Provided)
	d := NewTypedValue(city, "NYC", NewOperationResult("lookupCity"))

	assert.True(t, Equal(a, b))
	assert.Equal(t, Hash(a), Hash(b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, d), "provenance is part of equality")

	distinct := Distinct([]TypedInstance{a, c, b, d})
	require.Len(t, distinct, 3)
	assert.Same(t, a, distinct[0])
	assert.Same(t, c, distinct[1])
	assert.Same(t, d, distinct[2])

	assert.Len(t, DistinctByIdentity([]TypedInstance{a, a, b}), 2)
}

func TestEqual_Objects(t *testing.T) {
	s := testSchema(t)
	raw := map[string]any{"name": "Alice", "address": map[string]any{"city": "NYC"}}

	first, err := FromValue(s.MustType("Person"), raw, Provided)
	require.NoError(t, err)
	second, err := FromValue(s.MustType("Person"), raw, Provided)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.True(t, Equal(first, second))
	assert.Equal(t, Hash(first), Hash(second))
}

func TestChildren(t *testing.T) {
	s := testSchema(t)

	person, err := FromValue(s.MustType("Person"), map[string]any{"name": "Alice"}, Provided)
	require.NoError(t, err)
	assert.Len(t, Children(person), 4)
	assert.Len(t, FieldChildren(person, []string{"name", "missing"}), 1)

	nz, err := NewTypedEnumValue(s.MustType("Country"), "NZ", Provided)
	require.NoError(t, err)
	synonyms := Children(nz)
	require.Len(t, synonyms, 1)
	assert.Same(t, s.MustType("IsoCountry"), synonyms[0].Type())
	assert.Equal(t, "NZL", synonyms[0].(*TypedEnumValue).Name())
	assert.Equal(t, "New Zealand", nz.Value())

	blob, err := FromValue(s.MustType("Blob"), map[string]any{"payload": "x"}, Provided)
	require.NoError(t, err)
	assert.Empty(t, Children(blob), "closed types are opaque")

	assert.Empty(t, Children(NewTypedValue(schema.String, "x", Provided)))
	assert.Empty(t, Children(NewTypedNull(schema.String, Provided)))
}

func TestCollections(t *testing.T) {
	s := testSchema(t)
	city := s.MustType("City")
	nyc := NewTypedValue(city, "NYC", Provided)
	la := NewTypedValue(city, "LA", Provided)

	coll := CollectionOf([]TypedInstance{nyc, la}, Provided)
	assert.Same(t, city.CollectionType(), coll.Type())

	mixed := CollectionOf([]TypedInstance{nyc, NewTypedValue(schema.Int, int64(1), Provided)}, Provided)
	assert.Same(t, schema.Any.CollectionType(), mixed.Type())

	nested := NewTypedCollection(city, []TypedInstance{coll, nyc}, Provided)
	assert.True(t, nested.Type().IsCollection(), "element types are promoted")
	assert.Equal(t, []TypedInstance{nyc, la, nyc}, Flatten([]TypedInstance{nested}))
}

func TestSingleSourceOrMixed(t *testing.T) {
	op := NewOperationResult("findFilm")
	a := NewTypedValue(schema.String, "a", op)
	b := NewTypedValue(schema.String, "b", op)
	c := NewTypedValue(schema.String, "c", Provided)

	assert.Equal(t, op, SingleSourceOrMixed([]TypedInstance{a, b}))
	assert.Equal(t, MixedSources, SingleSourceOrMixed([]TypedInstance{a, c}))
	assert.Equal(t, Provided, SingleSourceOrMixed(nil))
	assert.NotEqual(t, op.ID, NewOperationResult("findFilm").ID)
	assert.True(t, NewFailedSource("timeout").IsFailed())
}
