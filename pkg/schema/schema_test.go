package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filmSchema = `
types:
  - name: FirstName
    inherits: [String]
  - name: AgentName
    inherits: [String]
  - name: ImdbScore
    inherits: [Decimal]
  - name: Title
    inherits: [String]
  - name: Person
    fields:
      - {name: name, type: FirstName}
      - {name: friends, type: "Person[]"}
  - name: Actor
    inherits: [Person]
    fields:
      - {name: agentName, type: AgentName}
  - name: Film
    fields:
      - {name: title, type: Title}
      - {name: cast, type: "Actor[]"}
      - {name: imdbScore, type: ImdbScore}
  - name: Catalog
    fields:
      - {name: films, type: "Film[]"}
  - name: Vault
    closed: true
    fields:
      - {name: secret, type: Title}
  - name: Country
    enum:
      - {name: NZ, value: New Zealand}
      - {name: UK, synonyms: [IsoCountry.GBR]}
  - name: IsoCountry
    enum:
      - {name: NZL}
      - {name: GBR}
`

func buildFilmSchema(t *testing.T) *Schema {
	t.Helper()
	doc, err := ParseDocument([]byte(filmSchema))
	require.NoError(t, err)
	s, err := Build(doc)
	require.NoError(t, err)
	return s
}

func TestBuild_ResolvesTypes(t *testing.T) {
	s := buildFilmSchema(t)

	actor := s.MustType("Actor")
	assert.Equal(t, KindObject, actor.Kind)
	assert.Equal(t, []string{"name", "friends", "agentName"}, fieldNames(actor))

	firstName := s.MustType("FirstName")
	assert.Equal(t, KindScalar, firstName.Kind)
	assert.True(t, firstName.InheritsFrom(String))

	films, err := s.Type("Film[]")
	require.NoError(t, err)
	assert.True(t, films.IsCollection())
	assert.Same(t, s.MustType("Film"), films.ElementType())
	assert.Same(t, films, s.MustType("Film").CollectionType(), "collection types are memoized")

	_, err = s.Type("Unknown")
	assert.Error(t, err)
	assert.Same(t, Any, s.AnyType())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{
			name: "duplicate type",
			doc:  Document{Types: []TypeDefinition{{Name: "A"}, {Name: "A"}}},
		},
		{
			name: "unknown field type",
			doc: Document{Types: []TypeDefinition{
				{Name: "A", Fields: []FieldDefinition{{Name: "b", Type: "Missing"}}},
			}},
		},
		{
			name: "unknown parent",
			doc:  Document{Types: []TypeDefinition{{Name: "A", Inherits: []string{"Missing"}}}},
		},
		{
			name: "inheritance cycle",
			doc: Document{Types: []TypeDefinition{
				{Name: "A", Inherits: []string{"B"}},
				{Name: "B", Inherits: []string{"A"}},
			}},
		},
		{
			name: "fields and enum",
			doc: Document{Types: []TypeDefinition{
				{Name: "A", Fields: []FieldDefinition{{Name: "x", Type: "String"}}, Enum: []EnumValueDefinition{{Name: "X"}}},
			}},
		},
		{
			name: "dangling synonym",
			doc: Document{Types: []TypeDefinition{
				{Name: "A", Enum: []EnumValueDefinition{{Name: "X", Synonyms: []string{"B.Y"}}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestIsAssignableTo(t *testing.T) {
	s := buildFilmSchema(t)
	person := s.MustType("Person")
	actor := s.MustType("Actor")

	assert.True(t, actor.IsAssignableTo(person))
	assert.False(t, person.IsAssignableTo(actor))
	assert.True(t, person.IsAssignableTo(Any))
	assert.True(t, actor.CollectionType().IsAssignableTo(person.CollectionType()))
	assert.False(t, actor.CollectionType().IsAssignableTo(person))
	assert.True(t, s.MustType("FirstName").IsAssignableTo(String))
}

func TestEnumSynonymsAreBidirectional(t *testing.T) {
	s := buildFilmSchema(t)
	uk, ok := s.MustType("Country").EnumValue("UK")
	require.True(t, ok)
	require.Len(t, uk.Synonyms(), 1)
	assert.Equal(t, "IsoCountry.GBR", uk.Synonyms()[0].String())

	gbr, ok := s.MustType("IsoCountry").EnumValue("GBR")
	require.True(t, ok)
	require.Len(t, gbr.Synonyms(), 1)
	assert.Equal(t, "Country.UK", gbr.Synonyms()[0].String())

	nz, ok := s.MustType("Country").EnumValue("New Zealand")
	require.True(t, ok, "lookup falls back to the enum value")
	assert.Equal(t, "NZ", nz.Name)
}

func TestAttributePathsTo(t *testing.T) {
	s := buildFilmSchema(t)

	tests := []struct {
		container string
		target    string
		want      []string
	}{
		{container: "Film", target: "ImdbScore", want: []string{"imdbScore"}},
		{container: "Catalog", target: "ImdbScore", want: []string{"films.imdbScore"}},
		{container: "Catalog", target: "AgentName", want: []string{"films.cast.agentName"}},
		{container: "Film", target: "Actor[]", want: []string{"cast", "cast.friends", "cast.friends.friends"}},
		{container: "Person", target: "FirstName", want: []string{"name", "friends"}},
		{container: "Catalog", target: "Country", want: nil},
		{container: "Vault", target: "Title", want: []string{"secret"}},
		{container: "Catalog", target: "Title", want: []string{"films.title"}},
	}

	for _, tt := range tests {
		t.Run(tt.container+"->"+tt.target, func(t *testing.T) {
			paths := s.AttributePathsTo(s.MustType(tt.container), s.MustType(tt.target))
			var got []string
			for _, p := range paths {
				got = append(got, p.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributePathsTo_ClosedTypesAreNotEntered(t *testing.T) {
	doc := Document{Types: []TypeDefinition{
		{Name: "Secret", Inherits: []string{"String"}},
		{Name: "Vault", Closed: true, Fields: []FieldDefinition{{Name: "secret", Type: "Secret"}}},
		{Name: "Bank", Fields: []FieldDefinition{{Name: "vault", Type: "Vault"}}},
	}}
	s := MustBuild(doc)

	assert.Empty(t, s.AttributePathsTo(s.MustType("Bank"), s.MustType("Secret")))
	assert.False(t, s.CanContain(s.MustType("Bank"), s.MustType("Secret")))
}

func TestTypeMatchers(t *testing.T) {
	s := buildFilmSchema(t)
	person := s.MustType("Person")
	actor := s.MustType("Actor")

	assert.True(t, AllowInheritedTypes.Matches(person, actor))
	assert.False(t, ExactMatch.Matches(person, actor))
	assert.True(t, ExactMatch.Matches(person, person))
	assert.True(t, MatchOnCollectionType.Matches(person.CollectionType(), actor))
	assert.False(t, MatchOnCollectionType.Matches(person, actor))

	either := Or(MatchOnCollectionType, AllowInheritedTypes)
	assert.Equal(t, "MATCH_ON_COLLECTION_TYPE|ALLOW_INHERITED_TYPES", either.ID())
	assert.True(t, either.Matches(person.CollectionType(), actor))
	assert.True(t, either.Matches(person.CollectionType(), actor.CollectionType()))
}

func fieldNames(t *Type) []string {
	var names []string
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}
