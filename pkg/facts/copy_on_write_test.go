package facts

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

func TestEndToEnd_PersonAndCity(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	bag := f.bag(f.person("Alice", "NYC"))

	assert.Nil(t, bag.GetFactOrNil(city, TopLevelOnly, nil))

	fact := bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
	require.NotNil(t, fact)
	assert.Equal(t, "NYC", fact.Value())

	_, err := bag.AddFact(f.person("", "LA"))
	require.NoError(t, err)
	assert.Nil(t, bag.GetFactOrNil(city, AnyDepthExpectOne, nil), "two cities are ambiguous")
}

func TestTopLevelOnly_NeverReturnsNestedValues(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.person("Alice", "NYC"))

	assert.Nil(t, bag.GetFactOrNil(f.typ("FirstName"), TopLevelOnly, nil))
	assert.NotNil(t, bag.GetFactOrNil(f.typ("FirstName"), AnyDepthExpectOne, nil))

	person := bag.GetFactOrNil(f.typ("Person"), TopLevelOnly, nil)
	require.NotNil(t, person)
	assert.Same(t, bag.RootFacts()[0], person)
}

func TestTopLevelOnly_FirstMatchWins(t *testing.T) {
	f := newFixture(t)
	alice := f.instance("FirstName", "Alice")
	bob := f.instance("FirstName", "Bob")
	bag := f.bag(alice, bob)

	assert.Same(t, alice, bag.GetFactOrNil(f.typ("FirstName"), TopLevelOnly, nil))
	assert.Nil(t, bag.GetFactOrNil(f.typ("FirstName"), AnyDepthExpectOne, nil))
}

func TestAnyDepthExpectOne(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")

	one := f.bag(f.person("Alice", "NYC"))
	assert.Equal(t, "NYC", rawOf(one.GetFactOrNil(city, AnyDepthExpectOne, nil)))

	two := f.bag(f.person("Alice", "NYC"), f.person("Bob", "NYC"))
	assert.Nil(t, two.GetFactOrNil(city, AnyDepthExpectOne, nil))
}

func TestAnyDepthExpectOneDistinct_CollapsesDuplicates(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.person("Alice", "NYC"), f.person("Bob", "NYC"))

	fact := bag.GetFactOrNil(f.typ("City"), AnyDepthExpectOneDistinct, nil)
	require.NotNil(t, fact)
	assert.Equal(t, "NYC", fact.Value())

	differing := f.bag(f.person("Alice", "NYC"), f.person("Bob", "LA"))
	assert.Nil(t, differing.GetFactOrNil(f.typ("City"), AnyDepthExpectOneDistinct, nil))
}

func TestAnyDepthExpectOneDistinct_ExactTypeWins(t *testing.T) {
	f := newFixture(t)
	alice := f.person("Alice", "")
	film := f.instance("Film", map[string]any{
		"cast": []any{map[string]any{"name": "Jack"}},
	})
	bag := f.bag(alice, film)

	assert.Nil(t, bag.GetFactOrNil(f.typ("Person"), AnyDepthExpectOne, nil))
	assert.Same(t, alice, bag.GetFactOrNil(f.typ("Person"), AnyDepthExpectOneDistinct, nil))
}

func TestAnyDepthExpectOneDistinct_PrefersOnlyNonNullMatch(t *testing.T) {
	f := newFixture(t)
	film := f.instance("Film", map[string]any{
		"cast": []any{map[string]any{"name": "Jack"}, nil},
	})
	bag := f.bag(film)

	fact := bag.GetFactOrNil(f.typ("Person"), AnyDepthExpectOneDistinct, nil)
	require.NotNil(t, fact)
	assert.Same(t, f.typ("Actor"), fact.Type())
	assert.Equal(t, "Jack", rawOf(fact).(map[string]any)["name"])
}

func TestAnyDepthExpectOneDistinct_WrapsSingleMatchForCollectionRequest(t *testing.T) {
	f := newFixture(t)
	names := f.typ("FirstName[]")
	bag := f.bag(f.person("Alice", ""))

	search := FindType(names, AnyDepthExpectOneDistinct, nil, schema.Or(schema.MatchOnCollectionType, schema.AllowInheritedTypes))
	fact := bag.FindFact(search)
	require.NotNil(t, fact)
	assert.Same(t, names, fact.Type())
	assert.Equal(t, []any{"Alice"}, rawOf(fact))
}

func TestAnyDepthAllowMany_GathersScatteredMatchesInBreadthFirstOrder(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(
		f.instance("Catalog", map[string]any{
			"films": []any{map[string]any{"cast": []any{map[string]any{"name": "Jack"}}}},
		}),
		f.person("Alice", ""),
		f.instance("FirstName", "Zed"),
	)

	fact := bag.GetFactOrNil(f.typ("FirstName"), AnyDepthAllowMany, nil)
	require.NotNil(t, fact)
	assert.Same(t, f.typ("FirstName[]"), fact.Type())
	assert.Equal(t, []any{"Zed", "Alice", "Jack"}, rawOf(fact))
}

func TestAnyDepthAllowMany_FlattensCollections(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.filmCatalog())

	agents := bag.GetFactOrNil(f.typ("AgentName"), AnyDepthAllowMany, nil)
	require.NotNil(t, agents)
	assert.Equal(t, []any{"Jack", "Jimmy", "Johnny", "Jane"}, rawOf(agents))

	scores := bag.GetFactOrNil(f.typ("ImdbScore[]"), AnyDepthAllowMany, nil)
	require.NotNil(t, scores)
	assert.Equal(t, []any{5.5, 2.5}, rawOf(scores))

	actors := bag.GetFactOrNil(f.typ("Actor[]"), AnyDepthAllowMany, nil)
	require.NotNil(t, actors)
	assert.Len(t, actors.(*models.TypedCollection).Members(), 4, "collection matches and their members are not repeated")

	assert.Nil(t, bag.GetFactOrNil(f.typ("City"), AnyDepthAllowMany, nil))
}

func TestRequestingCollectionTypeReturnsCollection(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.filmCatalog())

	films := bag.GetFactOrNil(f.typ("Film[]"), AnyDepthExpectOne, nil)
	require.NotNil(t, films)
	assert.Equal(t, 2, films.(*models.TypedCollection).Len())
}

func TestEnumSynonymsAreSearchable(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.instance("Residence", map[string]any{"country": "UK"}))

	iso := bag.GetFactOrNil(f.typ("IsoCountry"), AnyDepthExpectOne, nil)
	require.NotNil(t, iso)
	assert.Equal(t, "GBR", iso.(*models.TypedEnumValue).Name())

	country := bag.GetFactOrNil(f.typ("Country"), AnyDepthExpectOne, nil)
	require.NotNil(t, country, "synonym chains do not lead back to a second match")
	assert.Equal(t, "UK", country.(*models.TypedEnumValue).Name())
}

func TestClosedTypesAreNotSearched(t *testing.T) {
	f := newFixture(t)
	vault := f.instance("Vault", map[string]any{"owner": map[string]any{"name": "Alice"}})
	bag := f.bag(vault)

	assert.Nil(t, bag.GetFactOrNil(f.typ("FirstName"), AnyDepthExpectOne, nil))
	assert.Same(t, vault, bag.GetFactOrNil(f.typ("Vault"), TopLevelOnly, nil))
}

func TestValidityPredicates(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	failed := models.NewTypedNull(city, models.NewFailedSource("lookup timed out"))
	nyc := f.instance("City", "NYC")
	bag := f.bag(failed, nyc)

	assert.Same(t, failed, bag.GetFactOrNil(city, TopLevelOnly, AlwaysValid))
	assert.Same(t, nyc, bag.GetFactOrNil(city, TopLevelOnly, ExcludeFailedSources))

	notNYC := PredicateFunc("NOT_NYC", func(i models.TypedInstance) bool { return i.Value() != "NYC" })
	assert.Nil(t, bag.GetFactOrNil(city, TopLevelOnly, AllValid(ExcludeFailedSources, notNYC)))
}

func TestSearchIsIdempotentAndCached(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	bag := f.bag(f.person("Alice", "NYC"))

	var calls atomic.Int32
	search := FactSearch{
		Name:       "counted-city",
		TargetType: city,
		Strategy:   AnyDepthExpectOne,
		Filter: FilterPredicate{
			ID: "counted-city",
			Matches: func(i models.TypedInstance) bool {
				calls.Add(1)
				return i.Type() == city
			},
		},
		Refine: NoRefiningPermitted,
	}

	first := bag.FindFact(search)
	require.NotNil(t, first)
	invocations := calls.Load()
	require.Positive(t, invocations)

	second := bag.FindFact(search)
	assert.Same(t, first, second)
	assert.Equal(t, invocations, calls.Load(), "second search is answered from the cache")
	assert.True(t, bag.HasFact(search))
}

func TestNegativeResultsAreForgottenOnAdd(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	bag := f.bag(f.person("Alice", ""))

	assert.Nil(t, bag.GetFactOrNil(city, TopLevelOnly, nil))
	assert.True(t, bag.SearchIsCached(city, TopLevelOnly, nil))

	_, err := bag.AddFact(f.instance("Title", "Jaws"))
	require.NoError(t, err)
	assert.False(t, bag.SearchIsCached(city, TopLevelOnly, nil))

	_, err = bag.AddFact(f.instance("City", "NYC"))
	require.NoError(t, err)
	assert.Equal(t, "NYC", rawOf(bag.GetFactOrNil(city, TopLevelOnly, nil)))
}

func TestFoundResultsSurviveUnrelatedAdds(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	bag := f.bag(f.person("Alice", "NYC"))

	first := bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
	require.NotNil(t, first)

	_, err := bag.AddFacts([]models.TypedInstance{f.instance("Title", "Jaws"), f.person("Bob", "")})
	require.NoError(t, err)
	assert.True(t, bag.SearchIsCached(city, AnyDepthExpectOne, nil))
	assert.Same(t, first, bag.GetFactOrNil(city, AnyDepthExpectOne, nil))

	topLevel := bag.GetFactOrNil(f.typ("Person"), TopLevelOnly, nil)
	_, err = bag.AddFact(f.person("Carol", ""))
	require.NoError(t, err)
	assert.True(t, bag.SearchIsCached(f.typ("Person"), TopLevelOnly, nil))
	assert.Same(t, topLevel, bag.GetFactOrNil(f.typ("Person"), TopLevelOnly, nil))
}

func TestMonotonicDiscovery(t *testing.T) {
	f := newFixture(t)
	score := f.typ("ImdbScore")
	bag := f.bag(f.person("Alice", "NYC"))

	for _, strategy := range Strategies() {
		assert.Nil(t, bag.GetFactOrNil(score, strategy, nil), strategy.String())
	}

	_, err := bag.AddFact(f.instance("Film", map[string]any{"title": "Jaws", "imdbScore": 8.1}))
	require.NoError(t, err)

	for _, strategy := range []DiscoveryStrategy{AnyDepthExpectOne, AnyDepthExpectOneDistinct, AnyDepthAllowMany} {
		assert.NotNil(t, bag.GetFactOrNil(score, strategy, nil), strategy.String())
	}
}

func TestMergeThenExcludingBehavesLikeOriginal(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.person("Alice", "NYC"), f.filmCatalog())
	extra := f.person("Bob", "LA")

	roundTrip := bag.MergeFact(extra).Excluding(extra)
	assert.Equal(t, bag.Size(), roundTrip.Size())

	for _, typeName := range []string{"City", "FirstName", "AgentName", "ImdbScore[]", "Person", "Film[]"} {
		for _, strategy := range Strategies() {
			want := bag.GetFactOrNil(f.typ(typeName), strategy, nil)
			got := roundTrip.GetFactOrNil(f.typ(typeName), strategy, nil)
			assert.True(t, models.Equal(want, got), "%s with %s", typeName, strategy)
		}
	}
}

func TestMergeIsPure(t *testing.T) {
	f := newFixture(t)
	alice := f.person("Alice", "")
	bob := f.person("Bob", "")
	left := f.bag(alice)
	right := f.bag(bob)

	merged := left.Merge(right)
	assert.Equal(t, 2, merged.Size())
	assert.Equal(t, 1, left.Size())
	assert.Equal(t, 1, right.Size())
	assert.True(t, merged.Contains(bob))
	assert.False(t, left.Contains(bob))

	copied := left.Copy()
	_, err := copied.AddFact(bob)
	require.NoError(t, err)
	assert.Equal(t, 1, left.Size())
}

func TestScopedFacts(t *testing.T) {
	f := newFixture(t)
	film := f.instance("Film", map[string]any{"title": "Jaws"})
	bag := NewScopedFactBag(
		[]models.TypedInstance{f.person("Alice", "")},
		[]ScopedFact{{Scope: ProjectionScope{Name: "film", Type: f.typ("Film")}, Fact: film}},
		f.schema,
	)

	assert.Equal(t, 2, bag.Size())
	assert.Len(t, bag.RootFacts(), 1)
	assert.Len(t, bag.RootAndScopedFacts(), 2)

	sf, err := bag.ScopedFact("film")
	require.NoError(t, err)
	assert.Same(t, film, sf.Fact)

	_, err = bag.ScopedFact("missing")
	assert.True(t, IsNotResolved(err))

	assert.Same(t, film, bag.GetFactOrNil(f.typ("Film"), TopLevelOnly, nil))
	assert.Equal(t, "Jaws", rawOf(bag.GetFactOrNil(f.typ("Title"), AnyDepthExpectOne, nil)))
}

func TestTopLevelScopedAnswerIsDisplacedByNewRootFact(t *testing.T) {
	f := newFixture(t)
	scopedName := f.instance("FirstName", "Scoped")
	bag := NewScopedFactBag(nil,
		[]ScopedFact{{Scope: ProjectionScope{Name: "name", Type: f.typ("FirstName")}, Fact: scopedName}},
		f.schema,
	)
	require.Same(t, scopedName, bag.GetFactOrNil(f.typ("FirstName"), TopLevelOnly, nil))

	root := f.instance("FirstName", "Root")
	_, err := bag.AddFact(root)
	require.NoError(t, err)
	assert.Same(t, root, bag.GetFactOrNil(f.typ("FirstName"), TopLevelOnly, nil))
}

func TestGetFact_ReturnsResolutionError(t *testing.T) {
	f := newFixture(t)
	bag := f.bag(f.person("Alice", ""))

	_, err := bag.GetFact(f.typ("City"), AnyDepthExpectOne, nil)
	require.Error(t, err)
	assert.True(t, IsNotResolved(err))

	var factErr *Error
	require.ErrorAs(t, err, &factErr)
	assert.Equal(t, "City", factErr.Type)
	assert.Equal(t, "ANY_DEPTH_EXPECT_ONE", factErr.Strategy)
	assert.ErrorIs(t, err, &Error{Class: ErrorClassResolution, Code: ErrCodeNotFound})

	fact, err := bag.GetFact(f.typ("Person"), TopLevelOnly, nil)
	require.NoError(t, err)
	assert.NotNil(t, fact)
}

func TestConcurrentSearchesAndAdds(t *testing.T) {
	f := newFixture(t)
	city := f.typ("City")
	bag := f.bag()

	cities := make([]models.TypedInstance, 50)
	for i := range cities {
		cities[i] = f.instance("City", fmt.Sprintf("city-%d", i))
	}

	var g errgroup.Group
	for _, c := range cities {
		g.Go(func() error {
			if _, err := bag.AddFact(c); err != nil {
				return err
			}
			bag.GetFactOrNil(city, AnyDepthAllowMany, nil)
			bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	all := bag.GetFactOrNil(city, AnyDepthAllowMany, nil)
	require.NotNil(t, all)
	assert.Equal(t, 50, all.(*models.TypedCollection).Len())
	assert.Nil(t, bag.GetFactOrNil(city, AnyDepthExpectOne, nil))
}

func TestObserverAndEvents(t *testing.T) {
	f := newFixture(t)
	observer := &recordingObserver{}
	sink := &recordingSink{}
	bag := NewCopyOnWriteFactBag([]models.TypedInstance{f.person("Alice", "NYC")}, f.schema,
		WithObserver(observer), WithEvents(sink))

	city := f.typ("City")
	bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
	bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
	bag.GetFactOrNil(f.typ("Title"), TopLevelOnly, nil)

	require.Len(t, observer.searches, 3)
	assert.Equal(t, searchObservation{strategy: "ANY_DEPTH_EXPECT_ONE", outcome: "found"}, observer.searches[0])
	assert.True(t, observer.searches[1].cached)
	assert.Equal(t, "not_found", observer.searches[2].outcome)
	assert.Equal(t, 1, observer.traversals)
	assert.Equal(t, []string{"found", "not_found"}, sink.resolved)

	_, err := bag.AddFact(f.person("Bob", "LA"))
	require.NoError(t, err)
	assert.Equal(t, 1, observer.added)
	assert.Equal(t, []string{"Person"}, sink.added)
	assert.Equal(t, 1, observer.invalidations["traversal"])
	assert.Equal(t, 2, observer.invalidations["search"])

	bag.GetFactOrNil(city, AnyDepthExpectOne, nil)
	assert.Equal(t, "ambiguous", observer.searches[len(observer.searches)-1].outcome)
}
