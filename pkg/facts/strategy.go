package facts

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// DiscoveryStrategy selects how deep a search looks and how it treats multiple matches.
type DiscoveryStrategy int

const (
	// TopLevelOnly returns the first root or scoped fact that matches. Nested values are never considered.
	TopLevelOnly DiscoveryStrategy = iota

	// AnyDepthExpectOne searches at any depth and succeeds only on exactly one match.
	AnyDepthExpectOne

	// AnyDepthExpectOneDistinct is AnyDepthExpectOne over structurally distinct
	// matches, with refinement to an exact type match and a last-resort
	// preference for the only non-null match.
	AnyDepthExpectOneDistinct

	// AnyDepthAllowMany collects every distinct match into one flattened collection.
	AnyDepthAllowMany
)

var strategyNames = map[DiscoveryStrategy]string{
	TopLevelOnly:              "TOP_LEVEL_ONLY",
	AnyDepthExpectOne:         "ANY_DEPTH_EXPECT_ONE",
	AnyDepthExpectOneDistinct: "ANY_DEPTH_EXPECT_ONE_DISTINCT",
	AnyDepthAllowMany:         "ANY_DEPTH_ALLOW_MANY",
}

// String returns the canonical upper-case name of the strategy.
func (s DiscoveryStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DiscoveryStrategy(%d)", int(s))
}

// Strategies returns every discovery strategy.
func Strategies() []DiscoveryStrategy {
	return []DiscoveryStrategy{TopLevelOnly, AnyDepthExpectOne, AnyDepthExpectOneDistinct, AnyDepthAllowMany}
}

// ParseDiscoveryStrategy accepts the canonical name or its kebab-case form,
// e.g. "ANY_DEPTH_EXPECT_ONE" or "any-depth-expect-one".
func ParseDiscoveryStrategy(name string) (DiscoveryStrategy, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for s, n := range strategyNames {
		if n == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown discovery strategy %q", name)
}

// Outcome is the result class of a resolved search.
type Outcome string

const (
	OutcomeFound     Outcome = "found"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeAmbiguous Outcome = "ambiguous"
)

type resolution struct {
	fact       models.TypedInstance
	outcome    Outcome
	candidates int
}

func found(fact models.TypedInstance, candidates int) resolution {
	return resolution{fact: fact, outcome: OutcomeFound, candidates: candidates}
}

func notFound() resolution {
	return resolution{outcome: OutcomeNotFound}
}

func ambiguous(search FactSearch, candidates int) resolution {
	log.Debug().
		Str("search", search.Name).
		Str("strategy", search.Strategy.String()).
		Int("candidates", candidates).
		Msg("Search is ambiguous, resolving to not found")
	return resolution{outcome: OutcomeAmbiguous, candidates: candidates}
}

// resolve runs the strategy against bag without consulting any search cache.
func (s DiscoveryStrategy) resolve(bag FactBag, search FactSearch) resolution {
	switch s {
	case TopLevelOnly:
		return resolveTopLevel(bag, search)
	case AnyDepthExpectOne:
		return resolveExpectOne(bag, search)
	case AnyDepthExpectOneDistinct:
		return resolveExpectOneDistinct(bag, search)
	case AnyDepthAllowMany:
		return resolveAllowMany(bag, search)
	default:
		panic(fmt.Sprintf("facts: unhandled discovery strategy %d", int(s)))
	}
}

func resolveTopLevel(bag FactBag, search FactSearch) resolution {
	for _, fact := range bag.RootAndScopedFacts() {
		if search.Filter.Matches(fact) {
			return found(fact, 1)
		}
	}
	return notFound()
}

func deepMatches(bag FactBag, search FactSearch) []models.TypedInstance {
	traversal := EnterIfHasFieldOfType(bag.TypeSystem(), search.TargetType)
	return bag.BreadthFirstFilter(search.Strategy, traversal, search.Filter.Matches)
}

func resolveExpectOne(bag FactBag, search FactSearch) resolution {
	matches := deepMatches(bag, search)
	switch len(matches) {
	case 0:
		return notFound()
	case 1:
		return found(matches[0], 1)
	default:
		return ambiguous(search, len(matches))
	}
}

func resolveExpectOneDistinct(bag FactBag, search FactSearch) resolution {
	matches := models.Distinct(deepMatches(bag, search))
	switch len(matches) {
	case 0:
		return notFound()
	case 1:
		return found(toCollectionIfRequested(matches[0], search.TargetType), 1)
	}

	if refined := search.Refine.Refine(matches); refined != nil {
		return found(refined, len(matches))
	}

	// Last resort: a single candidate that actually carries a value.
	var withValue []models.TypedInstance
	for _, m := range matches {
		if m.Value() != nil {
			withValue = append(withValue, m)
		}
	}
	if len(withValue) == 1 {
		return found(toCollectionIfRequested(withValue[0], search.TargetType), len(matches))
	}
	return ambiguous(search, len(matches))
}

func resolveAllowMany(bag FactBag, search FactSearch) resolution {
	matches := models.Distinct(deepMatches(bag, search))
	if len(matches) == 0 {
		return notFound()
	}
	collectionType := search.TargetType
	if !collectionType.IsCollection() {
		collectionType = collectionType.CollectionType()
	}
	members := models.DistinctByIdentity(models.Flatten(matches))
	return found(models.NewTypedCollection(collectionType, members, models.SingleSourceOrMixed(matches)), len(matches))
}

// toCollectionIfRequested wraps a single non-collection match when the
// search asked for a collection type.
func toCollectionIfRequested(fact models.TypedInstance, target *schema.Type) models.TypedInstance {
	if !target.IsCollection() {
		return fact
	}
	if _, ok := fact.(*models.TypedCollection); ok {
		return fact
	}
	return models.NewTypedCollection(target, []models.TypedInstance{fact}, fact.Source())
}
