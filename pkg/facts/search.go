package facts

import (
	"fmt"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// SearchKey is the cache identity of a FactSearch.
type SearchKey struct {
	ID       string
	Strategy DiscoveryStrategy
}

// FilterPredicate selects candidate facts. Equal IDs must denote equivalent functions.
type FilterPredicate struct {
	ID      string
	Matches MatchFunc
}

// RefiningPredicate reduces an ambiguous candidate set to a single fact, or
// returns nil when it cannot.
type RefiningPredicate struct {
	ID     string
	Refine func(candidates []models.TypedInstance) models.TypedInstance
}

// NoRefiningPermitted leaves every ambiguity unresolved.
var NoRefiningPermitted = RefiningPredicate{
	ID:     "NO_REFINING_PERMITTED",
	Refine: func([]models.TypedInstance) models.TypedInstance { return nil },
}

// RefineToExactTypeMatch keeps the candidates whose type is exactly t and
// succeeds only if one remains.
func RefineToExactTypeMatch(t *schema.Type) RefiningPredicate {
	return RefiningPredicate{
		ID: "REFINE_TO_EXACT_TYPE:" + t.Name,
		Refine: func(candidates []models.TypedInstance) models.TypedInstance {
			var exact models.TypedInstance
			for _, c := range candidates {
				if c.Type() != t {
					continue
				}
				if exact != nil {
					return nil
				}
				exact = c
			}
			return exact
		},
	}
}

// FactSearch describes a lookup. Searches are cached by Name and Strategy:
// two searches with the same name and strategy must have equivalent Filter
// and Refine predicates.
type FactSearch struct {
	Name       string
	TargetType *schema.Type
	Strategy   DiscoveryStrategy
	Filter     FilterPredicate
	Refine     RefiningPredicate
}

// Key returns the cache identity of the search.
func (s FactSearch) Key() SearchKey {
	return SearchKey{ID: s.Name, Strategy: s.Strategy}
}

// String implements fmt.Stringer.
func (s FactSearch) String() string {
	return fmt.Sprintf("%s (%s)", s.Name, s.Strategy)
}

// FindType builds the search used by the type-based lookups. A nil validity
// accepts every candidate; a nil matcher allows inherited types.
func FindType(target *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate, matcher schema.TypeMatcher) FactSearch {
	validity = validityOrDefault(validity)
	if matcher == nil {
		matcher = schema.AllowInheritedTypes
	}

	refine := NoRefiningPermitted
	if strategy == AnyDepthExpectOneDistinct {
		refine = RefineToExactTypeMatch(target)
	}

	filterID := fmt.Sprintf("%s:%s:%s", target.Name, matcher.ID(), validity.ID())
	return FactSearch{
		Name:       fmt.Sprintf("Find type %s [matcher=%s, validity=%s, refine=%s]", target.Name, matcher.ID(), validity.ID(), refine.ID),
		TargetType: target,
		Strategy:   strategy,
		Filter: FilterPredicate{
			ID: filterID,
			Matches: func(candidate models.TypedInstance) bool {
				return matcher.Matches(target, candidate.Type()) && validity.IsValid(candidate)
			},
		},
		Refine: refine,
	}
}

// defaultMatcher is the matcher used by the convenience lookups: collection
// members count as matches when gathering many.
func defaultMatcher(strategy DiscoveryStrategy) schema.TypeMatcher {
	if strategy == AnyDepthAllowMany {
		return schema.Or(schema.MatchOnCollectionType, schema.AllowInheritedTypes)
	}
	return schema.AllowInheritedTypes
}

// findTypeSearch is the search the convenience lookups build for t.
func findTypeSearch(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) FactSearch {
	return FindType(t, strategy, validity, defaultMatcher(strategy))
}
