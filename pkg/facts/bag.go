package facts

import (
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// TypeSystem is the view of the schema that fact bags need for pruning.
// *schema.Schema implements it.
type TypeSystem interface {
	// AnyType returns the universal type used for the synthetic traversal root.
	AnyType() *schema.Type

	// AttributePathsTo returns the field paths beneath container through
	// which target could appear.
	AttributePathsTo(container, target *schema.Type) []schema.AttributePath
}

// ProjectionScope names a value that is in scope for a query without being a root fact,
// for example the item being projected in a "for each" expression.
type ProjectionScope struct {
	Name string
	Type *schema.Type
}

// ScopedFact is a fact bound to a projection scope.
type ScopedFact struct {
	Scope ProjectionScope
	Fact  models.TypedInstance
}

// MatchFunc selects instances during a traversal.
type MatchFunc func(models.TypedInstance) bool

// FactBag is a searchable set of facts.
//
// Lookups return nil when nothing matches or when the match is ambiguous
// under the requested strategy. Merge, MergeFact and Excluding are pure and
// return new bags; AddFact and AddFacts mutate the receiver and fail with an
// unsupported operation error on immutable variants.
type FactBag interface {
	// TypeSystem returns the type system used to prune traversals.
	TypeSystem() TypeSystem

	// RootFacts returns the direct facts, in insertion order.
	RootFacts() []models.TypedInstance

	// RootAndScopedFacts returns the root facts followed by the scoped facts.
	RootAndScopedFacts() []models.TypedInstance

	// ScopedFacts returns the facts bound to projection scopes.
	ScopedFacts() []ScopedFact

	// ScopedFact returns the fact bound to the named scope.
	ScopedFact(name string) (ScopedFact, error)

	Size() int
	IsEmpty() bool

	// Contains reports whether a structurally equal fact is a root or scoped fact.
	Contains(fact models.TypedInstance) bool

	Merge(other FactBag) FactBag
	MergeFact(fact models.TypedInstance) FactBag

	// Excluding returns a bag without the given instances, compared by identity.
	Excluding(facts ...models.TypedInstance) FactBag

	AddFact(fact models.TypedInstance) (FactBag, error)
	AddFacts(facts []models.TypedInstance) (FactBag, error)

	// HasFactOfType reports whether GetFactOrNil would find a fact.
	HasFactOfType(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) bool

	// GetFact is like GetFactOrNil but returns a resolution error when nothing is found.
	GetFact(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) (models.TypedInstance, error)

	// GetFactOrNil resolves the fact of type t. A nil validity accepts every candidate.
	GetFactOrNil(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) models.TypedInstance

	// FindFact resolves a search, returning nil when nothing is found.
	FindFact(search FactSearch) models.TypedInstance

	// HasFact reports whether FindFact would find a fact.
	HasFact(search FactSearch) bool

	// BreadthFirstFilter walks the facts breadth-first under traversal and
	// returns every visited node accepted by match, shallowest first.
	BreadthFirstFilter(strategy DiscoveryStrategy, traversal TraversalStrategy, match MatchFunc) []models.TypedInstance
}

func scopedFactsOf(bag FactBag) []models.TypedInstance {
	scoped := bag.ScopedFacts()
	out := make([]models.TypedInstance, 0, len(scoped))
	for _, sf := range scoped {
		out = append(out, sf.Fact)
	}
	return out
}

func findScopedFact(scoped []ScopedFact, name string) (ScopedFact, error) {
	for _, sf := range scoped {
		if sf.Scope.Name == name {
			return sf, nil
		}
	}
	return ScopedFact{}, NewResolutionError("no scoped fact is bound to scope "+name, nil).
		WithCode(ErrCodeScopeNotFound).
		WithDetail("scope", name)
}

func containsEqual(facts []models.TypedInstance, fact models.TypedInstance) bool {
	for _, f := range facts {
		if models.Equal(f, fact) {
			return true
		}
	}
	return false
}

// getFact is the shared GetFact implementation over any bag.
func getFact(bag FactBag, t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) (models.TypedInstance, error) {
	if fact := bag.GetFactOrNil(t, strategy, validity); fact != nil {
		return fact, nil
	}
	return nil, NewResolutionError("no fact could be resolved", nil).
		WithType(t.Name).
		WithStrategy(strategy).
		WithOperation("GetFact")
}
