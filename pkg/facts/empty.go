package facts

import (
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// EmptyFactBag holds no facts. It is the identity element of Merge.
type EmptyFactBag struct {
	ts   TypeSystem
	opts options
}

// NewEmptyFactBag returns an empty bag. Bags built from it by MergeFact use ts and opts.
func NewEmptyFactBag(ts TypeSystem, opts ...Option) *EmptyFactBag {
	return &EmptyFactBag{ts: ts, opts: newOptions(opts)}
}

func (e *EmptyFactBag) TypeSystem() TypeSystem                     { return e.ts }
func (e *EmptyFactBag) RootFacts() []models.TypedInstance          { return nil }
func (e *EmptyFactBag) RootAndScopedFacts() []models.TypedInstance { return nil }
func (e *EmptyFactBag) ScopedFacts() []ScopedFact                  { return nil }
func (e *EmptyFactBag) Size() int                                  { return 0 }
func (e *EmptyFactBag) IsEmpty() bool                              { return true }
func (e *EmptyFactBag) Contains(models.TypedInstance) bool         { return false }

func (e *EmptyFactBag) ScopedFact(name string) (ScopedFact, error) {
	return findScopedFact(nil, name)
}

// Merge returns other unchanged.
func (e *EmptyFactBag) Merge(other FactBag) FactBag {
	return other
}

func (e *EmptyFactBag) MergeFact(fact models.TypedInstance) FactBag {
	return newCopyOnWriteFactBag([]models.TypedInstance{fact}, nil, e.ts, e.opts)
}

func (e *EmptyFactBag) Excluding(...models.TypedInstance) FactBag {
	return e
}

func (e *EmptyFactBag) AddFact(models.TypedInstance) (FactBag, error) {
	e.opts.observeUnsupported("AddFact")
	return nil, NewUnsupportedOperationError("AddFact", "EmptyFactBag")
}

func (e *EmptyFactBag) AddFacts([]models.TypedInstance) (FactBag, error) {
	e.opts.observeUnsupported("AddFacts")
	return nil, NewUnsupportedOperationError("AddFacts", "EmptyFactBag")
}

func (e *EmptyFactBag) HasFactOfType(*schema.Type, DiscoveryStrategy, ValidityPredicate) bool {
	return false
}

func (e *EmptyFactBag) GetFact(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) (models.TypedInstance, error) {
	return getFact(e, t, strategy, validity)
}

func (e *EmptyFactBag) GetFactOrNil(*schema.Type, DiscoveryStrategy, ValidityPredicate) models.TypedInstance {
	return nil
}

func (e *EmptyFactBag) FindFact(FactSearch) models.TypedInstance { return nil }
func (e *EmptyFactBag) HasFact(FactSearch) bool                  { return false }

func (e *EmptyFactBag) BreadthFirstFilter(DiscoveryStrategy, TraversalStrategy, MatchFunc) []models.TypedInstance {
	return nil
}
