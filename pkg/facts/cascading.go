package facts

import (
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// CascadeApproach is how a CascadingFactBag composes its two scopes for one search.
type CascadeApproach int

const (
	// Cascade asks the primary scope and falls back to the secondary only
	// when the primary has no answer.
	Cascade CascadeApproach = iota

	// CombineCollections asks both scopes and concatenates their results, primary first.
	CombineCollections
)

func (a CascadeApproach) String() string {
	if a == CombineCollections {
		return "CombineCollections"
	}
	return "Cascade"
}

// CascadingFactBag is a read-only view over two scopes. Facts of the
// primary scope mask same-typed facts of the secondary scope instead of
// making lookups ambiguous, as a plain Merge would.
type CascadingFactBag struct {
	primary   FactBag
	secondary FactBag
	opts      options
}

// NewCascadingFactBag layers primary over secondary. Without options the
// bag reports to the observer of primary, or of secondary when primary
// has none.
func NewCascadingFactBag(primary, secondary FactBag, opts ...Option) *CascadingFactBag {
	o := newOptions(opts)
	if len(opts) == 0 {
		o = optionsOf(primary)
		if o.observer == nil {
			o = optionsOf(secondary)
		}
	}
	return &CascadingFactBag{primary: primary, secondary: secondary, opts: o}
}

// NewCascadingFactBagFromFacts layers primary over a new bag holding facts.
func NewCascadingFactBagFromFacts(primary FactBag, facts []models.TypedInstance, ts TypeSystem, opts ...Option) *CascadingFactBag {
	return NewCascadingFactBag(primary, NewCopyOnWriteFactBag(facts, ts, opts...), opts...)
}

func optionsOf(bag FactBag) options {
	switch b := bag.(type) {
	case *CopyOnWriteFactBag:
		return b.opts
	case *FieldAndFactBag:
		return b.opts
	case *EmptyFactBag:
		return b.opts
	case *CascadingFactBag:
		return b.opts
	}
	return options{}
}

// Primary returns the inner scope.
func (c *CascadingFactBag) Primary() FactBag { return c.primary }

// Secondary returns the outer scope.
func (c *CascadingFactBag) Secondary() FactBag { return c.secondary }

func cascadingApproach(t *schema.Type, strategy DiscoveryStrategy) CascadeApproach {
	if strategy == AnyDepthAllowMany && t.IsCollection() {
		return CombineCollections
	}
	return Cascade
}

func (c *CascadingFactBag) TypeSystem() TypeSystem {
	return c.primary.TypeSystem()
}

func (c *CascadingFactBag) RootFacts() []models.TypedInstance {
	return append(c.primary.RootFacts(), c.secondary.RootFacts()...)
}

func (c *CascadingFactBag) RootAndScopedFacts() []models.TypedInstance {
	return append(c.RootFacts(), scopedFactsOf(c)...)
}

// ScopedFacts returns the scoped facts of both scopes, primary first, without repeats.
func (c *CascadingFactBag) ScopedFacts() []ScopedFact {
	all := append(c.primary.ScopedFacts(), c.secondary.ScopedFacts()...)
	out := make([]ScopedFact, 0, len(all))
	for _, sf := range all {
		dup := false
		for _, seen := range out {
			if seen.Scope.Name == sf.Scope.Name && seen.Fact == sf.Fact {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, sf)
		}
	}
	return out
}

func (c *CascadingFactBag) ScopedFact(name string) (ScopedFact, error) {
	if sf, err := c.primary.ScopedFact(name); err == nil {
		return sf, nil
	}
	return c.secondary.ScopedFact(name)
}

func (c *CascadingFactBag) Size() int {
	return c.primary.Size() + c.secondary.Size()
}

func (c *CascadingFactBag) IsEmpty() bool {
	return c.primary.IsEmpty() && c.secondary.IsEmpty()
}

func (c *CascadingFactBag) Contains(fact models.TypedInstance) bool {
	return c.primary.Contains(fact) || c.secondary.Contains(fact)
}

// Merge layers other over this bag.
func (c *CascadingFactBag) Merge(other FactBag) FactBag {
	return c.derive(other, c)
}

func (c *CascadingFactBag) MergeFact(fact models.TypedInstance) FactBag {
	return c.derive(c.primary.MergeFact(fact), c.secondary)
}

func (c *CascadingFactBag) Excluding(facts ...models.TypedInstance) FactBag {
	return c.derive(c.primary.Excluding(facts...), c.secondary.Excluding(facts...))
}

func (c *CascadingFactBag) derive(primary, secondary FactBag) *CascadingFactBag {
	return &CascadingFactBag{primary: primary, secondary: secondary, opts: c.opts}
}

func (c *CascadingFactBag) AddFact(models.TypedInstance) (FactBag, error) {
	c.opts.observeUnsupported("AddFact")
	return nil, NewUnsupportedOperationError("AddFact", "CascadingFactBag")
}

func (c *CascadingFactBag) AddFacts([]models.TypedInstance) (FactBag, error) {
	c.opts.observeUnsupported("AddFacts")
	return nil, NewUnsupportedOperationError("AddFacts", "CascadingFactBag")
}

func (c *CascadingFactBag) HasFactOfType(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) bool {
	return c.GetFactOrNil(t, strategy, validity) != nil
}

func (c *CascadingFactBag) GetFact(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) (models.TypedInstance, error) {
	return getFact(c, t, strategy, validity)
}

func (c *CascadingFactBag) GetFactOrNil(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) models.TypedInstance {
	return c.FindFact(findTypeSearch(t, strategy, validity))
}

func (c *CascadingFactBag) FindFact(search FactSearch) models.TypedInstance {
	switch cascadingApproach(search.TargetType, search.Strategy) {
	case CombineCollections:
		return combine(search.TargetType, c.primary.FindFact(search), c.secondary.FindFact(search))
	default:
		if fact := c.primary.FindFact(search); fact != nil {
			return fact
		}
		return c.secondary.FindFact(search)
	}
}

func (c *CascadingFactBag) HasFact(search FactSearch) bool {
	return c.FindFact(search) != nil
}

// BreadthFirstFilter consults the secondary scope only when gathering many.
func (c *CascadingFactBag) BreadthFirstFilter(strategy DiscoveryStrategy, traversal TraversalStrategy, match MatchFunc) []models.TypedInstance {
	matches := c.primary.BreadthFirstFilter(strategy, traversal, match)
	if strategy == AnyDepthAllowMany {
		matches = append(matches, c.secondary.BreadthFirstFilter(strategy, traversal, match)...)
	}
	return matches
}

// combine concatenates two results into one collection of type t, primary
// first. Non-collection results contribute themselves as members; the same
// instance is never repeated.
func combine(t *schema.Type, primary, secondary models.TypedInstance) models.TypedInstance {
	switch {
	case primary == nil && secondary == nil:
		return nil
	case secondary == nil:
		return primary
	case primary == nil:
		return secondary
	}

	_, primaryIsCollection := primary.(*models.TypedCollection)
	_, secondaryIsCollection := secondary.(*models.TypedCollection)
	if !primaryIsCollection || !secondaryIsCollection {
		log.Debug().
			Str("type", t.Name).
			Str("primary", primary.Type().Name).
			Str("secondary", secondary.Type().Name).
			Msg("Combining non-collection results as a list")
	}

	members := models.DistinctByIdentity(append(membersOf(primary), membersOf(secondary)...))
	return models.NewTypedCollection(t, members, models.SingleSourceOrMixed([]models.TypedInstance{primary, secondary}))
}

func membersOf(instance models.TypedInstance) []models.TypedInstance {
	if c, ok := instance.(*models.TypedCollection); ok {
		return c.Members()
	}
	return []models.TypedInstance{instance}
}
