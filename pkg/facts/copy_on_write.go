package facts

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// factState is an immutable snapshot of a bag's root facts.
type factState struct {
	facts      []models.TypedInstance
	generation uint64
}

// searchEntry is a memoized search result, trusted only at its generation.
type searchEntry struct {
	search     FactSearch
	result     resolution
	generation uint64
}

type traversalEntry struct {
	nodes      []models.TypedInstance
	generation uint64
}

// CopyOnWriteFactBag is the primary FactBag. Root facts live in an
// immutable snapshot replaced on every addition; searches and traversals
// are memoized per generation of that snapshot.
type CopyOnWriteFactBag struct {
	ts     TypeSystem
	scoped []ScopedFact
	opts   options

	// writeMu serializes additions; readers never take it.
	writeMu sync.Mutex
	state   atomic.Pointer[factState]

	searches   sync.Map // SearchKey -> *searchEntry
	traversals sync.Map // traversal name -> *traversalEntry
	flight     singleflight.Group
}

// NewCopyOnWriteFactBag creates a bag over facts, in order.
func NewCopyOnWriteFactBag(facts []models.TypedInstance, ts TypeSystem, opts ...Option) *CopyOnWriteFactBag {
	return newCopyOnWriteFactBag(facts, nil, ts, newOptions(opts))
}

// NewScopedFactBag creates a bag over facts with additional scoped facts.
func NewScopedFactBag(facts []models.TypedInstance, scoped []ScopedFact, ts TypeSystem, opts ...Option) *CopyOnWriteFactBag {
	return newCopyOnWriteFactBag(facts, scoped, ts, newOptions(opts))
}

func newCopyOnWriteFactBag(facts []models.TypedInstance, scoped []ScopedFact, ts TypeSystem, opts options) *CopyOnWriteFactBag {
	b := &CopyOnWriteFactBag{
		ts:     ts,
		scoped: slices.Clone(scoped),
		opts:   opts,
	}
	b.state.Store(&factState{facts: withoutNil(facts)})
	return b
}

func (b *CopyOnWriteFactBag) TypeSystem() TypeSystem { return b.ts }

func (b *CopyOnWriteFactBag) RootFacts() []models.TypedInstance {
	return slices.Clone(b.state.Load().facts)
}

func (b *CopyOnWriteFactBag) RootAndScopedFacts() []models.TypedInstance {
	return b.rootAndScoped(b.state.Load())
}

func (b *CopyOnWriteFactBag) rootAndScoped(st *factState) []models.TypedInstance {
	out := make([]models.TypedInstance, 0, len(st.facts)+len(b.scoped))
	out = append(out, st.facts...)
	for _, sf := range b.scoped {
		out = append(out, sf.Fact)
	}
	return out
}

func (b *CopyOnWriteFactBag) ScopedFacts() []ScopedFact {
	return slices.Clone(b.scoped)
}

func (b *CopyOnWriteFactBag) ScopedFact(name string) (ScopedFact, error) {
	return findScopedFact(b.scoped, name)
}

func (b *CopyOnWriteFactBag) Size() int {
	return len(b.state.Load().facts) + len(b.scoped)
}

func (b *CopyOnWriteFactBag) IsEmpty() bool {
	return b.Size() == 0
}

func (b *CopyOnWriteFactBag) Contains(fact models.TypedInstance) bool {
	return containsEqual(b.RootAndScopedFacts(), fact)
}

// Copy returns an independent bag with the same facts and empty caches.
func (b *CopyOnWriteFactBag) Copy() *CopyOnWriteFactBag {
	return newCopyOnWriteFactBag(b.state.Load().facts, b.scoped, b.ts, b.opts)
}

func (b *CopyOnWriteFactBag) Merge(other FactBag) FactBag {
	st := b.state.Load()
	facts := append(slices.Clone(st.facts), other.RootFacts()...)
	scoped := append(slices.Clone(b.scoped), other.ScopedFacts()...)
	return newCopyOnWriteFactBag(facts, scoped, b.ts, b.opts)
}

func (b *CopyOnWriteFactBag) MergeFact(fact models.TypedInstance) FactBag {
	facts := append(slices.Clone(b.state.Load().facts), fact)
	return newCopyOnWriteFactBag(facts, b.scoped, b.ts, b.opts)
}

func (b *CopyOnWriteFactBag) Excluding(facts ...models.TypedInstance) FactBag {
	excluded := make(map[models.TypedInstance]struct{}, len(facts))
	for _, f := range facts {
		excluded[f] = struct{}{}
	}
	var kept []models.TypedInstance
	for _, f := range b.state.Load().facts {
		if _, ok := excluded[f]; !ok {
			kept = append(kept, f)
		}
	}
	var scoped []ScopedFact
	for _, sf := range b.scoped {
		if _, ok := excluded[sf.Fact]; !ok {
			scoped = append(scoped, sf)
		}
	}
	return newCopyOnWriteFactBag(kept, scoped, b.ts, b.opts)
}

func (b *CopyOnWriteFactBag) AddFact(fact models.TypedInstance) (FactBag, error) {
	return b.AddFacts([]models.TypedInstance{fact})
}

// AddFacts appends facts, then invalidates caches: the traversal cache is
// cleared, "not found" results are dropped, and found results are kept
// only when none of the added facts could change them.
func (b *CopyOnWriteFactBag) AddFacts(facts []models.TypedInstance) (FactBag, error) {
	added := withoutNil(facts)
	if len(added) == 0 {
		return b, nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	prev := b.state.Load()
	next := &factState{
		facts:      append(slices.Clip(prev.facts), added...),
		generation: prev.generation + 1,
	}
	b.state.Store(next)

	traversals := b.clearTraversals()
	searches := b.invalidateSearches(prev.generation, next.generation, added)

	log.Debug().
		Int("added", len(added)).
		Uint64("generation", next.generation).
		Int("traversals_cleared", traversals).
		Int("searches_dropped", searches).
		Msg("Added facts to bag")

	b.opts.observeFactsAdded(len(added))
	b.opts.observeInvalidation("traversal", traversals)
	b.opts.observeInvalidation("search", searches)
	if b.opts.events != nil {
		for _, f := range added {
			if err := b.opts.events.PublishFactAdded(f.Type().Name, f.Source().String()); err != nil {
				log.Debug().Err(err).Msg("Failed to publish fact added event")
			}
		}
	}
	return b, nil
}

func (b *CopyOnWriteFactBag) clearTraversals() int {
	count := 0
	b.traversals.Range(func(_, _ any) bool {
		count++
		return true
	})
	b.traversals.Clear()
	return count
}

// invalidateSearches drops or re-stamps every entry of generation prev.
// Entries of other generations are left alone: older ones are never trusted
// again and newer ones were computed against the new snapshot.
func (b *CopyOnWriteFactBag) invalidateSearches(prev, next uint64, added []models.TypedInstance) int {
	dropped := 0
	b.searches.Range(func(key, value any) bool {
		entry := value.(*searchEntry)
		switch {
		case entry.generation > prev:
			return true
		case entry.generation < prev,
			entry.result.fact == nil,
			b.additionAffects(entry, added):
			if b.searches.CompareAndDelete(key, value) {
				dropped++
			}
		default:
			b.searches.CompareAndSwap(key, value, &searchEntry{
				search:     entry.search,
				result:     entry.result,
				generation: next,
			})
		}
		return true
	})
	return dropped
}

// additionAffects reports whether a found result could differ once added is part of the bag.
func (b *CopyOnWriteFactBag) additionAffects(entry *searchEntry, added []models.TypedInstance) bool {
	search := entry.search
	if search.Strategy == TopLevelOnly {
		// New root facts precede scoped facts, so only a scoped answer can be displaced.
		if !b.isScopedFact(entry.result.fact) {
			return false
		}
		for _, f := range added {
			if search.Filter.Matches(f) {
				return true
			}
		}
		return false
	}
	traversal := EnterIfHasFieldOfType(b.ts, search.TargetType)
	for _, node := range walk(added, b.ts.AnyType(), traversal) {
		if search.Filter.Matches(node) {
			return true
		}
	}
	return false
}

func (b *CopyOnWriteFactBag) isScopedFact(fact models.TypedInstance) bool {
	for _, sf := range b.scoped {
		if sf.Fact == fact {
			return true
		}
	}
	return false
}

func (b *CopyOnWriteFactBag) HasFactOfType(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) bool {
	return b.GetFactOrNil(t, strategy, validity) != nil
}

func (b *CopyOnWriteFactBag) GetFact(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) (models.TypedInstance, error) {
	return getFact(b, t, strategy, validity)
}

func (b *CopyOnWriteFactBag) GetFactOrNil(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) models.TypedInstance {
	return b.FindFact(findTypeSearch(t, strategy, validity))
}

func (b *CopyOnWriteFactBag) HasFact(search FactSearch) bool {
	return b.FindFact(search) != nil
}

func (b *CopyOnWriteFactBag) FindFact(search FactSearch) models.TypedInstance {
	return b.find(search).fact
}

func (b *CopyOnWriteFactBag) find(search FactSearch) resolution {
	started := time.Now()
	key := search.Key()
	st := b.state.Load()

	if cached, ok := b.searches.Load(key); ok {
		if entry := cached.(*searchEntry); entry.generation == st.generation {
			b.opts.observeSearch(search.Strategy, entry.result.outcome, true, started)
			return entry.result
		}
	}

	// Concurrent identical searches against the same generation share one resolution.
	flightKey := fmt.Sprintf("%d\x00%d\x00%s", st.generation, search.Strategy, search.Name)
	value, _, _ := b.flight.Do(flightKey, func() (any, error) {
		result := search.Strategy.resolve(b, search)
		b.searches.Store(key, &searchEntry{search: search, result: result, generation: st.generation})
		return result, nil
	})
	result := value.(resolution)

	b.opts.observeSearch(search.Strategy, result.outcome, false, started)
	if b.opts.events != nil {
		if err := b.opts.events.PublishSearchResolved(search.Name, search.Strategy.String(), string(result.outcome), result.candidates); err != nil {
			log.Debug().Err(err).Msg("Failed to publish search resolved event")
		}
	}
	return result
}

// SearchIsCached reports whether the type lookup is answered from the
// search cache without resolving again.
func (b *CopyOnWriteFactBag) SearchIsCached(t *schema.Type, strategy DiscoveryStrategy, validity ValidityPredicate) bool {
	return b.searchIsCached(findTypeSearch(t, strategy, validity))
}

func (b *CopyOnWriteFactBag) searchIsCached(search FactSearch) bool {
	cached, ok := b.searches.Load(search.Key())
	if !ok {
		return false
	}
	return cached.(*searchEntry).generation == b.state.Load().generation
}

func (b *CopyOnWriteFactBag) BreadthFirstFilter(strategy DiscoveryStrategy, traversal TraversalStrategy, match MatchFunc) []models.TypedInstance {
	return filterNodes(b.traverse(strategy, traversal), match)
}

func (b *CopyOnWriteFactBag) traverse(strategy DiscoveryStrategy, traversal TraversalStrategy) []models.TypedInstance {
	st := b.state.Load()
	if cached, ok := b.traversals.Load(traversal.Name); ok {
		if entry := cached.(*traversalEntry); entry.generation == st.generation {
			return entry.nodes
		}
	}

	started := time.Now()
	nodes := walk(b.rootAndScoped(st), b.ts.AnyType(), traversal)
	b.traversals.Store(traversal.Name, &traversalEntry{nodes: nodes, generation: st.generation})
	b.opts.observeTraversal(strategy, len(nodes), started)
	return nodes
}

func withoutNil(facts []models.TypedInstance) []models.TypedInstance {
	out := make([]models.TypedInstance, 0, len(facts))
	for _, f := range facts {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}
