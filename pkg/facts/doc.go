// Package facts resolves semantically typed values ("facts") out of a working set.
//
// # Overview
//
// A FactBag holds an ordered sequence of root facts plus optional scoped
// facts. Callers ask it for the instance matching a requested type; the bag
// searches top-level facts and, depending on the discovery strategy, the
// nested structure beneath them:
//
//  1. TopLevelOnly - the first matching root or scoped fact
//  2. AnyDepthExpectOne - exactly one match anywhere, otherwise not found
//  3. AnyDepthExpectOneDistinct - one match after collapsing duplicates and refining
//  4. AnyDepthAllowMany - every distinct match, flattened into one collection
//
// Not found, including every ambiguous outcome, is a nil result rather than an error.
//
// # Traversal
//
// Deep searches walk the facts breadth-first. A TraversalStrategy decides,
// per node, whether to skip it, expand it fully, or expand only the fields
// through which the requested type can appear. EnterIfHasFieldOfType derives
// that decision from the type system, so branches that cannot hold the
// target are never visited.
//
// # Bag Variants
//
//   - CopyOnWriteFactBag: the primary bag, mutable through AddFact
//   - FieldAndFactBag: a CopyOnWriteFactBag whose facts are also addressable by name
//   - CascadingFactBag: a read-only composition of a primary and a secondary scope
//   - EmptyFactBag: the identity element for Merge
//
// # Caching
//
// Search results are memoized by SearchKey (search name plus strategy).
// Equal names must denote equivalent predicates: the cache never compares
// the predicate functions themselves. Traversal results are memoized by
// TraversalStrategy name under the same contract.
//
// Adding a fact drops every cached "not found" result, drops cached results
// the new fact could change, and clears the traversal cache. A search that
// starts after AddFact returns always observes the new fact.
//
// # Concurrency
//
// Every bag is safe for concurrent searches and additions. Facts live in an
// immutable snapshot swapped atomically on each addition, so readers never
// observe a partially added fact.
package facts
