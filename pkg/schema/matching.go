package schema

import "fmt"

// TypeMatcher decides whether a candidate type satisfies a requested type.
type TypeMatcher interface {
	// ID identifies the matcher inside search cache keys.
	ID() string
	Matches(requested, candidate *Type) bool
}

type typeMatcher struct {
	id      string
	matches func(requested, candidate *Type) bool
}

func (m typeMatcher) ID() string { return m.id }

func (m typeMatcher) Matches(requested, candidate *Type) bool {
	return m.matches(requested, candidate)
}

func (m typeMatcher) String() string { return m.id }

var (
	// AllowInheritedTypes accepts the requested type and any of its subtypes.
	AllowInheritedTypes TypeMatcher = typeMatcher{
		id: "ALLOW_INHERITED_TYPES",
		matches: func(requested, candidate *Type) bool {
			return candidate.IsAssignableTo(requested)
		},
	}

	// ExactMatch accepts only the requested type itself.
	ExactMatch TypeMatcher = typeMatcher{
		id: "EXACT_MATCH",
		matches: func(requested, candidate *Type) bool {
			return requested == candidate
		},
	}

	// MatchOnCollectionType accepts members of a requested collection: a
	// request for T[] matches candidates assignable to T.
	MatchOnCollectionType TypeMatcher = typeMatcher{
		id: "MATCH_ON_COLLECTION_TYPE",
		matches: func(requested, candidate *Type) bool {
			return requested.IsCollection() && candidate.IsAssignableTo(requested.Element)
		},
	}
)

// Or accepts a candidate when either matcher does.
func Or(a, b TypeMatcher) TypeMatcher {
	return typeMatcher{
		id: fmt.Sprintf("%s|%s", a.ID(), b.ID()),
		matches: func(requested, candidate *Type) bool {
			return a.Matches(requested, candidate) || b.Matches(requested, candidate)
		},
	}
}
