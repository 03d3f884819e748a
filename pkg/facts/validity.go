package facts

import "github.com/openfroyo/catalog/pkg/models"

// ValidityPredicate decides whether a candidate fact may be returned.
// ID takes part in search cache keys, so predicates with equal IDs must behave identically.
type ValidityPredicate interface {
	ID() string
	IsValid(instance models.TypedInstance) bool
}

type validityFunc struct {
	id string
	fn func(models.TypedInstance) bool
}

func (v validityFunc) ID() string { return v.id }

func (v validityFunc) IsValid(instance models.TypedInstance) bool { return v.fn(instance) }

// PredicateFunc adapts a function into a ValidityPredicate identified by id.
func PredicateFunc(id string, fn func(models.TypedInstance) bool) ValidityPredicate {
	return validityFunc{id: id, fn: fn}
}

var (
	// AlwaysValid accepts every candidate.
	AlwaysValid = PredicateFunc("ALWAYS_VALID", func(models.TypedInstance) bool { return true })

	// ExcludeFailedSources rejects placeholders left by failed operations.
	ExcludeFailedSources = PredicateFunc("EXCLUDE_FAILED_SOURCES", func(instance models.TypedInstance) bool {
		return !instance.Source().IsFailed()
	})
)

// AllValid combines predicates; a candidate must satisfy every one of them.
func AllValid(predicates ...ValidityPredicate) ValidityPredicate {
	if len(predicates) == 0 {
		return AlwaysValid
	}
	if len(predicates) == 1 {
		return predicates[0]
	}
	id := "ALL("
	for i, p := range predicates {
		if i > 0 {
			id += ","
		}
		id += p.ID()
	}
	id += ")"
	return PredicateFunc(id, func(instance models.TypedInstance) bool {
		for _, p := range predicates {
			if !p.IsValid(instance) {
				return false
			}
		}
		return true
	})
}

func validityOrDefault(v ValidityPredicate) ValidityPredicate {
	if v == nil {
		return AlwaysValid
	}
	return v
}
