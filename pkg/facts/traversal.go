package facts

import (
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

// NavigationKind tells a traversal what to do beneath a node.
type NavigationKind int

const (
	// Ignore skips everything beneath the node.
	Ignore NavigationKind = iota

	// FullScan enqueues every child of the node.
	FullScan

	// EvaluateSpecificFields enqueues only the fields named by the instruction's paths.
	EvaluateSpecificFields
)

// String implements fmt.Stringer.
func (k NavigationKind) String() string {
	switch k {
	case Ignore:
		return "Ignore"
	case FullScan:
		return "FullScan"
	case EvaluateSpecificFields:
		return "EvaluateSpecificFields"
	default:
		return "Unknown"
	}
}

// NavigationInstruction is the per-node decision of a TraversalStrategy.
type NavigationInstruction struct {
	Kind  NavigationKind
	Paths []schema.AttributePath
}

var (
	// IgnoreNode skips the subtree.
	IgnoreNode = NavigationInstruction{Kind: Ignore}

	// ScanNode expands every child.
	ScanNode = NavigationInstruction{Kind: FullScan}
)

// EvaluateFields expands only the fields along paths. No paths means Ignore.
func EvaluateFields(paths ...schema.AttributePath) NavigationInstruction {
	if len(paths) == 0 {
		return IgnoreNode
	}
	return NavigationInstruction{Kind: EvaluateSpecificFields, Paths: paths}
}

// Combine unions two instructions: FullScan absorbs everything, Ignore is
// the identity and two field evaluations union their paths.
func (n NavigationInstruction) Combine(other NavigationInstruction) NavigationInstruction {
	switch {
	case n.Kind == FullScan || other.Kind == FullScan:
		return ScanNode
	case n.Kind == Ignore:
		return other
	case other.Kind == Ignore:
		return n
	}

	seen := make(map[string]struct{}, len(n.Paths)+len(other.Paths))
	paths := make([]schema.AttributePath, 0, len(n.Paths)+len(other.Paths))
	for _, p := range append(append([]schema.AttributePath(nil), n.Paths...), other.Paths...) {
		key := p.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		paths = append(paths, p)
	}
	return NavigationInstruction{Kind: EvaluateSpecificFields, Paths: paths}
}

// FieldNames returns the distinct first segments of the paths, in order.
// Deeper segments are evaluated again once the traversal reaches the child.
func (n NavigationInstruction) FieldNames() []string {
	seen := make(map[string]struct{}, len(n.Paths))
	names := make([]string, 0, len(n.Paths))
	for _, p := range n.Paths {
		head := p.Head()
		if head == "" {
			continue
		}
		if _, dup := seen[head]; dup {
			continue
		}
		seen[head] = struct{}{}
		names = append(names, head)
	}
	return names
}

// TraversalStrategy decides how a breadth-first walk descends. Traversal
// results are cached by Name, so strategies sharing a name must decide identically.
type TraversalStrategy struct {
	Name        string
	Instruction func(models.TypedInstance) NavigationInstruction
}

// FullScanStrategy visits every node.
var FullScanStrategy = TraversalStrategy{
	Name:        "FullScan",
	Instruction: func(models.TypedInstance) NavigationInstruction { return ScanNode },
}

// EnterIfHasFieldOfType descends only into nodes whose declared type could
// hold a value of searchType.
func EnterIfHasFieldOfType(ts TypeSystem, searchType *schema.Type) TraversalStrategy {
	return TraversalStrategy{
		Name: "EnterIfHasFieldOfType(" + searchType.Name + ")",
		Instruction: func(instance models.TypedInstance) NavigationInstruction {
			if instance.Type().Closed {
				return IgnoreNode
			}
			return pruneFor(ts, searchType, instance.Type())
		},
	}
}

func pruneFor(ts TypeSystem, searchType, declared *schema.Type) NavigationInstruction {
	switch {
	case searchType.IsAny() || searchType.IsEnum():
		// Enum matches may surface as synonyms, which field paths cannot predict.
		return ScanNode
	case searchType.IsCollection():
		return pruneForType(ts, searchType, declared).
			Combine(pruneFor(ts, searchType.ElementType(), declared))
	default:
		return pruneForType(ts, searchType, declared)
	}
}

func pruneForType(ts TypeSystem, searchType, declared *schema.Type) NavigationInstruction {
	switch {
	case declared.IsAny():
		return ScanNode
	case declared.IsObject():
		if declared.Closed {
			return IgnoreNode
		}
		return EvaluateFields(ts.AttributePathsTo(declared, searchType)...)
	case declared.IsCollection():
		elem := declared.ElementType()
		if elem.IsAny() || couldBe(elem, searchType) {
			return ScanNode
		}
		if pruneForType(ts, searchType, elem).Kind != Ignore {
			return ScanNode
		}
		return IgnoreNode
	default:
		return IgnoreNode
	}
}

// couldBe reports whether an instance declared as declared may itself be a
// match for searchType.
func couldBe(declared, searchType *schema.Type) bool {
	return declared.IsAssignableTo(searchType) ||
		searchType.IsAssignableTo(declared) ||
		(searchType.IsCollection() && declared.IsAssignableTo(searchType.ElementType()))
}

type enumKey struct {
	typ    *schema.Type
	name   string
	source models.DataSource
}

// walk visits facts breadth-first beneath a synthetic Any[] root and returns
// every visited node except the root, shallowest first. Each instance is
// visited at most once; synonym chains are cut when an enum value repeats.
func walk(facts []models.TypedInstance, anyType *schema.Type, traversal TraversalStrategy) []models.TypedInstance {
	root := models.NewTypedCollection(anyType.CollectionType(), facts, models.MixedSources)

	visited := map[models.TypedInstance]struct{}{}
	seenEnums := map[enumKey]struct{}{}
	queue := []models.TypedInstance{root}
	var out []models.TypedInstance

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, ok := visited[node]; ok {
			continue
		}
		visited[node] = struct{}{}
		if node != models.TypedInstance(root) {
			out = append(out, node)
		}

		var children []models.TypedInstance
		switch instruction := traversal.Instruction(node); instruction.Kind {
		case Ignore:
			continue
		case FullScan:
			children = models.Children(node)
		case EvaluateSpecificFields:
			children = models.FieldChildren(node, instruction.FieldNames())
		}

		if enum, ok := node.(*models.TypedEnumValue); ok {
			seenEnums[enumKey{typ: enum.Type(), name: enum.Name(), source: enum.Source()}] = struct{}{}
			children = unseenSynonyms(children, seenEnums)
		}
		for _, child := range children {
			if child != nil {
				queue = append(queue, child)
			}
		}
	}
	return out
}

func unseenSynonyms(synonyms []models.TypedInstance, seen map[enumKey]struct{}) []models.TypedInstance {
	out := synonyms[:0:0]
	for _, s := range synonyms {
		enum, ok := s.(*models.TypedEnumValue)
		if !ok {
			out = append(out, s)
			continue
		}
		key := enumKey{typ: enum.Type(), name: enum.Name(), source: enum.Source()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func filterNodes(nodes []models.TypedInstance, match MatchFunc) []models.TypedInstance {
	var out []models.TypedInstance
	for _, n := range nodes {
		if match(n) {
			out = append(out, n)
		}
	}
	return out
}
