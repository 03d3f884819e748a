package facts

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

func TestNavigationInstruction_Combine(t *testing.T) {
	name := schema.AttributePath{"name"}
	city := schema.AttributePath{"address", "city"}
	street := schema.AttributePath{"address", "street"}

	tests := []struct {
		name  string
		left  NavigationInstruction
		right NavigationInstruction
		want  NavigationInstruction
	}{
		{name: "ignore is identity", left: IgnoreNode, right: EvaluateFields(name), want: EvaluateFields(name)},
		{name: "identity on the right", left: EvaluateFields(city), right: IgnoreNode, want: EvaluateFields(city)},
		{name: "full scan absorbs", left: EvaluateFields(name), right: ScanNode, want: ScanNode},
		{name: "full scan absorbs ignore", left: ScanNode, right: IgnoreNode, want: ScanNode},
		{name: "paths are unioned", left: EvaluateFields(name, city), right: EvaluateFields(city, street), want: EvaluateFields(name, city, street)},
		{name: "ignore with ignore", left: IgnoreNode, right: IgnoreNode, want: IgnoreNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.left.Combine(tt.right)); diff != "" {
				t.Errorf("Combine() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNavigationInstruction_FieldNames(t *testing.T) {
	instruction := EvaluateFields(
		schema.AttributePath{"address", "city"},
		schema.AttributePath{"name"},
		schema.AttributePath{"address", "street"},
	)
	assert.Equal(t, []string{"address", "name"}, instruction.FieldNames())
	assert.Equal(t, Ignore, EvaluateFields().Kind)
}

func TestEnterIfHasFieldOfType_Decisions(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		search   string
		instance models.TypedInstance
		want     NavigationKind
	}{
		{search: "City", instance: f.person("Alice", "Rome"), want: EvaluateSpecificFields},
		{search: "Title", instance: f.person("Alice", "Rome"), want: Ignore},
		{search: "Any", instance: f.person("Alice", "Rome"), want: FullScan},
		{search: "Country", instance: f.person("Alice", "Rome"), want: FullScan},
		{search: "FirstName", instance: f.instance("Vault", map[string]any{"owner": map[string]any{"name": "Al"}}), want: Ignore},
		{search: "FirstName", instance: f.instance("FirstName", "Al"), want: Ignore},
	}
	for _, tt := range tests {
		t.Run(tt.search+"/"+tt.instance.Type().Name, func(t *testing.T) {
			traversal := EnterIfHasFieldOfType(f.schema, f.typ(tt.search))
			assert.Equal(t, tt.want, traversal.Instruction(tt.instance).Kind)
		})
	}
}

func TestWalk_PrunesBranchesThatCannotHoldTheTarget(t *testing.T) {
	f := newFixture(t)
	catalog := f.filmCatalog()

	pruned := walk([]models.TypedInstance{catalog}, f.schema.AnyType(), EnterIfHasFieldOfType(f.schema, f.typ("ImdbScore")))
	full := walk([]models.TypedInstance{catalog}, f.schema.AnyType(), FullScanStrategy)

	require.Less(t, len(pruned), len(full))
	for _, node := range pruned {
		assert.NotEqual(t, "Actor", node.Type().Name, "actors cannot hold an ImdbScore")
	}

	var scores []any
	for _, node := range pruned {
		if node.Type() == f.typ("ImdbScore") {
			scores = append(scores, rawOf(node))
		}
	}
	assert.Len(t, scores, 2)
}

func TestWalk_VisitsEachInstanceOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.instance("FirstName", "Alice")
	nodes := walk([]models.TypedInstance{alice, alice}, f.schema.AnyType(), FullScanStrategy)
	assert.Len(t, nodes, 1)
	assert.Same(t, alice, nodes[0])
}

func TestWalk_CutsSynonymCycles(t *testing.T) {
	f := newFixture(t)
	nz := f.instance("Country", "NZ")
	nodes := walk([]models.TypedInstance{nz}, f.schema.AnyType(), FullScanStrategy)

	var names []string
	for _, n := range nodes {
		names = append(names, n.Type().Name+"."+n.(*models.TypedEnumValue).Name())
	}
	assert.Equal(t, []string{"Country.NZ", "IsoCountry.NZL"}, names)
}

func TestParseDiscoveryStrategy(t *testing.T) {
	for _, s := range Strategies() {
		parsed, err := ParseDiscoveryStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	parsed, err := ParseDiscoveryStrategy(" any-depth-allow-many ")
	require.NoError(t, err)
	assert.Equal(t, AnyDepthAllowMany, parsed)

	_, err = ParseDiscoveryStrategy("sideways")
	assert.Error(t, err)
}

func TestFindType_NameIncludesPredicates(t *testing.T) {
	f := newFixture(t)
	plain := FindType(f.typ("City"), AnyDepthExpectOne, nil, nil)
	excluding := FindType(f.typ("City"), AnyDepthExpectOne, ExcludeFailedSources, nil)
	exact := FindType(f.typ("City"), AnyDepthExpectOne, nil, schema.ExactMatch)

	assert.NotEqual(t, plain.Key(), excluding.Key())
	assert.NotEqual(t, plain.Key(), exact.Key())
	assert.Equal(t, plain.Key(), FindType(f.typ("City"), AnyDepthExpectOne, AlwaysValid, schema.AllowInheritedTypes).Key())
	assert.Contains(t, plain.String(), "ANY_DEPTH_EXPECT_ONE")
}
