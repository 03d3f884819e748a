package facts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
)

const catalogSchema = `
types:
  - name: FirstName
    inherits: [String]
  - name: AgentName
    inherits: [String]
  - name: Title
    inherits: [String]
  - name: ImdbScore
    inherits: [Decimal]
  - name: City
    inherits: [String]
  - name: Address
    fields:
      - {name: city, type: City}
  - name: Person
    fields:
      - {name: name, type: FirstName}
      - {name: address, type: Address}
  - name: Actor
    inherits: [Person]
    fields:
      - {name: agentName, type: AgentName}
  - name: Film
    fields:
      - {name: title, type: Title}
      - {name: cast, type: "Actor[]"}
      - {name: imdbScore, type: ImdbScore}
  - name: Catalog
    fields:
      - {name: films, type: "Film[]"}
  - name: Vault
    closed: true
    fields:
      - {name: owner, type: Person}
  - name: Country
    enum:
      - {name: NZ, synonyms: [IsoCountry.NZL]}
      - {name: UK, synonyms: [IsoCountry.GBR]}
  - name: IsoCountry
    enum:
      - {name: NZL}
      - {name: GBR}
  - name: Residence
    fields:
      - {name: country, type: Country}
`

type fixture struct {
	t      *testing.T
	schema *schema.Schema
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	doc, err := schema.ParseDocument([]byte(catalogSchema))
	require.NoError(t, err)
	s, err := schema.Build(doc)
	require.NoError(t, err)
	return &fixture{t: t, schema: s}
}

func (f *fixture) typ(name string) *schema.Type {
	f.t.Helper()
	t, err := f.schema.Type(name)
	require.NoError(f.t, err)
	return t
}

func (f *fixture) instance(typeName string, raw any) models.TypedInstance {
	f.t.Helper()
	inst, err := models.FromValue(f.typ(typeName), raw, models.Provided)
	require.NoError(f.t, err)
	return inst
}

func (f *fixture) bag(facts ...models.TypedInstance) *CopyOnWriteFactBag {
	return NewCopyOnWriteFactBag(facts, f.schema)
}

func (f *fixture) person(name, city string) models.TypedInstance {
	raw := map[string]any{}
	if name != "" {
		raw["name"] = name
	}
	if city != "" {
		raw["address"] = map[string]any{"city": city}
	}
	return f.instance("Person", raw)
}

// filmCatalog mirrors a catalog of two films, each with two actors.
func (f *fixture) filmCatalog() models.TypedInstance {
	return f.instance("Catalog", map[string]any{
		"films": []any{
			map[string]any{
				"title":     "Star Wars",
				"imdbScore": 5.5,
				"cast": []any{
					map[string]any{"name": "Mark", "agentName": "Jack"},
					map[string]any{"name": "Carrie", "agentName": "Jimmy"},
				},
			},
			map[string]any{
				"title":     "Empire Strikes Back",
				"imdbScore": 2.5,
				"cast": []any{
					map[string]any{"name": "Harrison", "agentName": "Johnny"},
					map[string]any{"name": "Billy", "agentName": "Jane"},
				},
			},
		},
	})
}

func rawOf(instance models.TypedInstance) any {
	if instance == nil {
		return nil
	}
	return models.ToRaw(instance)
}

type searchObservation struct {
	strategy string
	outcome  string
	cached   bool
}

type recordingObserver struct {
	mu            sync.Mutex
	searches      []searchObservation
	traversals    int
	added         int
	invalidations map[string]int
	unsupported   []string
}

func (r *recordingObserver) ObserveSearch(strategy, outcome string, cached bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches = append(r.searches, searchObservation{strategy: strategy, outcome: outcome, cached: cached})
}

func (r *recordingObserver) ObserveTraversal(string, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traversals++
}

func (r *recordingObserver) ObserveFactsAdded(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added += count
}

func (r *recordingObserver) ObserveCacheInvalidation(cache string, entries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invalidations == nil {
		r.invalidations = make(map[string]int)
	}
	r.invalidations[cache] += entries
}

func (r *recordingObserver) ObserveUnsupportedOperation(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsupported = append(r.unsupported, operation)
}

type recordingSink struct {
	mu       sync.Mutex
	added    []string
	resolved []string
}

func (r *recordingSink) PublishFactAdded(typeName, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, typeName)
	return nil
}

func (r *recordingSink) PublishSearchResolved(_, _, outcome string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, outcome)
	return nil
}
