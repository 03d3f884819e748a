package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/stores"
)

const filmSchema = `types:
  - name: Title
    inherits: [String]
  - name: ImdbScore
    inherits: [Decimal]
  - name: Film
    fields:
      - name: title
        type: Title
      - name: imdbScore
        type: ImdbScore
`

const filmsDataset = `name: films
facts:
  - type: Film
    value: {title: Jaws, imdbScore: 8.1}
  - type: Film
    value: {title: Alien, imdbScore: 7.9}
`

type workspace struct {
	dir    string
	schema string
	cfg    *config.CatalogConfig
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultCatalogConfig()
	cfg.Store.Path = filepath.Join(dir, ".catalog", "catalog.db")
	cfg.Search.Timeout = 0

	w := &workspace{dir: dir, cfg: cfg}
	w.schema = w.write(t, "films.yaml", filmSchema)
	return w
}

func (w *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (w *workspace) search(t *testing.T, opts searchOptions) []SearchResult {
	t.Helper()
	if opts.Strategy == "" {
		opts.Strategy = "any-depth-expect-one"
	}
	s, err := newSearcher(context.Background(), w.cfg, opts)
	require.NoError(t, err)
	results, err := s.runWithTimeout(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(opts.Types))
	return results
}

func TestSearch_FactFile(t *testing.T) {
	w := newWorkspace(t)
	jaws := w.write(t, "jaws.yaml", "title: Jaws\nimdbScore: 8.1\n")

	results := w.search(t, searchOptions{
		Schemas: []string{w.schema},
		Facts:   []string{"Film=" + jaws},
		Types:   []string{"Title", "ImdbScore"},
	})

	assert.True(t, results[0].Found)
	assert.Equal(t, "Jaws", results[0].Value)
	require.NotNil(t, results[0].Source)
	assert.Equal(t, models.SourceProvided, results[0].Source.Kind)
	assert.Equal(t, "ANY_DEPTH_EXPECT_ONE", results[0].Strategy)

	assert.True(t, results[1].Found)
	assert.Equal(t, "ImdbScore", results[1].Type)
}

func TestSearch_Strategies(t *testing.T) {
	w := newWorkspace(t)
	dataset := w.write(t, "dataset.yaml", filmsDataset)

	tests := []struct {
		name      string
		strategy  string
		wantFound bool
		want      any
	}{
		{"two titles are ambiguous", "any-depth-expect-one", false, nil},
		{"titles are not top level", "top-level-only", false, nil},
		{"allow many collects every title", "any-depth-allow-many", true, []any{"Jaws", "Alien"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := w.search(t, searchOptions{
				Schemas:  []string{w.schema},
				Datasets: []string{dataset},
				Types:    []string{"Title"},
				Strategy: tt.strategy,
			})
			assert.Equal(t, tt.wantFound, results[0].Found)
			if tt.want != nil {
				assert.ElementsMatch(t, tt.want, results[0].Value)
			}
		})
	}
}

func TestSearch_WhereNarrowsCandidates(t *testing.T) {
	w := newWorkspace(t)
	dataset := w.write(t, "dataset.yaml", filmsDataset)

	results := w.search(t, searchOptions{
		Schemas:  []string{w.schema},
		Datasets: []string{dataset},
		Types:    []string{"Film"},
		Where:    `value["imdbScore"] > 8`,
	})

	require.True(t, results[0].Found)
	film, ok := results[0].Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jaws", film["title"])
	assert.Contains(t, results[0].Validity, "STARLARK")
}

func TestSearch_BuiltinPolicy(t *testing.T) {
	w := newWorkspace(t)
	dataset := w.write(t, "mixed.yaml", `facts:
  - type: Title
    value: Lost
    source: failed
  - type: Film
    value: {title: Jaws, imdbScore: 8.1}
`)

	opts := searchOptions{
		Schemas:  []string{w.schema},
		Datasets: []string{dataset},
		Types:    []string{"Title"},
	}
	results := w.search(t, opts)
	assert.False(t, results[0].Found, "failed placeholder makes the search ambiguous")

	opts.Policies = []string{"exclude_failed_sources"}
	results = w.search(t, opts)
	assert.True(t, results[0].Found)
	assert.Equal(t, "Jaws", results[0].Value)
	assert.Contains(t, results[0].Validity, "exclude_failed_sources")
}

func TestSearch_PolicyBundle(t *testing.T) {
	w := newWorkspace(t)
	dataset := w.write(t, "dataset.yaml", filmsDataset)
	bundle := w.write(t, "review.json", `{
  "name": "review",
  "version": "1",
  "policies": [
    {"name": "four_letter_titles", "rego": "package catalog.four_letter_titles\ndeny contains \"too long\" if count(input.value) > 4"}
  ]
}`)

	results := w.search(t, searchOptions{
		Schemas:  []string{w.schema},
		Datasets: []string{dataset},
		Types:    []string{"Title"},
		Policies: []string{bundle},
	})

	require.True(t, results[0].Found)
	assert.Equal(t, "Jaws", results[0].Value)
	assert.Contains(t, results[0].Validity, "four_letter_titles")
}

func TestSearch_ScopedFactsWin(t *testing.T) {
	w := newWorkspace(t)
	dataset := w.write(t, "dataset.yaml", filmsDataset)
	scoped := w.write(t, "scoped.yaml", "Psycho\n")

	results := w.search(t, searchOptions{
		Schemas:  []string{w.schema},
		Datasets: []string{dataset},
		Scopes:   []string{"Title=" + scoped},
		Types:    []string{"Title"},
		Strategy: "top-level-only",
	})

	require.True(t, results[0].Found)
	assert.Equal(t, "Psycho", results[0].Value)
}

func TestSearch_StoredDataset(t *testing.T) {
	w := newWorkspace(t)
	ctx := withConfig(context.Background(), w.cfg)

	doc, err := schema.ParseDocument([]byte(filmSchema))
	require.NoError(t, err)
	record, err := stores.NewSchemaRecord("films", "yaml", doc)
	require.NoError(t, err)

	store, err := openStore(ctx, w.cfg)
	require.NoError(t, err)
	require.NoError(t, store.SaveSchema(ctx, record))
	require.NoError(t, store.Close())

	jaws := w.write(t, "jaws-dataset.yaml", "facts:\n  - type: Film\n    value: {title: Jaws, imdbScore: 8.1}\n")
	dataset, err := importDataset(ctx, jaws, "classics", "films", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.FactCount)
	require.NotNil(t, dataset.SchemaName)

	// The stored dataset brings its schema along.
	results := w.search(t, searchOptions{
		Stored: []string{"classics"},
		Types:  []string{"Title"},
	})
	assert.True(t, results[0].Found)
	assert.Equal(t, "Jaws", results[0].Value)
}

func TestNewSearcher_Errors(t *testing.T) {
	cfg := config.DefaultCatalogConfig()

	_, err := newSearcher(context.Background(), cfg, searchOptions{Strategy: "top-level-only"})
	assert.Error(t, err, "no types")

	_, err = newSearcher(context.Background(), cfg, searchOptions{Types: []string{"Title"}, Strategy: "sideways"})
	assert.Error(t, err)
}

func TestSearch_UnknownType(t *testing.T) {
	w := newWorkspace(t)
	s, err := newSearcher(context.Background(), w.cfg, searchOptions{
		Schemas:  []string{w.schema},
		Types:    []string{"Director"},
		Strategy: "top-level-only",
	})
	require.NoError(t, err)

	_, err = s.run(context.Background())
	assert.Error(t, err)
}

func TestSplitAssignment(t *testing.T) {
	name, path, err := splitAssignment("fact", "Film=films/jaws.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Film", name)
	assert.Equal(t, "films/jaws.yaml", path)

	for _, bad := range []string{"Film", "=jaws.yaml", "Film="} {
		_, _, err := splitAssignment("fact", bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatOfFiles(t *testing.T) {
	assert.Equal(t, "yaml", formatOfFiles([]string{"a.yaml", "b.yml"}))
	assert.Equal(t, "mixed", formatOfFiles([]string{"a.cue", "b.json"}))
	assert.Equal(t, "", formatOfFiles(nil))
}
