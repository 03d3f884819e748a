package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

const shortTitlesRego = `package catalog.short_titles

# Rejects long titles
# Counts characters, not words

deny contains msg if {
	count(input.value) > 10
	msg := "title too long"
}
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return writePolicyFile(t, dir, name, string(data))
}

func TestLoadFromFile_Rego(t *testing.T) {
	path := writePolicyFile(t, t.TempDir(), "short_titles.rego", shortTitlesRego)

	policies, err := newTestLoader().loadFromFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "short_titles", p.Name)
	assert.Equal(t, "Rejects long titles Counts characters, not words", p.Description)
	assert.Equal(t, shortTitlesRego, p.Rego)
	assert.True(t, p.Enabled)
	assert.Equal(t, path, p.Metadata["source"])
}

func TestLoadFromFile_RequiresDecisionRule(t *testing.T) {
	tests := []struct {
		name string
		rego string
		ok   bool
	}{
		{"deny set", "package catalog.a\ndeny contains \"no\" if input.is_null", true},
		{"valid rule", "package catalog.b\ndefault valid := true", true},
		{"valid with helper", "package catalog.c\nshort if count(input.value) < 5\nvalid if short", true},
		{"helpers only", "package catalog.d\nallow if input.value == \"Jaws\"", false},
		{"package only", "package catalog.e", false},
		{"syntax error", "package catalog.f\ndeny contains", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicyFile(t, t.TempDir(), "p.rego", tt.rego)
			_, err := newTestLoader().loadFromFile(context.Background(), path)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader()
	ctx := context.Background()

	path := writeJSON(t, dir, "films.json", map[string]any{
		"name":        "good_films",
		"description": "Well rated films only",
		"rego":        "package catalog.good_films\ndeny contains \"low score\" if input.value.imdbScore < 7",
		"tags":        []string{"films"},
	})
	policies, err := loader.loadFromFile(ctx, path)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "good_films", policies[0].Name)
	assert.True(t, policies[0].Enabled, "omitted enabled means enabled")
	assert.Equal(t, []string{"films"}, policies[0].Tags)

	path = writeJSON(t, dir, "off.json", map[string]any{
		"name":    "off",
		"rego":    "package catalog.off\ndefault valid := false",
		"enabled": false,
	})
	policies, err = loader.loadFromFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, policies[0].Enabled)

	path = writePolicyFile(t, dir, "empty.json", `{"name": "empty"}`)
	_, err = loader.loadFromFile(ctx, path)
	assert.Error(t, err, "rego is required")

	path = writeJSON(t, dir, "lazy.json", map[string]any{"name": "lazy", "rego": "package catalog.lazy\nx := 1"})
	_, err = loader.loadFromFile(ctx, path)
	assert.Error(t, err, "no valid or deny rule")
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	path := writeJSON(t, dir, "review.json", map[string]any{
		"name":    "review",
		"version": "1.2.0",
		"policies": []map[string]any{
			{"name": "has_title", "rego": "package catalog.has_title\ndeny contains \"missing title\" if not input.value.title"},
			{"name": "not_null", "rego": "package catalog.not_null\nvalid := false if input.is_null", "enabled": false},
		},
	})

	bundle, err := newTestLoader().LoadBundle(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "review", bundle.Name)
	require.Len(t, bundle.Policies, 2)

	p := bundle.Policies[0]
	assert.Equal(t, "has_title", p.Name)
	assert.True(t, p.Enabled)
	assert.Contains(t, p.Tags, "bundle:review")
	assert.Equal(t, "1.2.0", p.Metadata["bundle_version"])
	assert.False(t, bundle.Policies[1].Enabled)
}

func TestLoadBundle_Invalid(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader()
	ctx := context.Background()

	dup := writeJSON(t, dir, "dup.json", map[string]any{
		"policies": []map[string]any{
			{"name": "a", "rego": "package catalog.a\ndefault valid := true"},
			{"name": "a", "rego": "package catalog.a\ndefault valid := true"},
		},
	})
	_, err := loader.LoadBundle(ctx, dup)
	assert.ErrorContains(t, err, "twice")

	bad := writeJSON(t, dir, "bad.json", map[string]any{
		"name":     "bad",
		"policies": []map[string]any{{"name": "b", "rego": "package catalog.b\nhelper := 1"}},
	})
	_, err = loader.LoadBundle(ctx, bad)
	assert.Error(t, err)

	_, err = loader.LoadBundle(ctx, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "short_titles.rego", shortTitlesRego)
	writePolicyFile(t, dir, "nested/non_null.rego", "package catalog.non_null\nvalid := false if input.is_null")
	writePolicyFile(t, dir, "broken.rego", "package catalog.broken\ndeny contains")
	writePolicyFile(t, dir, "README.md", "# policies")
	bundle := writeJSON(t, t.TempDir(), "bundle.json", map[string]any{
		"name":     "extra",
		"policies": []map[string]any{{"name": "extra", "rego": "package catalog.extra\ndefault valid := true"}},
	})

	loader := newTestLoader()
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, bundle})
	require.NoError(t, err)

	names := make([]string, 0, len(policies))
	for _, p := range policies {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"short_titles", "non_null", "extra"}, names, "broken files in a directory are skipped")

	// The same directory twice contributes each policy once.
	policies, err = loader.LoadFromPaths(context.Background(), []string{dir, dir})
	require.NoError(t, err)
	assert.Len(t, policies, 2)

	_, err = loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "broken.rego")})
	assert.Error(t, err, "an explicit file must load")

	_, err = loader.LoadFromPaths(context.Background(), []string{"/nonexistent/path"})
	assert.Error(t, err)
}

func TestLoadFromPaths_DuplicateNames(t *testing.T) {
	a := writePolicyFile(t, t.TempDir(), "titles.rego", "package catalog.titles\ndefault valid := true")
	b := writePolicyFile(t, t.TempDir(), "titles.rego", "package catalog.titles\ndefault valid := false")

	_, err := newTestLoader().LoadFromPaths(context.Background(), []string{a, b})
	assert.ErrorContains(t, err, "defined in both")
}

func TestLoadFromFile_CacheFollowsModTime(t *testing.T) {
	path := writePolicyFile(t, t.TempDir(), "titles.rego", "package catalog.titles\ndefault valid := true")
	loader := newTestLoader()
	ctx := context.Background()

	first, err := loader.loadFromFile(ctx, path)
	require.NoError(t, err)
	again, err := loader.loadFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	updated := "package catalog.titles\ndefault valid := false"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err := loader.loadFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded[0].Rego)
}

func TestLoadedBundleFeedsEngine(t *testing.T) {
	f := newFixture(t)
	e := newTestEngine(t)
	ctx := context.Background()

	path := writeJSON(t, t.TempDir(), "review.json", map[string]any{
		"name": "review",
		"policies": []map[string]any{
			{"name": "short_titles", "rego": shortTitlesRego},
		},
	})
	require.NoError(t, e.LoadPolicies(ctx, []string{path}))

	d, err := e.Evaluate(ctx, "short_titles", f.instance("Title", "Les Dents de la mer", models.Provided))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"title too long"}, d.Reasons)
}

func TestWatch_ReloadsAndPublishes(t *testing.T) {
	loader := newTestLoader()

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)
	reloaded := make(chan telemetry.Event, 4)
	events.Subscribe(func(e telemetry.Event) { reloaded <- e }, telemetry.FilterByType(telemetry.EventTypePolicyReloaded))
	loader.SetEventPublisher(events)

	dir := t.TempDir()
	path := writePolicyFile(t, dir, "titles.rego", "package catalog.titles\ndeny contains msg if { false; msg := \"never\" }")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	applied := make(chan []Policy, 4)
	done := make(chan error, 1)
	go func() {
		done <- loader.Watch(ctx, []string{dir}, func(p []Policy) error {
			applied <- p
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	updated := "package catalog.titles\ndeny contains msg if { input.is_null; msg := \"null\" }"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case p := <-applied:
		require.Len(t, p, 1)
		assert.Equal(t, updated, p[0].Rego)
	case <-ctx.Done():
		t.Fatal("policies were not reloaded")
	}

	select {
	case e := <-reloaded:
		assert.Equal(t, telemetry.EventLevelInfo, e.Level)
		assert.Equal(t, dir, e.Data["path"])
	case <-ctx.Done():
		t.Fatal("no reload event published")
	}

	cancel()
	assert.NoError(t, <-done)
}
