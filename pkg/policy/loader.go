package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// decisionRules are the rules Evaluate reads from a policy's package document.
var decisionRules = map[string]bool{"valid": true, "deny": true}

// Loader reads validity policies from .rego files, single-policy .json
// files and .json bundles. Parsed files are cached until their
// modification time changes.
type Loader struct {
	logger zerolog.Logger
	events *telemetry.EventPublisher

	mu    sync.Mutex
	cache map[string]cachedFile
}

type cachedFile struct {
	modTime  time.Time
	policies []Policy
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger,
		cache:  make(map[string]cachedFile),
	}
}

// SetEventPublisher publishes a policy.reloaded event after each reload.
func (l *Loader) SetEventPublisher(events *telemetry.EventPublisher) {
	l.events = events
}

// LoadFromPaths loads policies from files and directories. A file named
// explicitly must load; broken files inside a directory are logged and
// skipped. Policy names must be unique across all paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	origin := make(map[string]string)

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range policies {
			src, _ := p.Metadata["source"].(string)
			if prev, dup := origin[p.Name]; dup {
				if prev == src {
					continue
				}
				return nil, fmt.Errorf("policy %s is defined in both %s and %s", p.Name, prev, src)
			}
			origin[p.Name] = src
			all = append(all, p)
		}
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return l.loadFromFile(ctx, path)
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(p) {
			return nil
		}
		loaded, err := l.loadFromFile(ctx, p)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", p).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(ctx context.Context, path string) ([]Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.policies, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err := parseRegoFile(path, data, info.ModTime())
		if err != nil {
			return nil, err
		}
		policies = []Policy{*p}
	case ".json":
		policies, err = l.parseJSONFile(path, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = cachedFile{modTime: info.ModTime(), policies: policies}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Int("policies", len(policies)).
		Msg("Policy file parsed")

	return policies, nil
}

// checkModule parses rego and makes sure its package defines a valid or
// deny rule. A module without either would accept every candidate.
func checkModule(name, rego string) error {
	module, err := ast.ParseModule(name, rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", name, err)
	}
	if module == nil {
		return fmt.Errorf("policy %s is empty", name)
	}
	for _, rule := range module.Rules {
		ref := rule.Head.Ref()
		if len(ref) == 0 {
			continue
		}
		if v, ok := ref[0].Value.(ast.Var); ok && decisionRules[string(v)] {
			return nil
		}
	}
	return fmt.Errorf("policy %s defines neither a valid nor a deny rule in package %s",
		name, strings.TrimPrefix(module.Package.Path.String(), "data."))
}

// parseRegoFile names the policy after the file; leading comments become
// its description.
func parseRegoFile(path string, data []byte, modTime time.Time) (*Policy, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	if err := checkModule(name, string(data)); err != nil {
		return nil, err
	}
	return &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Enabled:     true,
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   modTime,
		UpdatedAt:   modTime,
	}, nil
}

// jsonPolicy distinguishes an omitted enabled field from false.
type jsonPolicy struct {
	Policy
	Enabled *bool `json:"enabled"`
}

func (jp jsonPolicy) resolve(path string, now time.Time) (Policy, error) {
	p := jp.Policy
	p.Enabled = jp.Enabled == nil || *jp.Enabled
	if p.Name == "" || p.Rego == "" {
		return Policy{}, fmt.Errorf("policy in %s requires a name and rego", path)
	}
	if err := checkModule(p.Name, p.Rego); err != nil {
		return Policy{}, err
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]interface{})
	}
	p.Metadata["source"] = path
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return p, nil
}

// parseJSONFile reads either one policy or a bundle; a document with a
// policies array is a bundle.
func (l *Loader) parseJSONFile(path string, data []byte) ([]Policy, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if _, ok := probe["policies"]; ok {
		bundle, err := l.parseBundle(path, data)
		if err != nil {
			return nil, err
		}
		return bundle.Policies, nil
	}

	var jp jsonPolicy
	if err := json.Unmarshal(data, &jp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	p, err := jp.resolve(path, time.Now())
	if err != nil {
		return nil, err
	}
	return []Policy{p}, nil
}

// LoadBundle reads a policy bundle. Every policy is checked like a
// standalone file and tagged with the bundle name and version.
func (l *Loader) LoadBundle(ctx context.Context, path string) (*PolicyBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return l.parseBundle(path, data)
}

func (l *Loader) parseBundle(path string, data []byte) (*PolicyBundle, error) {
	var raw struct {
		PolicyBundle
		Policies []jsonPolicy `json:"policies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	bundle := raw.PolicyBundle
	if bundle.Name == "" {
		bundle.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = time.Now()
	}

	bundle.Policies = make([]Policy, 0, len(raw.Policies))
	seen := make(map[string]bool, len(raw.Policies))
	for i, jp := range raw.Policies {
		if jp.CreatedAt.IsZero() {
			jp.CreatedAt = bundle.CreatedAt
		}
		p, err := jp.resolve(path, bundle.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("bundle %s policy %d: %w", bundle.Name, i, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("bundle %s defines policy %s twice", bundle.Name, p.Name)
		}
		seen[p.Name] = true
		p.Tags = append(p.Tags, "bundle:"+bundle.Name)
		p.Metadata["bundle"] = bundle.Name
		if bundle.Version != "" {
			p.Metadata["bundle_version"] = bundle.Version
		}
		bundle.Policies = append(bundle.Policies, p)
	}

	l.logger.Info().
		Str("bundle", bundle.Name).
		Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).
		Msg("Policy bundle loaded")

	return &bundle, nil
}

func extractDescription(content string) string {
	var description strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && description.Len() > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" || strings.HasPrefix(comment, "package") {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}
	return description.String()
}

// Watch reloads the policies under paths whenever one of their files
// changes, passing the complete reloaded set to apply. It blocks until ctx
// is done. Every reload publishes one policy.reloaded event per path,
// carrying the error when loading or applying failed.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := config.NewWatcher(l.logger, 0)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(paths...); err != nil {
		return err
	}

	l.logger.Info().Strs("paths", paths).Msg("Watching policy paths")

	return watcher.Run(ctx, func(ctx context.Context, changed []string) error {
		l.logger.Debug().Strs("files", changed).Msg("Policy files changed")
		return l.reload(ctx, paths, apply)
	})
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err == nil {
		err = apply(policies)
	}
	for _, path := range paths {
		if pubErr := l.events.PublishPolicyReloaded(path, err); pubErr != nil {
			l.logger.Debug().Err(pubErr).Msg("Policy reload event dropped")
		}
	}
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}
