package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/catalog/pkg/facts"
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// Engine compiles Rego policies and evaluates them against candidate facts.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	metrics         *telemetry.Metrics
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	revision int
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetMetrics records policy decisions on m. A nil m disables recording.
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// AddPolicy compiles a policy and stores it, replacing any policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStorePolicy(ctx, &policy)
}

// LoadPolicies loads and compiles policy files.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ApplyPolicies(ctx, policies)
}

// ApplyPolicies compiles and stores policies. Nothing is stored unless every
// policy compiles.
func (e *Engine) ApplyPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	for _, cp := range compiled {
		e.put(cp)
	}
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Evaluate evaluates the named policy against a candidate fact.
func (e *Engine) Evaluate(ctx context.Context, name string, instance models.TypedInstance) (*Decision, error) {
	e.mu.RLock()
	cp, exists := e.policies[name]
	metrics := e.metrics
	var enabled bool
	if exists {
		enabled = cp.policy.Enabled
	}
	e.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	startTime := time.Now()
	decision := &Decision{Policy: name, Allowed: true}
	if !enabled {
		return decision, nil
	}

	results, err := cp.query.Eval(ctx, rego.EvalInput(NewInput(instance)))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		doc, ok := result.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		if valid, ok := doc["valid"].(bool); ok && !valid {
			decision.Allowed = false
		}
		if denySet, ok := doc["deny"].([]interface{}); ok {
			for _, d := range denySet {
				decision.Allowed = false
				decision.Reasons = append(decision.Reasons, reason(d))
			}
		}
	}
	decision.Duration = time.Since(startTime)

	metrics.RecordPolicyEvaluation(name, decision.Allowed)
	e.logger.Trace().
		Str("policy", name).
		Str("type", instance.Type().Name).
		Bool("allowed", decision.Allowed).
		Dur("duration", decision.Duration).
		Msg("Policy evaluated")

	return decision, nil
}

// NewInput builds the policy input document for a candidate.
func NewInput(instance models.TypedInstance) *Input {
	return &Input{
		Value:    models.ToRaw(instance),
		Type:     instance.Type().Name,
		Inherits: supertypes(instance.Type()),
		Source:   instance.Source(),
		IsNull:   models.IsNull(instance),
		Context: &Context{
			Timestamp: time.Now(),
			Operation: "search",
		},
	}
}

func supertypes(t *schema.Type) []string {
	var names []string
	seen := make(map[*schema.Type]struct{})
	var walk func(*schema.Type)
	walk = func(t *schema.Type) {
		for _, parent := range t.Inherits {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			names = append(names, parent.Name)
			walk(parent)
		}
	}
	walk(t)
	return names
}

func reason(d interface{}) string {
	switch v := d.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", d)
}

// Predicate returns the named policies as one validity predicate; a
// candidate must satisfy all of them. The predicate follows reloads: its ID
// carries each policy's revision, so cached search results made under an
// older revision are not reused. Evaluation errors reject the candidate.
func (e *Engine) Predicate(names ...string) (facts.ValidityPredicate, error) {
	if len(names) == 0 {
		return facts.AlwaysValid, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, name := range names {
		if _, exists := e.policies[name]; !exists {
			return nil, fmt.Errorf("policy not found: %s", name)
		}
	}
	return &policyPredicate{engine: e, names: names}, nil
}

type policyPredicate struct {
	engine *Engine
	names  []string
}

func (p *policyPredicate) ID() string {
	p.engine.mu.RLock()
	defer p.engine.mu.RUnlock()

	var b strings.Builder
	b.WriteString("POLICY(")
	for i, name := range p.names {
		if i > 0 {
			b.WriteByte(',')
		}
		cp, ok := p.engine.policies[name]
		switch {
		case !ok:
			fmt.Fprintf(&b, "%s#removed", name)
		case !cp.policy.Enabled:
			fmt.Fprintf(&b, "%s#%d-disabled", name, cp.revision)
		default:
			fmt.Fprintf(&b, "%s#%d", name, cp.revision)
		}
	}
	b.WriteByte(')')
	return b.String()
}

func (p *policyPredicate) IsValid(instance models.TypedInstance) bool {
	for _, name := range p.names {
		decision, err := p.engine.Evaluate(context.Background(), name, instance)
		if err != nil {
			p.engine.logger.Warn().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			return false
		}
		if !decision.Allowed {
			return false
		}
	}
	return true
}

func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// put must be called with e.mu held.
func (e *Engine) put(cp *compiledPolicy) {
	if prev, ok := e.policies[cp.policy.Name]; ok {
		cp.revision = prev.revision + 1
	}
	e.policies[cp.policy.Name] = cp

	e.logger.Debug().
		Str("policy", cp.policy.Name).
		Str("package", cp.module.Package.Path.String()).
		Int("revision", cp.revision).
		Msg("Policy compiled successfully")
}

// compileAndStorePolicy must be called with e.mu held.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := e.compile(ctx, policy)
	if err != nil {
		return err
	}
	e.put(cp)
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// ReloadPolicies drops every loaded policy and restores the built-ins.
// Revisions keep increasing across reloads.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy)
	for i := range e.builtinPolicies {
		cp, err := e.compile(ctx, &e.builtinPolicies[i])
		if err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
		if prev, ok := previous[cp.policy.Name]; ok {
			cp.revision = prev.revision + 1
		}
		e.policies[cp.policy.Name] = cp
	}
	return nil
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
