package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/facts"
	"github.com/openfroyo/catalog/pkg/models"
	"github.com/openfroyo/catalog/pkg/policy"
	"github.com/openfroyo/catalog/pkg/schema"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

// searchOptions are the inputs of one search command.
type searchOptions struct {
	Schemas    []string // schema files or directories
	SchemaName string   // stored schema
	Facts      []string // Type=path
	Datasets   []string // dataset files
	Stored     []string // stored dataset names
	Scopes     []string // Type=path, searched before the root facts
	Types      []string
	Strategy   string
	Where      string
	Policies   []string // policy names, files or directories
}

// SearchResult is the outcome of searching for one type.
type SearchResult struct {
	Type     string             `json:"type"`
	Strategy string             `json:"strategy"`
	Found    bool               `json:"found"`
	Value    any                `json:"value,omitempty"`
	Source   *models.DataSource `json:"source,omitempty"`
	Validity string             `json:"validity"`
}

func newSearchCommand() *cobra.Command {
	var (
		opts  searchOptions
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find facts by semantic type",
		Long: `Search a bag of facts for values of one or more types.

Root facts come from --fact, --dataset and --stored flags and from the
datasets listed in catalog.yaml. Facts given with --scope are searched
first; the root facts are only consulted when the scoped facts do not
answer the search.

Discovery strategies:
  - top-level-only: first matching root or scoped fact
  - any-depth-expect-one: exactly one match at any depth
  - any-depth-expect-one-distinct: exactly one distinct match, preferring exact types
  - any-depth-allow-many: every distinct match, as one collection

A candidate must satisfy the --where Starlark expression and every --policy.
The expression sees value, type, source and is_null.`,
		Example: `  # Find the only title in a film
  catalog search --schema films.cue --fact Film=jaws.json --type Title

  # Collect every actor name across a dataset, ignoring failed lookups
  catalog search --dataset films.yaml --type ActorName \
    --strategy any-depth-allow-many --policy exclude_failed_sources

  # Apply every policy of a bundle
  catalog search --dataset films.yaml --type Title --policy ./policies/review.json

  # Only well rated films, re-run on every change
  catalog search --stored films --type Film --where 'value["imdbScore"] > 7' --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := configFrom(ctx)
			applySearchDefaults(&opts, cfg)

			s, err := newSearcher(ctx, cfg, opts)
			if err != nil {
				return err
			}

			if watch {
				return s.watch(ctx, func(results []SearchResult) error {
					return printResults(cmd, results)
				})
			}

			results, err := s.runWithTimeout(ctx)
			if err != nil {
				return err
			}
			return printResults(cmd, results)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Schemas, "schema", nil, "schema file or directory (default: schemas in catalog.yaml)")
	cmd.Flags().StringVar(&opts.SchemaName, "schema-name", "", "stored schema to search against")
	cmd.Flags().StringArrayVar(&opts.Facts, "fact", nil, "root fact as Type=path (YAML or JSON)")
	cmd.Flags().StringArrayVar(&opts.Datasets, "dataset", nil, "dataset file of root facts")
	cmd.Flags().StringArrayVar(&opts.Stored, "stored", nil, "stored dataset of root facts")
	cmd.Flags().StringArrayVar(&opts.Scopes, "scope", nil, "scoped fact as Type=path, searched before root facts")
	cmd.Flags().StringSliceVarP(&opts.Types, "type", "t", nil, "type to search for (repeatable)")
	cmd.Flags().StringVarP(&opts.Strategy, "strategy", "s", "", "discovery strategy (default from catalog.yaml)")
	cmd.Flags().StringVar(&opts.Where, "where", "", "Starlark validity expression")
	cmd.Flags().StringArrayVar(&opts.Policies, "policy", nil, "policy name, .rego file, .json policy or bundle, or directory")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run the search when inputs change")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func applySearchDefaults(opts *searchOptions, cfg *config.CatalogConfig) {
	if len(opts.Schemas) == 0 && opts.SchemaName == "" {
		opts.Schemas = cfg.Schemas
	}
	if opts.Strategy == "" {
		opts.Strategy = cfg.Search.Strategy
	}
	if opts.Where == "" {
		opts.Where = cfg.Search.Where
	}
	opts.Datasets = append(append([]string{}, cfg.Datasets...), opts.Datasets...)
	opts.Policies = append(append(append([]string{}, cfg.Policies.Builtins...), cfg.Policies.Paths...), opts.Policies...)
}

// searcher runs one search configuration, possibly many times.
type searcher struct {
	opts        searchOptions
	cfg         *config.CatalogConfig
	strategy    facts.DiscoveryStrategy
	loader      *config.SchemaLoader
	engine      *policy.Engine
	policies    *policy.Loader
	policyPaths []string
	policyNames []string
	bagOptions  []facts.Option
	logger      zerolog.Logger
}

func newSearcher(ctx context.Context, cfg *config.CatalogConfig, opts searchOptions) (*searcher, error) {
	if len(opts.Types) == 0 {
		return nil, fmt.Errorf("at least one --type is required")
	}
	strategy, err := facts.ParseDiscoveryStrategy(opts.Strategy)
	if err != nil {
		return nil, err
	}

	logger := telemetry.FromContext(ctx).Zerolog()
	s := &searcher{
		opts:     opts,
		cfg:      cfg,
		strategy: strategy,
		loader:   newSchemaLoader(ctx),
		policies: policy.NewLoader(telemetry.FromContext(ctx).NewComponentLogger("policy-loader").Zerolog()),
		logger:   logger,
	}

	s.engine, err = policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		s.engine.SetMetrics(tel.Metrics)
		s.policies.SetEventPublisher(tel.Events)
		s.bagOptions = tel.BagOptions()
	}

	seen := make(map[string]bool)
	for _, p := range opts.Policies {
		if _, err := os.Stat(p); err == nil {
			s.policyPaths = append(s.policyPaths, p)
			continue
		}
		if !seen[p] {
			seen[p] = true
			s.policyNames = append(s.policyNames, p)
		}
	}
	if len(s.policyPaths) > 0 {
		loaded, err := s.policies.LoadFromPaths(ctx, s.policyPaths)
		if err != nil {
			return nil, err
		}
		if err := s.engine.ApplyPolicies(ctx, loaded); err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if !seen[p.Name] {
				seen[p.Name] = true
				s.policyNames = append(s.policyNames, p.Name)
			}
		}
	}

	return s, nil
}

func (s *searcher) runWithTimeout(ctx context.Context) ([]SearchResult, error) {
	if s.cfg.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Search.Timeout)
		defer cancel()
	}
	return s.run(ctx)
}

// run loads every input afresh and searches for each requested type.
func (s *searcher) run(ctx context.Context) ([]SearchResult, error) {
	ic := telemetry.StartOperation(ctx, "search")
	results, err := s.search(ic.Ctx)
	ic.End(err)
	return results, err
}

func (s *searcher) search(ctx context.Context) ([]SearchResult, error) {
	in, err := s.loadInputs(ctx)
	if err != nil {
		return nil, err
	}

	validity, err := s.validity()
	if err != nil {
		return nil, err
	}

	var bag facts.FactBag = facts.NewCopyOnWriteFactBag(in.roots, in.schema, s.bagOptions...)
	if len(in.scoped) > 0 {
		scopes := facts.NewScopedFactBag(nil, in.scoped, in.schema, s.bagOptions...)
		bag = facts.NewCascadingFactBag(scopes, bag)
	}

	log.Debug().
		Int("roots", len(in.roots)).
		Int("scoped", len(in.scoped)).
		Str("strategy", s.strategy.String()).
		Str("validity", validity.ID()).
		Msg("Searching")

	results := make([]SearchResult, len(s.opts.Types))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range s.opts.Types {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := in.schema.Type(name)
			if err != nil {
				return err
			}

			qctx, _ := telemetry.WithQueryContext(gctx, t.Name, s.strategy.String())
			fact := bag.GetFactOrNil(t, s.strategy, validity)
			telemetry.EndQueryContext(qctx, fact != nil, nil)

			result := SearchResult{
				Type:     t.Name,
				Strategy: s.strategy.String(),
				Found:    fact != nil,
				Validity: validity.ID(),
			}
			if fact != nil {
				source := fact.Source()
				result.Value = models.ToRaw(fact)
				result.Source = &source
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *searcher) validity() (facts.ValidityPredicate, error) {
	var predicates []facts.ValidityPredicate
	if s.opts.Where != "" {
		p, err := config.NewStarlarkPredicate(s.opts.Where, s.logger)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	if len(s.policyNames) > 0 {
		p, err := s.engine.Predicate(s.policyNames...)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return facts.AllValid(predicates...), nil
}

type searchInputs struct {
	schema *schema.Schema
	roots  []models.TypedInstance
	scoped []facts.ScopedFact
}

func (s *searcher) loadInputs(ctx context.Context) (*searchInputs, error) {
	in := &searchInputs{}

	var stored *storedInputs
	if s.opts.SchemaName != "" || len(s.opts.Stored) > 0 {
		var err error
		stored, err = s.loadStored(ctx)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case len(s.opts.Schemas) > 0:
		err := telemetry.RecordLoad(ctx, "schema", strings.Join(s.opts.Schemas, ","), func(ctx context.Context) error {
			var err error
			in.schema, err = s.loader.Load(ctx, s.opts.Schemas)
			return err
		})
		if err != nil {
			return nil, err
		}
	case stored != nil && stored.schema != nil:
		in.schema = stored.schema
	default:
		return nil, fmt.Errorf("no schema: pass --schema or --schema-name, or list schemas in %s", config.DefaultConfigFile)
	}

	for _, flag := range s.opts.Facts {
		typeName, path, err := splitAssignment("fact", flag)
		if err != nil {
			return nil, err
		}
		fact, err := config.LoadFactFile(in.schema, typeName, path)
		if err != nil {
			return nil, err
		}
		in.roots = append(in.roots, fact)
	}

	for _, path := range s.opts.Datasets {
		dataset, err := s.loader.LoadDataset(ctx, path)
		if err != nil {
			return nil, err
		}
		instances, err := dataset.Instances(in.schema)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
		in.roots = append(in.roots, instances...)
	}

	if stored != nil {
		for _, d := range stored.datasets {
			instances, err := d.Instances(in.schema)
			if err != nil {
				return nil, err
			}
			in.roots = append(in.roots, instances...)
		}
	}

	for _, flag := range s.opts.Scopes {
		typeName, path, err := splitAssignment("scope", flag)
		if err != nil {
			return nil, err
		}
		fact, err := config.LoadFactFile(in.schema, typeName, path)
		if err != nil {
			return nil, err
		}
		in.scoped = append(in.scoped, facts.ScopedFact{
			Scope: facts.ProjectionScope{Name: typeName, Type: fact.Type()},
			Fact:  fact,
		})
	}

	return in, nil
}

// watch runs the search, then re-runs it whenever a schema, fact, dataset
// or policy file changes. Policy changes are applied to the engine without
// reloading everything else.
func (s *searcher) watch(ctx context.Context, emit func([]SearchResult) error) error {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		if err := tel.StartMetricsServer(ctx); err != nil {
			return err
		}
	}

	watcher, err := config.NewWatcher(s.logger, 0)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.watchedPaths()...); err != nil {
		return err
	}

	rerun := make(chan struct{}, 1)
	trigger := func() {
		select {
		case rerun <- struct{}{}:
		default:
		}
	}
	trigger()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx, func(ctx context.Context, changed []string) error {
			log.Info().Strs("files", changed).Msg("Inputs changed")
			trigger()
			return nil
		})
	})

	if len(s.policyPaths) > 0 && s.cfg.Policies.Watch {
		g.Go(func() error {
			return s.policies.Watch(gctx, s.policyPaths, func(reloaded []policy.Policy) error {
				if err := s.engine.ApplyPolicies(gctx, reloaded); err != nil {
					return err
				}
				trigger()
				return nil
			})
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-rerun:
				results, err := s.runWithTimeout(gctx)
				if err != nil {
					log.Error().Err(err).Msg("Search failed")
					continue
				}
				if err := emit(results); err != nil {
					return err
				}
			}
		}
	})

	log.Info().Msg("Watching for changes, press Ctrl+C to stop")
	return g.Wait()
}

func (s *searcher) watchedPaths() []string {
	var paths []string
	paths = append(paths, s.opts.Schemas...)
	paths = append(paths, s.opts.Datasets...)
	for _, flag := range append(append([]string{}, s.opts.Facts...), s.opts.Scopes...) {
		if _, path, ok := strings.Cut(flag, "="); ok {
			paths = append(paths, path)
		}
	}
	return paths
}

func printResults(cmd *cobra.Command, results []SearchResult) error {
	if jsonOutput || len(results) > 1 {
		return printJSON(cmd, results)
	}
	r := results[0]
	if !r.Found {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s found (strategy %s)\n", r.Type, r.Strategy)
		return nil
	}
	return printJSON(cmd, r.Value)
}

type storedInputs struct {
	schema   *schema.Schema
	datasets []*stores.DatasetRecord
}

// loadStored reads stored datasets and the schema they are bound to. An
// explicit --schema-name wins over the binding of the datasets.
func (s *searcher) loadStored(ctx context.Context) (*storedInputs, error) {
	store, err := openStore(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	in := &storedInputs{}
	schemaName := s.opts.SchemaName
	for _, name := range s.opts.Stored {
		d, err := store.GetDataset(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", name, err)
		}
		if schemaName == "" && d.SchemaName != nil {
			schemaName = *d.SchemaName
		}
		in.datasets = append(in.datasets, d)
	}

	if schemaName != "" && len(s.opts.Schemas) == 0 {
		record, err := store.GetSchema(ctx, schemaName)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", schemaName, err)
		}
		in.schema, err = record.Schema()
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}
