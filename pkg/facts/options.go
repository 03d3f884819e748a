package facts

import "time"

// Observer receives measurements from fact bags. *telemetry.Metrics implements it.
type Observer interface {
	ObserveSearch(strategy, outcome string, cached bool, duration time.Duration)
	ObserveTraversal(strategy string, nodes int, duration time.Duration)
	ObserveFactsAdded(count int)
	ObserveCacheInvalidation(cache string, entries int)
	ObserveUnsupportedOperation(operation string)
}

// EventSink receives fact bag events. *telemetry.EventPublisher implements it.
type EventSink interface {
	PublishFactAdded(typeName, source string) error
	PublishSearchResolved(search, strategy, outcome string, candidates int) error
}

// Option configures a fact bag.
type Option func(*options)

type options struct {
	observer Observer
	events   EventSink
}

// WithObserver reports search, traversal and cache measurements to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithEvents publishes fact and search events to sink.
func WithEvents(sink EventSink) Option {
	return func(opts *options) {
		opts.events = sink
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) observeSearch(strategy DiscoveryStrategy, outcome Outcome, cached bool, started time.Time) {
	if o.observer != nil {
		o.observer.ObserveSearch(strategy.String(), string(outcome), cached, time.Since(started))
	}
}

func (o options) observeTraversal(strategy DiscoveryStrategy, nodes int, started time.Time) {
	if o.observer != nil {
		o.observer.ObserveTraversal(strategy.String(), nodes, time.Since(started))
	}
}

func (o options) observeFactsAdded(count int) {
	if o.observer != nil {
		o.observer.ObserveFactsAdded(count)
	}
}

func (o options) observeInvalidation(cache string, entries int) {
	if o.observer != nil && entries > 0 {
		o.observer.ObserveCacheInvalidation(cache, entries)
	}
}

func (o options) observeUnsupported(operation string) {
	if o.observer != nil {
		o.observer.ObserveUnsupportedOperation(operation)
	}
}
