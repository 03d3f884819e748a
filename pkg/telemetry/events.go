package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event represents a telemetry event in the catalog.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TypeName is the semantic type involved, if applicable.
	TypeName string `json:"type_name,omitempty"`

	// Search is the search name, if applicable.
	Search string `json:"search,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeFactAdded       = "fact.added"
	EventTypeSearchResolved  = "search.resolved"
	EventTypeSearchAmbiguous = "search.ambiguous"
	EventTypeSchemaLoaded    = "schema.loaded"
	EventTypePolicyReloaded  = "policy.reloaded"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. It implements facts.EventSink.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. A nil publisher drops events.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishFactAdded publishes a fact added event.
func (ep *EventPublisher) PublishFactAdded(typeName, source string) error {
	return ep.Publish(Event{
		Type:     EventTypeFactAdded,
		Source:   "facts",
		TypeName: typeName,
		Message:  fmt.Sprintf("Fact of type %s added from %s", typeName, source),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"data_source": source,
		},
	})
}

// PublishSearchResolved publishes the outcome of a search. Ambiguous
// outcomes are published as warnings under their own event type.
func (ep *EventPublisher) PublishSearchResolved(search, strategy, outcome string, candidates int) error {
	eventType, level := EventTypeSearchResolved, EventLevelInfo
	if outcome == "ambiguous" {
		eventType, level = EventTypeSearchAmbiguous, EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    eventType,
		Source:  "facts",
		Search:  search,
		Message: fmt.Sprintf("Search %s resolved as %s (%d candidates)", search, outcome, candidates),
		Level:   level,
		Data: map[string]interface{}{
			"strategy":   strategy,
			"outcome":    outcome,
			"candidates": candidates,
		},
	})
}

// PublishSchemaLoaded publishes a schema loaded event.
func (ep *EventPublisher) PublishSchemaLoaded(path string, types int) error {
	return ep.Publish(Event{
		Type:    EventTypeSchemaLoaded,
		Source:  "config",
		Message: fmt.Sprintf("Schema %s loaded with %d types", path, types),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path":  path,
			"types": types,
		},
	})
}

// PublishPolicyReloaded publishes a policy reload event.
func (ep *EventPublisher) PublishPolicyReloaded(path string, err error) error {
	event := Event{
		Type:    EventTypePolicyReloaded,
		Source:  "policy",
		Message: fmt.Sprintf("Policy %s reloaded", path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	}
	if err != nil {
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Policy %s failed to reload: %v", path, err)
		event.Data["error"] = err.Error()
	}
	return ep.Publish(event)
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// LogSubscriber writes events to logger. Info events are logged at debug
// level so that per-fact events stay quiet unless asked for.
func LogSubscriber(logger *Logger) EventSubscriber {
	zl := logger.Zerolog()
	return func(e Event) {
		var entry *zerolog.Event
		switch e.Level {
		case EventLevelError:
			entry = zl.Error()
		case EventLevelWarning:
			entry = zl.Warn()
		default:
			entry = zl.Debug()
		}
		entry = entry.Str("event_id", e.ID).Str("event_type", e.Type).Str("source", e.Source)
		if e.TypeName != "" {
			entry = entry.Str("type_name", e.TypeName)
		}
		if e.Search != "" {
			entry = entry.Str("search", e.Search)
		}
		entry.Fields(e.Data).Msg(e.Message)
	}
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Deliver as soon as the buffer is drained or the batch is full.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers, in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTypeName creates a filter that only allows events about one semantic type.
func FilterByTypeName(typeName string) EventFilter {
	return func(event Event) bool {
		return event.TypeName == typeName
	}
}
