package facts

import (
	"slices"
	"sync"

	"github.com/openfroyo/catalog/pkg/models"
)

// FieldAndFactBag is a CopyOnWriteFactBag whose facts are also addressable
// by name, such as the attributes of an object under construction.
type FieldAndFactBag struct {
	*CopyOnWriteFactBag

	mu     sync.RWMutex
	fields map[string]models.TypedInstance
	names  []string
}

// NewFieldAndFactBag creates a bag whose facts are the field values, in
// order, followed by extra unnamed facts.
func NewFieldAndFactBag(fields []models.NamedInstance, extra []models.TypedInstance, scoped []ScopedFact, ts TypeSystem, opts ...Option) *FieldAndFactBag {
	return newFieldAndFactBag(fields, extra, scoped, ts, newOptions(opts))
}

// NewFieldAndFactBagFromObject exposes the attributes of obj by name.
func NewFieldAndFactBagFromObject(obj *models.TypedObject, ts TypeSystem, opts ...Option) *FieldAndFactBag {
	return NewFieldAndFactBag(obj.Fields(), nil, nil, ts, opts...)
}

func newFieldAndFactBag(fields []models.NamedInstance, extra []models.TypedInstance, scoped []ScopedFact, ts TypeSystem, opts options) *FieldAndFactBag {
	b := &FieldAndFactBag{fields: make(map[string]models.TypedInstance, len(fields))}
	facts := make([]models.TypedInstance, 0, len(fields)+len(extra))
	for _, f := range fields {
		if _, dup := b.fields[f.Name]; !dup {
			b.names = append(b.names, f.Name)
		}
		b.fields[f.Name] = f.Instance
	}
	for _, name := range b.names {
		facts = append(facts, b.fields[name])
	}
	facts = append(facts, extra...)
	b.CopyOnWriteFactBag = newCopyOnWriteFactBag(facts, scoped, ts, opts)
	return b
}

// Field returns the value bound to name.
func (b *FieldAndFactBag) Field(name string) (models.TypedInstance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.fields[name]
	return v, ok && v != nil
}

// FieldNames returns the bound names in the order they were first bound.
func (b *FieldAndFactBag) FieldNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.names)
}

// Fields returns the named values in binding order.
func (b *FieldAndFactBag) Fields() []models.NamedInstance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.NamedInstance, 0, len(b.names))
	for _, name := range b.names {
		out = append(out, models.NamedInstance{Name: name, Instance: b.fields[name]})
	}
	return out
}

// SetField binds value to name and adds it as a fact. A value previously
// bound to the same name stays searchable as an unnamed fact.
func (b *FieldAndFactBag) SetField(name string, value models.TypedInstance) (*FieldAndFactBag, error) {
	b.mu.Lock()
	if _, exists := b.fields[name]; !exists {
		b.names = append(b.names, name)
	}
	b.fields[name] = value
	b.mu.Unlock()

	if _, err := b.CopyOnWriteFactBag.AddFact(value); err != nil {
		return nil, err
	}
	return b, nil
}

// extraFacts returns the root facts that are not bound to a name.
func (b *FieldAndFactBag) extraFacts() []models.TypedInstance {
	b.mu.RLock()
	named := make(map[models.TypedInstance]struct{}, len(b.fields))
	for _, v := range b.fields {
		named[v] = struct{}{}
	}
	b.mu.RUnlock()

	var extra []models.TypedInstance
	for _, f := range b.CopyOnWriteFactBag.RootFacts() {
		if _, ok := named[f]; !ok {
			extra = append(extra, f)
		}
	}
	return extra
}

// Copy returns an independent bag with the same names and facts and empty caches.
func (b *FieldAndFactBag) Copy() *FieldAndFactBag {
	return newFieldAndFactBag(b.Fields(), b.extraFacts(), b.scoped, b.ts, b.opts)
}

// Merge unions the names of another FieldAndFactBag, whose bindings win on
// conflict. Any other bag contributes unnamed facts only.
func (b *FieldAndFactBag) Merge(other FactBag) FactBag {
	scoped := append(b.ScopedFacts(), other.ScopedFacts()...)
	if o, ok := other.(*FieldAndFactBag); ok {
		fields := append(b.Fields(), o.Fields()...)
		extra := append(b.extraFacts(), o.extraFacts()...)
		return newFieldAndFactBag(fields, extra, scoped, b.ts, b.opts)
	}
	extra := append(b.extraFacts(), other.RootFacts()...)
	return newFieldAndFactBag(b.Fields(), extra, scoped, b.ts, b.opts)
}

func (b *FieldAndFactBag) MergeFact(fact models.TypedInstance) FactBag {
	return newFieldAndFactBag(b.Fields(), append(b.extraFacts(), fact), b.scoped, b.ts, b.opts)
}

// Excluding drops the given instances, unbinding any name bound to one of them.
func (b *FieldAndFactBag) Excluding(facts ...models.TypedInstance) FactBag {
	excluded := make(map[models.TypedInstance]struct{}, len(facts))
	for _, f := range facts {
		excluded[f] = struct{}{}
	}
	var fields []models.NamedInstance
	for _, f := range b.Fields() {
		if _, ok := excluded[f.Instance]; !ok {
			fields = append(fields, f)
		}
	}
	var extra []models.TypedInstance
	for _, f := range b.extraFacts() {
		if _, ok := excluded[f]; !ok {
			extra = append(extra, f)
		}
	}
	var scoped []ScopedFact
	for _, sf := range b.scoped {
		if _, ok := excluded[sf.Fact]; !ok {
			scoped = append(scoped, sf)
		}
	}
	return newFieldAndFactBag(fields, extra, scoped, b.ts, b.opts)
}

func (b *FieldAndFactBag) AddFact(fact models.TypedInstance) (FactBag, error) {
	return b.AddFacts([]models.TypedInstance{fact})
}

func (b *FieldAndFactBag) AddFacts(facts []models.TypedInstance) (FactBag, error) {
	if _, err := b.CopyOnWriteFactBag.AddFacts(facts); err != nil {
		return nil, err
	}
	return b, nil
}
