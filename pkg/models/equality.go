package models

import (
	"fmt"
	"hash/maphash"
	"reflect"
)

var hashSeed = maphash.MakeSeed()

// Equal reports whether two instances are structurally equal: same type,
// same provenance, same shape and equal values all the way down.
func Equal(a, b TypedInstance) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	if a.Type() != b.Type() || a.Source() != b.Source() {
		return false
	}
	switch av := a.(type) {
	case *TypedObject:
		bv, ok := b.(*TypedObject)
		if !ok || len(av.fields) != len(bv.fields) {
			return false
		}
		for i, f := range av.fields {
			other := bv.fields[i]
			if f.Name != other.Name || !Equal(f.Instance, other.Instance) {
				return false
			}
		}
		return true
	case *TypedCollection:
		bv, ok := b.(*TypedCollection)
		if !ok || len(av.members) != len(bv.members) {
			return false
		}
		for i := range av.members {
			if !Equal(av.members[i], bv.members[i]) {
				return false
			}
		}
		return true
	case *TypedValue:
		bv, ok := b.(*TypedValue)
		return ok && reflect.DeepEqual(av.value, bv.value)
	case *TypedEnumValue:
		bv, ok := b.(*TypedEnumValue)
		return ok && av.member == bv.member
	case *TypedNull:
		_, ok := b.(*TypedNull)
		return ok
	default:
		panic(fmt.Sprintf("models: unhandled instance shape %T", a))
	}
}

// Hash returns a hash consistent with Equal.
func Hash(instance TypedInstance) uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	writeHash(&h, instance)
	return h.Sum64()
}

func writeHash(h *maphash.Hash, instance TypedInstance) {
	if instance == nil {
		_, _ = h.WriteString("<nil>")
		return
	}
	_, _ = h.WriteString(instance.Type().Name)
	_, _ = h.WriteString(instance.Source().ID)
	switch v := instance.(type) {
	case *TypedObject:
		_ = h.WriteByte('o')
		for _, f := range v.fields {
			_, _ = h.WriteString(f.Name)
			writeHash(h, f.Instance)
		}
	case *TypedCollection:
		_ = h.WriteByte('c')
		for _, m := range v.members {
			writeHash(h, m)
		}
	case *TypedValue:
		_ = h.WriteByte('v')
		_, _ = fmt.Fprintf(h, "%T:%v", v.value, v.value)
	case *TypedEnumValue:
		_ = h.WriteByte('e')
		_, _ = h.WriteString(v.member.Name)
	case *TypedNull:
		_ = h.WriteByte('n')
	default:
		panic(fmt.Sprintf("models: unhandled instance shape %T", instance))
	}
}

// Distinct removes structural duplicates, keeping the first occurrence of each.
func Distinct(instances []TypedInstance) []TypedInstance {
	if len(instances) < 2 {
		return instances
	}
	buckets := make(map[uint64][]TypedInstance, len(instances))
	out := make([]TypedInstance, 0, len(instances))
	for _, inst := range instances {
		key := Hash(inst)
		dup := false
		for _, seen := range buckets[key] {
			if Equal(seen, inst) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[key] = append(buckets[key], inst)
		out = append(out, inst)
	}
	return out
}

// DistinctByIdentity removes repeated references to the same instance.
func DistinctByIdentity(instances []TypedInstance) []TypedInstance {
	seen := make(map[TypedInstance]struct{}, len(instances))
	out := make([]TypedInstance, 0, len(instances))
	for _, inst := range instances {
		if _, ok := seen[inst]; ok {
			continue
		}
		seen[inst] = struct{}{}
		out = append(out, inst)
	}
	return out
}
