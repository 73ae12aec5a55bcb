// Package props provides named, aliasable float64 property slots.
//
// A Slot starts unbound: writes are discarded and reads yield zero. Alias
// points it at external storage, typically memory owned by a prediction
// module, after which every Set writes straight through to that storage and
// the module reads the live value without any copy. Reset returns the slot to
// the unbound state.
//
// Unbound slots share nothing, so a write to one can never be observed
// through another.
package props

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("props: property already registered")

// Slot is a named property.
type Slot struct {
	name string
	ref  *float64
}

// NewSlot returns an unbound slot.
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot's name.
func (s *Slot) Name() string { return s.name }

// Set writes v through to the aliased storage. Unbound slots discard it.
func (s *Slot) Set(v float64) {
	if s.ref != nil {
		*s.ref = v
	}
}

// Value reads the aliased storage, or zero when unbound.
func (s *Slot) Value() float64 {
	if s.ref == nil {
		return 0
	}
	return *s.ref
}

// Bound reports whether the slot aliases storage.
func (s *Slot) Bound() bool { return s.ref != nil }

// Alias makes the slot read and write through p. A nil p unbinds it.
func (s *Slot) Alias(p *float64) { s.ref = p }

// Reset unbinds the slot.
func (s *Slot) Reset() { s.ref = nil }

// Registry is a set of uniquely named slots.
type Registry struct {
	slots map[string]*Slot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*Slot)}
}

// Register creates an unbound slot under name.
func (r *Registry) Register(name string) (*Slot, error) {
	if _, ok := r.slots[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	s := NewSlot(name)
	r.slots[name] = s
	return s, nil
}

// Lookup returns the slot registered under name.
func (r *Registry) Lookup(name string) (*Slot, bool) {
	s, ok := r.slots[name]
	return s, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.slots[name]
	return ok
}

// Len returns the number of slots.
func (r *Registry) Len() int { return len(r.slots) }

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Slots returns the slots sorted by name.
func (r *Registry) Slots() []*Slot {
	names := r.Names()
	slots := make([]*Slot, len(names))
	for i, name := range names {
		slots[i] = r.slots[name]
	}
	return slots
}

// ResetAll unbinds every slot.
func (r *Registry) ResetAll() {
	for _, s := range r.slots {
		s.Reset()
	}
}
