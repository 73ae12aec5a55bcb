package kernel

import (
	"fmt"
	"slices"
	"sort"
)

// DuplicateKeyError reports a name that is already registered.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("kernel: key already exists: %q", e.Key)
}

// Entry is a named kernel.
type Entry struct {
	Name   string
	Kernel Kernel
}

// Registry is a named collection of kernels.
//
// Kernels live in an arena and are addressed by their index, which stays
// stable for the registry's lifetime. Names map to arena indices.
type Registry struct {
	arena []Kernel
	names []string
	index map[string]int
}

// NewRegistry builds a registry from entries. Duplicate names fail.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := r.Add(e.Name, e.Kernel); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers k under name. The zero Registry is ready to use.
func (r *Registry) Add(name string, k Kernel) error {
	if k == nil {
		return fmt.Errorf("kernel: nil kernel for %q", name)
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if _, ok := r.index[name]; ok {
		return &DuplicateKeyError{Key: name}
	}
	r.index[name] = len(r.arena)
	r.arena = append(r.arena, k)
	r.names = append(r.names, name)
	return nil
}

// Get returns the kernel registered under name.
func (r *Registry) Get(name string) (Kernel, bool) {
	id, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.arena[id], true
}

// ID returns the arena index of name.
func (r *Registry) ID(name string) (int, bool) {
	id, ok := r.index[name]
	return id, ok
}

// At returns the kernel at arena index id.
func (r *Registry) At(id int) Kernel {
	return r.arena[id]
}

// Name returns the name registered for arena index id.
func (r *Registry) Name(id int) string {
	return r.names[id]
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := slices.Clone(r.names)
	sort.Strings(names)
	return names
}

// Len returns the number of kernels.
func (r *Registry) Len() int {
	return len(r.arena)
}

// Kernels returns the kernels in arena order.
func (r *Registry) Kernels() []Kernel {
	return slices.Clone(r.arena)
}

// Merge adds every entry of other, in name order. The first name already
// present aborts the merge with a *DuplicateKeyError; entries merged before
// it stay merged.
func (r *Registry) Merge(other *Registry) error {
	for _, name := range other.Names() {
		k, _ := other.Get(name)
		if err := r.Add(name, k); err != nil {
			return err
		}
	}
	return nil
}
