package predictor

import (
	"fmt"
	"plugin"
	"reflect"
)

// Symbols a plugin module exports.
const (
	SymbolLookup     = "Lookup"
	SymbolImplNames  = "ImplNames"
	SymbolPropNames  = "PropNames"
	SymbolABIVersion = "ABIVersion"
)

// pluginModule is a Module backed by a Go plugin.
type pluginModule struct {
	path   string
	lookup func() int32
	impls  []ImplDescriptor
	props  map[string]*float64
	closed bool
}

// OpenPlugin loads a Go plugin module.
//
// The plugin is built separately and shares no types with the host, so
// ImplNames is read by reflection: any slice of structs with a string field
// Name and integer fields Index, Warp and Chunk is accepted.
func OpenPlugin(path string) (Module, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}
	return resolve(path, p.Lookup)
}

// resolve reads the module exports through lookup.
func resolve(path string, lookup func(string) (plugin.Symbol, error)) (*pluginModule, error) {
	if sym, err := lookup(SymbolABIVersion); err == nil {
		v, ok := sym.(*int)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %s has type %T", ErrSymbolResolution, path, SymbolABIVersion, sym)
		}
		if *v != ABIVersion {
			return nil, fmt.Errorf("%w: %s: ABI version %d, host supports %d", ErrModuleLoad, path, *v, ABIVersion)
		}
	}

	sym, err := lookup(SymbolLookup)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %v", ErrSymbolResolution, path, SymbolLookup, err)
	}
	var predict func() int32
	switch fn := sym.(type) {
	case func() int32:
		predict = fn
	case *func() int32:
		predict = *fn
	}
	if predict == nil {
		return nil, fmt.Errorf("%w: %s: %s has type %T, want func() int32", ErrSymbolResolution, path, SymbolLookup, sym)
	}

	sym, err = lookup(SymbolImplNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %v", ErrSymbolResolution, path, SymbolImplNames, err)
	}
	impls, err := parseImplNames(sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %v", ErrSymbolResolution, path, SymbolImplNames, err)
	}
	if err := ValidateDescriptors(impls); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}

	sym, err = lookup(SymbolPropNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %v", ErrSymbolResolution, path, SymbolPropNames, err)
	}
	props, ok := sym.(*map[string]*float64)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s has type %T, want map[string]*float64", ErrSymbolResolution, path, SymbolPropNames, sym)
	}

	return &pluginModule{
		path:   path,
		lookup: predict,
		impls:  impls,
		props:  *props,
	}, nil
}

// parseImplNames reads a slice of descriptor-shaped structs.
func parseImplNames(sym any) ([]ImplDescriptor, error) {
	val := reflect.ValueOf(sym)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil, fmt.Errorf("type %T is not a slice", sym)
	}

	impls := make([]ImplDescriptor, val.Len())
	for i := range impls {
		elem := val.Index(i)
		if elem.Kind() != reflect.Struct {
			return nil, fmt.Errorf("element %d has kind %s", i, elem.Kind())
		}

		name := elem.FieldByName("Name")
		if !name.IsValid() || name.Kind() != reflect.String {
			return nil, fmt.Errorf("element %d: no string Name field", i)
		}
		impls[i].Name = name.String()

		for field, dst := range map[string]*int{
			"Index": &impls[i].Index,
			"Warp":  &impls[i].WarpSize,
			"Chunk": &impls[i].ChunkSize,
		} {
			n, err := intField(elem, field)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			*dst = n
		}
	}
	return impls, nil
}

func intField(v reflect.Value, name string) (int, error) {
	f := v.FieldByName(name)
	if !f.IsValid() {
		return 0, fmt.Errorf("no %s field", name)
	}
	switch {
	case f.CanInt():
		return int(f.Int()), nil
	case f.CanUint():
		return int(f.Uint()), nil
	}
	return 0, fmt.Errorf("field %s has kind %s", name, f.Kind())
}

func (m *pluginModule) Predict() int32 { return m.lookup() }

func (m *pluginModule) Implementations() []ImplDescriptor { return m.impls }

func (m *pluginModule) Properties() map[string]*float64 { return m.props }

// Close drops the module's references. Go cannot unmap a plugin, so the
// code stays resident; closing twice fails.
func (m *pluginModule) Close() error {
	if m.closed {
		return fmt.Errorf("%w: %s already closed", ErrModuleUnload, m.path)
	}
	m.closed = true
	m.lookup = nil
	m.impls = nil
	m.props = nil
	return nil
}
