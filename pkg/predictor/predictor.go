// Package predictor loads prediction modules.
//
// A prediction module picks which kernel implementation runs next. It
// exposes three things: a predictor function returning an implementation
// index (or -1 for "no change"), a constant list of implementation
// descriptors, and a constant map from property name to module-owned
// float64 storage. The host writes live statistics into that storage and the
// predictor reads them on every call.
//
// Two module kinds are supported:
//
//   - Go plugins (.so), built with -buildmode=plugin and exporting Lookup,
//     ImplNames, PropNames and optionally ABIVersion.
//   - Decision trees (.yaml, .yml), evaluated in-process.
package predictor

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
)

// ABIVersion is the plugin contract version this host understands.
const ABIVersion = 1

// NoChange is the predictor result meaning "keep the current implementation"
// (or, for the initial prediction, "use the default").
const NoChange int32 = -1

// Errors returned while opening and closing modules.
var (
	ErrModuleLoad       = errors.New("predictor: cannot load module")
	ErrSymbolResolution = errors.New("predictor: cannot resolve symbol")
	ErrModuleUnload     = errors.New("predictor: cannot unload module")
)

// ImplDescriptor names the kernel placed at one implementation index and the
// warp and chunk sizes it runs with.
type ImplDescriptor struct {
	Name      string `yaml:"name" json:"name"`
	Index     int    `yaml:"index" json:"index"`
	WarpSize  int    `yaml:"warp" json:"warp"`
	ChunkSize int    `yaml:"chunk" json:"chunk"`
}

// Module is a loaded prediction module.
type Module interface {
	// Predict returns an implementation index or NoChange.
	Predict() int32

	// Implementations returns the implementation descriptors.
	Implementations() []ImplDescriptor

	// Properties maps each property the predictor reads to its storage.
	// The pointers stay valid until Close.
	Properties() map[string]*float64

	// Close releases the module. After Close the property storage must not
	// be written.
	Close() error
}

// Opener opens the module at path.
type Opener func(path string) (Module, error)

// Open opens a decision tree for .yaml and .yml paths and a Go plugin for
// anything else.
func Open(path string) (Module, error) {
	var (
		m   Module
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err = OpenTree(path)
	default:
		m, err = OpenPlugin(path)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[predictor] loaded %s: %d implementations, %d properties",
		path, len(m.Implementations()), len(m.Properties()))
	return m, nil
}

// ValidateDescriptors checks that descriptor indices are dense and 0-based
// and that sizes are not negative.
func ValidateDescriptors(impls []ImplDescriptor) error {
	seen := make([]bool, len(impls))
	for _, d := range impls {
		if d.Index < 0 || d.Index >= len(impls) {
			return fmt.Errorf("implementation %q: index %d outside [0, %d)", d.Name, d.Index, len(impls))
		}
		if seen[d.Index] {
			return fmt.Errorf("implementation %q: index %d used twice", d.Name, d.Index)
		}
		if d.WarpSize < 0 || d.ChunkSize < 0 {
			return fmt.Errorf("implementation %q: negative warp or chunk size", d.Name)
		}
		seen[d.Index] = true
	}
	return nil
}
