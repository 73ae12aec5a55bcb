package predictor

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// TreeFile is the YAML layout of a decision-tree module.
//
//	properties: [frontier, vertex count]
//	implementations:
//	  - {name: edge-list, index: 0}
//	  - {name: warp-csr, index: 1, warp: 32, chunk: 32}
//	tree:
//	  property: frontier
//	  threshold: 64
//	  le: {leaf: -1}
//	  gt: {leaf: 1}
type TreeFile struct {
	Properties      []string         `yaml:"properties"`
	Implementations []ImplDescriptor `yaml:"implementations"`
	Tree            *Node            `yaml:"tree"`
}

// Node is a decision-tree node: either a leaf or a threshold split.
type Node struct {
	Leaf      *int32  `yaml:"leaf,omitempty"`
	Property  string  `yaml:"property,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty"`
	LE        *Node   `yaml:"le,omitempty"`
	GT        *Node   `yaml:"gt,omitempty"`
}

// treeModule evaluates a decision tree over module-owned property storage.
type treeModule struct {
	path   string
	root   *Node
	impls  []ImplDescriptor
	props  map[string]*float64
	closed bool
}

// OpenTree loads a decision-tree module from a YAML file.
func OpenTree(path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}
	m, err := ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, path, err)
	}
	m.(*treeModule).path = path
	return m, nil
}

// ParseTree builds a decision-tree module from YAML.
func ParseTree(data []byte) (Module, error) {
	var f TreeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tree: %w", err)
	}
	if f.Tree == nil {
		return nil, fmt.Errorf("tree: missing root")
	}
	if err := ValidateDescriptors(f.Implementations); err != nil {
		return nil, err
	}

	props := make(map[string]*float64, len(f.Properties))
	for _, name := range f.Properties {
		if _, dup := props[name]; dup {
			return nil, fmt.Errorf("tree: property %q declared twice", name)
		}
		props[name] = new(float64)
	}
	if err := f.Tree.validate(props, len(f.Implementations)); err != nil {
		return nil, err
	}

	return &treeModule{
		root:  f.Tree,
		impls: slices.Clone(f.Implementations),
		props: props,
	}, nil
}

func (n *Node) validate(props map[string]*float64, impls int) error {
	if n.Leaf != nil {
		if n.LE != nil || n.GT != nil {
			return fmt.Errorf("tree: leaf %d has children", *n.Leaf)
		}
		if *n.Leaf < NoChange || int(*n.Leaf) >= impls {
			return fmt.Errorf("tree: leaf %d outside [-1, %d)", *n.Leaf, impls)
		}
		return nil
	}
	if _, ok := props[n.Property]; !ok {
		return fmt.Errorf("tree: split on undeclared property %q", n.Property)
	}
	if n.LE == nil || n.GT == nil {
		return fmt.Errorf("tree: split on %q needs both le and gt", n.Property)
	}
	if err := n.LE.validate(props, impls); err != nil {
		return err
	}
	return n.GT.validate(props, impls)
}

// Predict walks the tree from the root.
func (m *treeModule) Predict() int32 {
	n := m.root
	for n.Leaf == nil {
		if *m.props[n.Property] <= n.Threshold {
			n = n.LE
		} else {
			n = n.GT
		}
	}
	return *n.Leaf
}

func (m *treeModule) Implementations() []ImplDescriptor { return m.impls }

func (m *treeModule) Properties() map[string]*float64 { return m.props }

func (m *treeModule) Close() error {
	if m.closed {
		return fmt.Errorf("%w: %s already closed", ErrModuleUnload, m.path)
	}
	m.closed = true
	m.props = nil
	return nil
}
