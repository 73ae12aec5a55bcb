package graph

import (
	"fmt"
	"reflect"

	"github.com/orneryd/kernelswitch/pkg/accel"
)

// Format is a graph storage format.
type Format int

const (
	// EdgeList stores parallel source/destination arrays.
	EdgeList Format = iota
	// CSR stores compressed sparse rows: per-vertex offsets into a target array.
	CSR
)

func (f Format) String() string {
	switch f {
	case EdgeList:
		return "edge-list"
	case CSR:
		return "csr"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Direction is the traversal direction a representation indexes.
type Direction int

const (
	// Forward follows edges from source to destination.
	Forward Direction = iota
	// Reverse follows edges from destination to source.
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Representation selects which device structure a kernel reads.
type Representation struct {
	Format    Format
	Direction Direction
}

func (r Representation) String() string {
	return r.Format.String() + "/" + r.Direction.String()
}

// Valid reports whether r names a known format and direction.
func (r Representation) Valid() bool {
	return (r.Format == EdgeList || r.Format == CSR) &&
		(r.Direction == Forward || r.Direction == Reverse)
}

// EdgeListView is the device view of an EdgeList representation. For the
// Reverse direction Src and Dst are swapped.
type EdgeListView struct {
	VertexCount int
	EdgeCount   int
	Src         *accel.Buffer[uint32]
	Dst         *accel.Buffer[uint32]
}

// CSRView is the device view of a CSR representation. Vertex v's neighbours
// are Targets[Offsets[v]:Offsets[v+1]]; for Reverse these are the sources of
// v's incoming edges.
type CSRView struct {
	VertexCount int
	EdgeCount   int
	Offsets     *accel.Buffer[uint64]
	Targets     *accel.Buffer[uint32]
}

// Neighbours returns vertex v's adjacency slice.
func (v CSRView) Neighbours(vertex int) []uint32 {
	off := v.Offsets.Data()
	return v.Targets.Data()[off[vertex]:off[vertex+1]]
}

var (
	edgeListViewType = reflect.TypeOf(EdgeListView{})
	csrViewType      = reflect.TypeOf(CSRView{})
)

// ViewType returns the type of the view a kernel for rep must declare.
func ViewType(rep Representation) (reflect.Type, error) {
	if !rep.Valid() {
		return nil, fmt.Errorf("graph: invalid representation %s", rep)
	}
	switch rep.Format {
	case EdgeList:
		return edgeListViewType, nil
	default:
		return csrViewType, nil
	}
}
