package graph

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/orneryd/kernelswitch/pkg/pool"
)

// DegreeKind selects which degree a statistic is computed over.
type DegreeKind int

const (
	// Abs is the total degree, in plus out.
	Abs DegreeKind = iota
	// In is the in-degree.
	In
	// Out is the out-degree.
	Out
)

// DegreeKinds lists every kind in property-name order.
var DegreeKinds = []DegreeKind{Abs, In, Out}

func (k DegreeKind) String() string {
	switch k {
	case Abs:
		return "abs"
	case In:
		return "in"
	case Out:
		return "out"
	default:
		return "unknown"
	}
}

// Summary is the seven-number summary of a degree distribution.
type Summary struct {
	Min           float64 `json:"min"`
	LowerQuantile float64 `json:"lower_quantile"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	UpperQuantile float64 `json:"upper_quantile"`
	Max           float64 `json:"max"`
	StdDev        float64 `json:"stddev"`
}

// Degrees returns the degree of every vertex for the given kind.
func (g *Graph) Degrees(kind DegreeKind) []float64 {
	in := pool.GetCountSlice(g.VertexCount)
	out := pool.GetCountSlice(g.VertexCount)
	defer pool.PutCountSlice(in)
	defer pool.PutCountSlice(out)

	for _, e := range g.Edges {
		out[e.Src]++
		in[e.Dst]++
	}

	degrees := make([]float64, g.VertexCount)
	for v := range degrees {
		switch kind {
		case Abs:
			degrees[v] = float64(in[v] + out[v])
		case In:
			degrees[v] = float64(in[v])
		case Out:
			degrees[v] = float64(out[v])
		}
	}
	return degrees
}

// DegreeStatistics summarizes the degree distribution of the given kind.
func (g *Graph) DegreeStatistics(kind DegreeKind) Summary {
	return Summarize(g.Degrees(kind))
}

// Summarize computes the seven-number summary of values. Quartiles use
// linear interpolation; the standard deviation is the population one.
// An empty input yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mean, std := stat.PopMeanStdDev(sorted, nil)
	return Summary{
		Min:           sorted[0],
		LowerQuantile: stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Mean:          mean,
		Median:        stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		UpperQuantile: stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		Max:           sorted[len(sorted)-1],
		StdDev:        std,
	}
}
