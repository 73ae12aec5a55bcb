package switching

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the engine.
var (
	ErrMissingDefaultKernel = errors.New("switching: no edge-list implementation found")
	ErrNotPrepared          = errors.New("switching: run not prepared")
	ErrAlreadyPrepared      = errors.New("switching: run already prepared")
)

// BindingError lists every property and implementation a prediction module
// declares that the host does not have, and every warp implementation the
// module gives no warp size.
type BindingError struct {
	Properties      []string
	Implementations []string
	WarpSizes       []string
}

func (e *BindingError) Error() string {
	var parts []string
	if len(e.Properties) > 0 {
		parts = append(parts, "missing properties: "+strings.Join(e.Properties, ", "))
	}
	if len(e.Implementations) > 0 {
		parts = append(parts, "missing implementations: "+strings.Join(e.Implementations, ", "))
	}
	if len(e.WarpSizes) > 0 {
		parts = append(parts, "missing warp sizes: "+strings.Join(e.WarpSizes, ", "))
	}
	return "switching: " + strings.Join(parts, "; ")
}

// PredictionRangeError reports a predictor result outside the
// implementation list.
type PredictionRangeError struct {
	Index int32
	Len   int
}

func (e *PredictionRangeError) Error() string {
	return fmt.Sprintf("switching: predicted implementation %d outside [0, %d)", e.Index, e.Len)
}
