package switching

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/orneryd/kernelswitch/pkg/props"
)

// propLog writes prediction and property records, one per line:
//
//	prediction:<step>:<index>
//	graph:<name>:<value>
//	step:<step>:<name>:<value>
//
// Values use %g with six significant digits.
type propLog struct {
	f *os.File
	w *bufio.Writer
}

func createPropLog(path string) (*propLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating property log: %w", err)
	}
	return &propLog{f: f, w: bufio.NewWriter(f)}, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (l *propLog) prediction(step int, index int32) {
	fmt.Fprintf(l.w, "prediction:%d:%d\n", step, index)
}

func (l *propLog) graph(r *props.Registry) {
	for _, s := range r.Slots() {
		fmt.Fprintf(l.w, "graph:%s:%s\n", s.Name(), formatValue(s.Value()))
	}
}

func (l *propLog) step(step int, r *props.Registry) {
	for _, s := range r.Slots() {
		fmt.Fprintf(l.w, "step:%d:%s:%s\n", step, s.Name(), formatValue(s.Value()))
	}
}

func (l *propLog) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return fmt.Errorf("flushing property log: %w", err)
	}
	return l.f.Close()
}
