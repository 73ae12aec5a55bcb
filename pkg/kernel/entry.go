package kernel

import (
	"fmt"
	"reflect"

	"github.com/orneryd/kernelswitch/pkg/accel"
	"github.com/orneryd/kernelswitch/pkg/graph"
)

// entryPoint is an entry point with its parameter list already inferred.
type entryPoint struct {
	backend accel.Backend
	fn      reflect.Value
	sizes   []reflect.Type // warp and chunk parameter types, warp kernels only
	view    reflect.Type
	params  []reflect.Type
}

// inspect reads the signature of entry. A nil entry (untyped, or a typed nil
// func) yields an absent entry point.
func inspect(b accel.Backend, entry any, rep graph.Representation, warp bool) (*entryPoint, error) {
	viewType, err := graph.ViewType(rep)
	if err != nil {
		return nil, err
	}
	ep := &entryPoint{backend: b, view: viewType}
	if entry == nil {
		return ep, nil
	}

	fn := reflect.ValueOf(entry)
	t := fn.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is not a function", ErrBadSignature, t)
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: variadic entry point %s", ErrBadSignature, t)
	}
	if t.NumOut() != 0 {
		return nil, fmt.Errorf("%w: entry point %s returns values", ErrBadSignature, t)
	}

	i := 0
	if accel.PerThread(t) {
		i++
	}
	if warp {
		if t.NumIn() < i+2 || !isInteger(t.In(i).Kind()) || !isInteger(t.In(i+1).Kind()) {
			return nil, fmt.Errorf("%w: warp entry point %s must take warp and chunk sizes", ErrBadSignature, t)
		}
		ep.sizes = []reflect.Type{t.In(i), t.In(i + 1)}
		i += 2
	}
	if t.NumIn() <= i || t.In(i) != viewType {
		return nil, fmt.Errorf("%w: %s must take %s for %s", ErrBadSignature, t, viewType, rep)
	}
	i++

	for ; i < t.NumIn(); i++ {
		ep.params = append(ep.params, t.In(i))
	}
	if !fn.IsNil() {
		ep.fn = fn
	}
	return ep, nil
}

func (ep *entryPoint) absent() bool {
	return !ep.fn.IsValid()
}

// call marshals sizes, view and args and launches the entry point.
func (ep *entryPoint) call(sizes []int, view any, args []any) error {
	if len(args) != len(ep.params) {
		return fmt.Errorf("%w: entry point takes %d arguments, got %d", ErrArgument, len(ep.params), len(args))
	}

	in := make([]reflect.Value, 0, len(sizes)+1+len(args))
	for i, s := range sizes {
		in = append(in, reflect.ValueOf(s).Convert(ep.sizes[i]))
	}

	v := reflect.ValueOf(view)
	if !v.IsValid() || v.Type() != ep.view {
		return fmt.Errorf("%w: view %T, want %s", ErrArgument, view, ep.view)
	}
	in = append(in, v)

	for i, arg := range args {
		val, err := marshal(arg, ep.params[i])
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, val)
	}

	return ep.backend.Launch(ep.fn, in)
}

// marshal converts a host argument to the declared device type: assignable
// values pass through, Marshalers provide their device value, and numbers
// convert between basic kinds.
func marshal(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		if nillable(want.Kind()) {
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil for %s", ErrArgument, want)
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}

	if m, ok := arg.(accel.Marshaler); ok {
		dev, err := m.DeviceValue()
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%w: %v", ErrArgument, err)
		}
		dv := reflect.ValueOf(dev)
		if dv.IsValid() && dv.Type().AssignableTo(want) {
			return dv, nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %T device value %T for %s", ErrArgument, arg, dev, want)
	}

	if isNumber(v.Kind()) && isNumber(want.Kind()) {
		return v.Convert(want), nil
	}

	return reflect.Value{}, fmt.Errorf("%w: %T for %s", ErrArgument, arg, want)
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
