package mem

import (
	"fmt"
	"reflect"
	"unsafe"
)

// funcval matches the layout the Go runtime uses for function values: a
// pointer to a block whose first word is the entry point.
type funcval struct {
	code uintptr
}

// MakeFunc returns a function of type F that runs the machine code at code.
// This is the only place raw addresses become callable Go functions.
//
// The code must follow the Go internal calling convention for F and must not
// need a closure context. A zero code address gives a nil function.
func MakeFunc[F any](code uintptr) (F, error) {
	var fn F
	if t := reflect.TypeFor[F](); t.Kind() != reflect.Func {
		return fn, fmt.Errorf("%w: %v", ErrNotAFunction, t)
	}
	if code == 0 {
		return fn, nil
	}

	ref := &funcval{code: code}
	fn = *(*F)(unsafe.Pointer(&ref))
	return fn, nil
}

// CodeAddr returns the entry point of the function fn.
func CodeAddr(fn any) (uintptr, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return 0, fmt.Errorf("%w, kind: %v", ErrNotAFunction, v.Kind())
	}
	return v.Pointer(), nil
}
