package hotpatch

import (
	"errors"
	"fmt"
)

var (
	ErrCouldNotInitialize   = errors.New("could not initialize hooking engine")
	ErrCouldNotUninitialize = errors.New("could not uninitialize hooking engine")
	ErrCouldNotCreate       = errors.New("could not create hook")
	ErrCouldNotEnable       = errors.New("could not enable hook")
	ErrCouldNotDisable      = errors.New("could not disable hook")
	ErrCouldNotRemove       = errors.New("could not remove hook")
)

// HookError describes a failed engine operation. Kind is one of the
// ErrCouldNot* values and Err is the cause reported by the backend, if any.
// Addr is zero for engine-wide operations.
type HookError struct {
	Addr uintptr
	Kind error
	Err  error
}

func newHookError(kind error, addr uintptr, err error) *HookError {
	return &HookError{Addr: addr, Kind: kind, Err: err}
}

func (e *HookError) Error() string {
	msg := e.Kind.Error()
	if e.Addr != 0 {
		msg = fmt.Sprintf("%s at 0x%x", msg, e.Addr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HookError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
