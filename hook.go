package hotpatch

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/pboyd/hotpatch/mem"
)

// Hook intercepts calls to one function. T is the type of that function.
//
// A Hook is not safe for concurrent use. The replacement, however, may be
// called from any goroutine once the hook is enabled.
type Hook[T any] struct {
	engine *Engine
	target uintptr

	created  bool
	enabled  bool
	original T
}

// HookOption configures a Hook.
type HookOption func(*hookOptions)

type hookOptions struct {
	engine *Engine
}

// WithEngine sets the engine a hook goes through. Hooks use Default()
// otherwise.
func WithEngine(e *Engine) HookOption {
	return func(o *hookOptions) { o.engine = e }
}

// NewHook returns a hook for the function at target. Nothing is created
// until Enable is called.
//
// T must be a function type; NewHook panics otherwise.
func NewHook[T any](target uintptr, opts ...HookOption) *Hook[T] {
	if t := reflect.TypeFor[T](); t.Kind() != reflect.Func {
		panic(fmt.Sprintf("hotpatch: hook type must be a function, got %v", t))
	}

	o := hookOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		o.engine = Default()
	}

	return &Hook[T]{engine: o.engine, target: target}
}

// NewHookFunc returns a hook for fn.
//
// Note that if fn is inlined at a call site, calls from there won't be
// intercepted. If possible, add a noinline directive:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
func NewHookFunc[T any](fn T, opts ...HookOption) *Hook[T] {
	addr, err := mem.CodeAddr(fn)
	if err != nil {
		panic(fmt.Sprintf("hotpatch: %v", err))
	}
	return NewHook[T](addr, opts...)
}

// Target returns the address of the hooked function.
func (h *Hook[T]) Target() uintptr {
	return h.target
}

// Enable sends calls for the target to replacement. The hook is created the
// first time; calling Enable on an enabled hook does nothing.
//
// Only the code address of replacement is installed, so it must be a plain
// function or method expression, not a closure that captures variables.
func (h *Hook[T]) Enable(replacement T) error {
	if !h.created {
		detour, err := mem.CodeAddr(replacement)
		if err != nil {
			return newHookError(ErrCouldNotCreate, h.target, err)
		}

		original, err := h.engine.Create(h.target, detour)
		if err != nil {
			return err
		}

		fn, err := mem.MakeFunc[T](original)
		if err != nil {
			return h.abandon(err)
		}

		h.original = fn
		h.created = true
	}

	if !h.enabled {
		if err := h.engine.Enable(h.target); err != nil {
			return err
		}
		h.enabled = true
	}

	return nil
}

// abandon removes a hook whose creation could not be finished and reports
// cause, along with any failure to remove it.
func (h *Hook[T]) abandon(cause error) error {
	if err := h.engine.Remove(h.target); err != nil {
		cause = errors.Join(cause, err)
	}
	return newHookError(ErrCouldNotCreate, h.target, cause)
}

// Disable stops intercepting calls, but keeps the hook so that it can be
// enabled again cheaply. Disabling a hook that isn't enabled does nothing.
func (h *Hook[T]) Disable() error {
	if !h.enabled {
		return nil
	}
	if err := h.engine.Disable(h.target); err != nil {
		return err
	}
	h.enabled = false
	return nil
}

// IsEnabled reports whether calls are currently being intercepted.
func (h *Hook[T]) IsEnabled() bool {
	return h.enabled
}

// Process returns the original function. A replacement calls it to forward
// to the code it replaced:
//
//	func replacement(a, b int) int {
//		return hook.Process()(a, b) * 2
//	}
//
// It works whether or not the hook is enabled. Before the first successful
// Enable there is no original yet and the returned function is nil.
func (h *Hook[T]) Process() T {
	return h.original
}

// Close removes the hook from the engine, disabling it first if needed. The
// hook is back to its initial state afterwards.
func (h *Hook[T]) Close() error {
	if err := h.engine.Remove(h.target); err != nil {
		return err
	}

	var zero T
	h.original = zero
	h.created = false
	h.enabled = false
	return nil
}
