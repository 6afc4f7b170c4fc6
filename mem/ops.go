package mem

import (
	"errors"
	"unsafe"
)

// NopOpcode is the single byte x86 NOP instruction.
const NopOpcode = 0x90

// The *Ptr functions are the primary forms. They hold the destination as an
// unsafe.Pointer for the whole operation and never hand it to an indirect
// call, so a local passed in stays on its goroutine's stack and the pointer
// follows it if the stack moves.
//
// The uintptr forms are for memory the garbage collector doesn't manage, such
// as code and mappings made outside the Go heap. The address must not point
// into a goroutine stack: nothing updates a uintptr when the stack moves.

func bytesAt(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), size)
}

// release flushes the instruction cache for the guarded range and restores
// its protection, joining a failure into *err.
func release(g *Guard, err *error) {
	FlushInstructionCache(g.Addr(), g.Size())
	*err = errors.Join(*err, g.Release())
}

// ReadPtr returns the value of type T stored at p. T should be plain data;
// pointers read this way are invisible to the garbage collector.
func ReadPtr[T any](p unsafe.Pointer) (out T, err error) {
	size := unsafe.Sizeof(out)
	g, err := NewGuard(uintptr(p), size)
	if err != nil {
		return out, err
	}
	defer release(g, &err)

	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out)), size), bytesAt(p, size))
	return out, nil
}

// Read is ReadPtr for an address outside any goroutine stack.
func Read[T any](addr uintptr) (T, error) {
	return ReadPtr[T](unsafe.Pointer(addr))
}

// WritePtr stores v at p.
func WritePtr[T any](p unsafe.Pointer, v T) (err error) {
	size := unsafe.Sizeof(v)
	g, err := NewGuard(uintptr(p), size)
	if err != nil {
		return err
	}
	defer release(g, &err)

	copy(bytesAt(p, size), unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))
	return nil
}

// Write is WritePtr for an address outside any goroutine stack.
func Write[T any](addr uintptr, v T) error {
	return WritePtr(unsafe.Pointer(addr), v)
}

// SetPtr fills size bytes starting at p with b.
func SetPtr(p unsafe.Pointer, b byte, size uintptr) (err error) {
	g, err := NewGuard(uintptr(p), size)
	if err != nil {
		return err
	}
	defer release(g, &err)

	buf := bytesAt(p, size)
	for i := range buf {
		buf[i] = b
	}
	return nil
}

// Set is SetPtr for an address outside any goroutine stack.
func Set(addr uintptr, b byte, size uintptr) error {
	return SetPtr(unsafe.Pointer(addr), b, size)
}

// NopPtr fills size bytes starting at p with NOP instructions.
func NopPtr(p unsafe.Pointer, size uintptr) error {
	return SetPtr(p, NopOpcode, size)
}

// Nop is NopPtr for an address outside any goroutine stack.
func Nop(addr, size uintptr) error {
	return NopPtr(unsafe.Pointer(addr), size)
}

// CopyPtr copies size bytes from src to dst. src can be any readable memory
// outside the destination range.
func CopyPtr(dst, src unsafe.Pointer, size uintptr) (err error) {
	g, err := NewGuard(uintptr(dst), size)
	if err != nil {
		return err
	}
	defer release(g, &err)

	copy(bytesAt(dst, size), bytesAt(src, size))
	return nil
}

// Copy is CopyPtr for a destination outside any goroutine stack.
func Copy(addr uintptr, src unsafe.Pointer, size uintptr) error {
	return CopyPtr(unsafe.Pointer(addr), src, size)
}

// CopyBytes copies buf to addr, which must be outside any goroutine stack.
func CopyBytes(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return newProtectionError(ErrSizeIsZero, addr, 0, nil)
	}
	return Copy(addr, unsafe.Pointer(unsafe.SliceData(buf)), uintptr(len(buf)))
}

// CallPtr treats the code at p as a function of type F and hands it to
// invoke, returning whatever invoke returns. The page at p is made executable
// for the duration of invoke only:
//
//	sum, err := mem.CallPtr(p, func(add func(int, int) int) int {
//		return add(1, 2)
//	})
func CallPtr[F, R any](p unsafe.Pointer, invoke func(F) R) (ret R, err error) {
	fn, err := MakeFunc[F](uintptr(p))
	if err != nil {
		return ret, err
	}

	g, err := NewGuard(uintptr(p), PageSize())
	if err != nil {
		return ret, err
	}
	defer release(g, &err)

	return invoke(fn), nil
}

// Call is CallPtr for code at a plain address.
func Call[F, R any](addr uintptr, invoke func(F) R) (R, error) {
	return CallPtr[F, R](unsafe.Pointer(addr), invoke)
}
