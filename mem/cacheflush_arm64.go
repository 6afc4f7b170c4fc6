//go:build arm64 && cgo && !windows

package mem

/*
static void clear_cache(char *start, char *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"

import "unsafe"

// FlushInstructionCache makes the CPU discard any cached instructions for
// [addr, addr+size). It must be called after patching code and before the
// patched code runs.
func FlushInstructionCache(addr, size uintptr) {
	start := unsafe.Pointer(addr)
	end := unsafe.Pointer(addr + size)
	C.clear_cache((*C.char)(start), (*C.char)(end))
}
