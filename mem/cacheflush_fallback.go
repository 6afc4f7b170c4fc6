//go:build !arm64 && !windows

package mem

// FlushInstructionCache is a no-op: x86 keeps the instruction cache coherent
// with writes on its own.
func FlushInstructionCache(addr, size uintptr) {}
