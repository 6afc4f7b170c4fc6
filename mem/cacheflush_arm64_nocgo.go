//go:build arm64 && !cgo && !windows

package mem

// Flushing the instruction cache on arm64 needs the C compiler builtin. Build
// with CGO_ENABLED=1.
func FlushInstructionCache(addr, size uintptr) {
	arm64_requires_cgo_for_instruction_cache_flushing()
}
