package mem

import "golang.org/x/sys/windows"

var procFlushInstructionCache = windows.NewLazySystemDLL("kernel32.dll").NewProc("FlushInstructionCache")

// FlushInstructionCache makes the CPU discard any cached instructions for
// [addr, addr+size). It must be called after patching code and before the
// patched code runs.
func FlushInstructionCache(addr, size uintptr) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
}
