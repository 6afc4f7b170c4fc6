//go:build windows

package hotpatch

import "golang.org/x/sys/windows"

const (
	mprotectExec = windows.PAGE_EXECUTE
	mprotectRX   = windows.PAGE_EXECUTE_READ
	mprotectRWX  = windows.PAGE_EXECUTE_READWRITE
)

// Windows has no equivalent to MAP_32BIT. We'll have to trust the OS to give
// the arena an address near enough to the text segment.
const arenaMapFlags = 0
