//go:build unix

package mem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

var protToOS = map[Protection]int{
	Execute:          unix.PROT_EXEC,
	ExecuteRead:      unix.PROT_READ | unix.PROT_EXEC,
	ExecuteReadWrite: unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC,
	ExecuteWriteCopy: unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC,
	NoAccess:         unix.PROT_NONE,
	ReadOnly:         unix.PROT_READ,
	ReadWrite:        unix.PROT_READ | unix.PROT_WRITE,
	WriteCopy:        unix.PROT_READ | unix.PROT_WRITE,
	// Unix has no guard, no-cache or write-combine pages. These are the
	// nearest plain protections.
	GuardPage:    unix.PROT_NONE,
	NoCache:      unix.PROT_READ | unix.PROT_WRITE,
	WriteCombine: unix.PROT_READ | unix.PROT_WRITE,
}

func toNative(p Protection) (uint32, bool) {
	prot, ok := protToOS[p]
	return uint32(prot), ok
}

func fromNative(prot uint32) Protection {
	r := prot&unix.PROT_READ != 0
	w := prot&unix.PROT_WRITE != 0
	x := prot&unix.PROT_EXEC != 0

	switch {
	case x && w:
		return ExecuteReadWrite
	case x && r:
		return ExecuteRead
	case x:
		return Execute
	case w:
		return ReadWrite
	case r:
		return ReadOnly
	default:
		return NoAccess
	}
}

func osProtect(start, length uintptr, prot uint32) error {
	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), length)
	return unix.Mprotect(region, int(prot))
}
