//go:build unix && !linux

package mem

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// There's no portable way to ask these systems for the protection of a
// page, so every page is assumed to be read+execute. That's correct for code,
// which is what gets patched in practice.
const assumedProtection = unix.PROT_READ | unix.PROT_EXEC

func regionCommitted(addr uintptr) bool {
	pageSize := PageSize()
	page := unsafe.Slice((*byte)(unsafe.Pointer(addr&^(pageSize-1))), pageSize)
	err := unix.Msync(page, unix.MS_ASYNC)
	return !errors.Is(err, unix.ENOMEM)
}

func querySpans(start, length uintptr) ([]span, error) {
	pageSize := PageSize()
	for page := start; page < start+length; page += pageSize {
		if !regionCommitted(page) {
			return nil, unix.ENOMEM
		}
	}
	return []span{{start: start, end: start + length, prot: assumedProtection}}, nil
}
