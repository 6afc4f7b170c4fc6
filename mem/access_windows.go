package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var protToOS = map[Protection]uint32{
	Execute:          windows.PAGE_EXECUTE,
	ExecuteRead:      windows.PAGE_EXECUTE_READ,
	ExecuteReadWrite: windows.PAGE_EXECUTE_READWRITE,
	ExecuteWriteCopy: windows.PAGE_EXECUTE_WRITECOPY,
	NoAccess:         windows.PAGE_NOACCESS,
	ReadOnly:         windows.PAGE_READONLY,
	ReadWrite:        windows.PAGE_READWRITE,
	WriteCopy:        windows.PAGE_WRITECOPY,
	GuardPage:        windows.PAGE_GUARD,
	NoCache:          windows.PAGE_NOCACHE,
	WriteCombine:     windows.PAGE_WRITECOMBINE,
}

// The guard, no-cache and write-combine flags modify one of the base
// protections.
const protModifiers = windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE

func toNative(p Protection) (uint32, bool) {
	prot, ok := protToOS[p]
	return prot, ok
}

func fromNative(prot uint32) Protection {
	base := prot &^ protModifiers
	if base == 0 {
		base = prot
	}
	for p, native := range protToOS {
		if native == base {
			return p
		}
	}
	return NoAccess
}

func virtualQuery(addr uintptr) (windows.MemoryBasicInformation, error) {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi))
	return mbi, err
}

func regionCommitted(addr uintptr) bool {
	mbi, err := virtualQuery(addr)
	return err == nil && mbi.State == windows.MEM_COMMIT
}

// querySpans walks the regions covering [start, start+length). VirtualQuery
// reports runs of pages that share state and protection.
func querySpans(start, length uintptr) ([]span, error) {
	end := start + length
	var spans []span

	for next := start; next < end; {
		mbi, err := virtualQuery(next)
		if err != nil {
			return nil, err
		}
		if mbi.State != windows.MEM_COMMIT {
			return nil, fmt.Errorf("0x%x is not committed", next)
		}

		regionEnd := mbi.BaseAddress + mbi.RegionSize
		s := span{start: next, end: min(regionEnd, end), prot: mbi.Protect}
		spans = append(spans, s)
		next = s.end
	}

	return spans, nil
}

func osProtect(start, length uintptr, prot uint32) error {
	var old uint32
	return windows.VirtualProtect(start, length, prot, &old)
}
