package mem

import (
	"fmt"
	"os"
)

// span is a page-aligned part of a range that shares one native protection
// value.
type span struct {
	start, end uintptr
	prot       uint32
}

// PageSize returns the size of a memory page.
func PageSize() uintptr {
	return uintptr(os.Getpagesize())
}

// pageBounds rounds [addr, addr+size) out to whole pages.
func pageBounds(addr, size uintptr) (start, length uintptr) {
	pageSize := PageSize()
	start = addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	return start, end - start
}

// IsRegionAvailable reports whether the page containing addr is committed
// memory. It should be checked before touching memory through a raw address.
//
// Memory that is only reserved is not available. On Linux that includes any
// page mapped with no access at all.
func IsRegionAvailable(addr uintptr) bool {
	if addr == 0 {
		return false
	}
	return regionCommitted(addr)
}

// SetProtection changes the protection of [addr, addr+size) to next and
// returns the protection the first page had before the change.
func SetProtection(addr, size uintptr, next Protection) (Protection, error) {
	spans, err := swapProtection(addr, size, next)
	if err != nil {
		return 0, newProtectionError(ErrVirtualProtectFailed, addr, size, err)
	}
	return fromNative(spans[0].prot), nil
}

// CurrentProtection returns the protection of the page containing addr.
func CurrentProtection(addr uintptr) (Protection, error) {
	start, length := pageBounds(addr, 1)
	spans, err := querySpans(start, length)
	if err != nil {
		return 0, newProtectionError(ErrRegionIsNotAvailable, addr, 1, err)
	}
	return fromNative(spans[0].prot), nil
}

// swapProtection switches the pages covering [addr, addr+size) to next and
// returns what they were before, one span per distinct protection.
func swapProtection(addr, size uintptr, next Protection) ([]span, error) {
	native, ok := toNative(next)
	if !ok {
		return nil, fmt.Errorf("unsupported protection %v", next)
	}

	start, length := pageBounds(addr, size)
	spans, err := querySpans(start, length)
	if err != nil {
		return nil, err
	}

	if err := osProtect(start, length, native); err != nil {
		return nil, err
	}
	return spans, nil
}

// restoreSpans puts back protection recorded by swapProtection.
func restoreSpans(spans []span) error {
	for _, s := range spans {
		if err := osProtect(s.start, s.end-s.start, s.prot); err != nil {
			return fmt.Errorf("restoring 0x%x-0x%x: %w", s.start, s.end, err)
		}
	}
	return nil
}
