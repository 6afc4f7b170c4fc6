package mem

// Guard makes a range of memory readable, writable and executable until it is
// released. Use it for any raw access to process memory:
//
//	g, err := mem.NewGuard(addr, 5)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
type Guard struct {
	addr, size uintptr
	previous   Protection

	// What the pages looked like before, so they can be put back exactly.
	spans    []span
	released bool
}

// NewGuard removes the protection from [addr, addr+size).
//
// The checks happen in order: a null address fails with ErrAddressIsNull, a
// zero size with ErrSizeIsZero, an uncommitted page with
// ErrRegionIsNotAvailable (without touching any protection), and a failed
// protection change with ErrVirtualProtectFailed.
func NewGuard(addr, size uintptr) (*Guard, error) {
	if addr == 0 {
		return nil, newProtectionError(ErrAddressIsNull, addr, size, nil)
	}
	if size == 0 {
		return nil, newProtectionError(ErrSizeIsZero, addr, size, nil)
	}
	if !IsRegionAvailable(addr) {
		return nil, newProtectionError(ErrRegionIsNotAvailable, addr, size, nil)
	}

	spans, err := swapProtection(addr, size, ExecuteReadWrite)
	if err != nil {
		return nil, newProtectionError(ErrVirtualProtectFailed, addr, size, err)
	}

	return &Guard{
		addr:     addr,
		size:     size,
		previous: fromNative(spans[0].prot),
		spans:    spans,
	}, nil
}

// NewPageGuard removes the protection from the page-sized range starting at
// addr.
func NewPageGuard(addr uintptr) (*Guard, error) {
	return NewGuard(addr, PageSize())
}

// Addr returns the start of the guarded range.
func (g *Guard) Addr() uintptr { return g.addr }

// Size returns the length of the guarded range.
func (g *Guard) Size() uintptr { return g.size }

// Previous returns the protection the first guarded page had before the guard
// was acquired.
func (g *Guard) Previous() Protection { return g.previous }

// Release restores the protection the range had before the guard was
// acquired. Calling it again after it succeeded does nothing.
//
// A failure here means the pages are still writable and executable. It is
// returned rather than ignored; the guard stays held so Release can be retried.
func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	if err := restoreSpans(g.spans); err != nil {
		return newProtectionError(ErrVirtualProtectFailed, g.addr, g.size, err)
	}
	g.released = true
	return nil
}
