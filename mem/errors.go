package mem

import (
	"errors"
	"fmt"
)

var (
	ErrAddressIsNull        = errors.New("address is null")
	ErrSizeIsZero           = errors.New("size is zero")
	ErrRegionIsNotAvailable = errors.New("region is not available")
	ErrVirtualProtectFailed = errors.New("changing memory protection failed")
	ErrNotAFunction         = errors.New("not a function")
)

// ProtectionError is returned when a guard cannot be acquired or released.
// Kind is one of the Err* sentinels above and Err, if set, is the error
// reported by the operating system.
type ProtectionError struct {
	Addr uintptr
	Size uintptr
	Kind error
	Err  error
}

func newProtectionError(kind error, addr, size uintptr, err error) *ProtectionError {
	return &ProtectionError{Addr: addr, Size: size, Kind: kind, Err: err}
}

func (e *ProtectionError) Error() string {
	msg := fmt.Sprintf("%v at 0x%x (size %d)", e.Kind, e.Addr, e.Size)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
