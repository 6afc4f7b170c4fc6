package mem

import (
	"runtime"
	"testing"
	"unsafe"
)

// skipUnlessQueryable skips tests that guard data pages on systems where the
// previous protection can't be read back.
func skipUnlessQueryable(t *testing.T) {
	t.Helper()
	switch runtime.GOOS {
	case "linux", "windows":
	default:
		t.Skipf("page protection cannot be queried on %s", runtime.GOOS)
	}
}

// scratch returns the address of a heap buffer that stays alive for the
// rest of the test.
func scratch(t *testing.T, size int) uintptr {
	t.Helper()
	buf := make([]byte, size)
	t.Cleanup(func() { runtime.KeepAlive(buf) })
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}
