package hotpatch

import (
	"fmt"
	"reflect"
	"unsafe"
)

// These mirror the head of the runtime's function table structures. Only the
// fields up to the ones read here are declared; everything after them is
// left out. See runtime/symtab.go.

type funcInfo struct {
	*_func
	datap *moduledata
}

type _func struct {
	entryOff uint32 // start pc, as offset from moduledata.text
	nameOff  int32
}

// moduledata describes the layout of the executable image. It is written by
// the linker; see cmd/link/internal/ld/symtab.go.
type moduledata struct {
	pcHeader     unsafe.Pointer
	funcnametab  []byte
	cutab        []uint32
	filetab      []byte
	pctab        []byte
	pclntable    []byte
	ftab         []functab
	findfunctab  uintptr
	minpc, maxpc uintptr

	text, etext           uintptr
	noptrdata, enoptrdata uintptr
	data, edata           uintptr
	bss, ebss             uintptr
	noptrbss, enoptrbss   uintptr
	covctrs, ecovctrs     uintptr
	end                   uintptr
}

type functab struct {
	entryoff uint32 // relative to runtime.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo

// funcBody returns the machine code of the Go function that starts at entry.
func funcBody(entry uintptr) ([]byte, error) {
	info := findfunc(entry)
	if info._func == nil {
		return nil, fmt.Errorf("no Go function at 0x%x", entry)
	}

	funcOffset := uint32(entry - info.datap.text)
	if info.entryOff != funcOffset {
		return nil, fmt.Errorf("0x%x is not the entry of a Go function", entry)
	}

	// The function ends where the closest function after it starts.
	length := uint32(info.datap.etext - entry)
	for _, ft := range info.datap.ftab {
		if ft.entryoff <= funcOffset {
			continue
		}
		if gap := ft.entryoff - funcOffset; gap < length {
			length = gap
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(entry)), length), nil
}

// arenaHint returns a suggested address for executable memory: the first
// 1MiB boundary past the end of this module's image.
func arenaHint() uintptr {
	info := findfunc(reflect.ValueOf(arenaHint).Pointer())
	if info._func == nil {
		return 0
	}
	return (info.datap.end + 1<<20 - 1) &^ (1<<20 - 1)
}
