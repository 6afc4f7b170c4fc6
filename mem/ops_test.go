package mem

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWriteRead[T comparable](t *testing.T, addr uintptr, v T) {
	t.Helper()
	require.NoError(t, Write(addr, v))
	got, err := Read[T](addr)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestWriteRead(t *testing.T) {
	skipUnlessQueryable(t)
	addr := scratch(t, 32)

	testWriteRead(t, addr, uint8(0xab))
	testWriteRead(t, addr+1, uint16(0xbeef))
	testWriteRead(t, addr+3, uint32(0xdeadbeef))
	testWriteRead(t, addr+7, uint64(0x0123456789abcdef))
	testWriteRead(t, addr+16, float64(3.14159))
	testWriteRead(t, addr, struct{ A, B int32 }{-1, 7})
}

func TestWriteRead_Pointer(t *testing.T) {
	skipUnlessQueryable(t)

	var target int64
	require.NoError(t, WritePtr(unsafe.Pointer(&target), int64(-42)))
	assert.Equal(t, int64(-42), target)

	v, err := ReadPtr[int64](unsafe.Pointer(&target))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)
}

// growStack uses enough stack to move a fresh goroutine's stack, then runs fn.
//
//go:noinline
func growStack(depth int, fn func()) byte {
	var pad [1 << 10]byte
	if depth == 0 {
		fn()
		return pad[0]
	}
	pad[depth%len(pad)] = byte(depth)
	return growStack(depth-1, fn) + pad[0]
}

// stackWrite writes to a local through WritePtr from deep enough in a new
// goroutine that the stack is copied during the call, and returns what the
// local holds afterwards.
//
//go:noinline
func stackWrite(v int64) (int64, int64, error) {
	var local [4]int64
	p := unsafe.Pointer(&local[2])
	var read int64
	var err error
	growStack(32, func() {
		if err = WritePtr(p, v); err != nil {
			return
		}
		read, err = ReadPtr[int64](p)
	})
	return local[2], read, err
}

func TestWriteRead_StackTarget(t *testing.T) {
	skipUnlessQueryable(t)

	type result struct {
		stored, read int64
		err          error
	}
	ch := make(chan result)
	go func() {
		var r result
		r.stored, r.read, r.err = stackWrite(0x5eed)
		ch <- r
	}()
	r := <-ch

	require.NoError(t, r.err)
	assert.Equal(t, int64(0x5eed), r.stored)
	assert.Equal(t, int64(0x5eed), r.read)
}

func TestRead_Null(t *testing.T) {
	_, err := Read[uint32](0)
	assert.ErrorIs(t, err, ErrAddressIsNull)

	assert.ErrorIs(t, Write(0, uint8(1)), ErrAddressIsNull)
}

func TestNop(t *testing.T) {
	skipUnlessQueryable(t)

	addr := scratch(t, 16)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 16)

	require.NoError(t, Nop(addr+4, 8))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[:4])
	assert.Equal(t, bytes.Repeat([]byte{NopOpcode}, 8), buf[4:12])
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[12:])

	require.NoError(t, NopPtr(unsafe.Pointer(&buf[0]), 2))
	assert.Equal(t, []byte{NopOpcode, NopOpcode}, buf[:2])
}

func TestSet(t *testing.T) {
	skipUnlessQueryable(t)

	buf := make([]byte, 8)
	require.NoError(t, SetPtr(unsafe.Pointer(&buf[0]), 0x7f, 8))
	assert.Equal(t, bytes.Repeat([]byte{0x7f}, 8), buf)

	assert.ErrorIs(t, SetPtr(unsafe.Pointer(&buf[0]), 0x7f, 0), ErrSizeIsZero)
}

func TestCopy(t *testing.T) {
	skipUnlessQueryable(t)
	assert := assert.New(t)
	require := require.New(t)

	src := []byte("patched!")
	addr := scratch(t, len(src))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(src))

	require.NoError(CopyPtr(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), uintptr(len(src))))
	assert.Equal(src, dst)

	require.NoError(CopyBytes(addr, []byte("PATCH")))
	assert.Equal("PATCHed!", string(dst))

	assert.ErrorIs(CopyBytes(addr, nil), ErrSizeIsZero)
}

//go:noinline
func addForCall(a, b int) int {
	return a + b
}

func TestCall(t *testing.T) {
	skipUnlessQueryable(t)

	addr, err := CodeAddr(addForCall)
	require.NoError(t, err)

	sum, err := Call(addr, func(add func(int, int) int) int {
		return add(1, 2)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	sum, err = CallPtr(unsafe.Pointer(addr), func(add func(int, int) int) int {
		return add(40, 2)
	})
	require.NoError(t, err)
	assert.Equal(t, 42, sum)
}

func TestCall_NotAFunction(t *testing.T) {
	addr, err := CodeAddr(addForCall)
	require.NoError(t, err)

	_, err = Call(addr, func(n int) int { return n })
	assert.ErrorIs(t, err, ErrNotAFunction)

	_, err = CodeAddr(42)
	assert.ErrorIs(t, err, ErrNotAFunction)
}

func TestMakeFunc(t *testing.T) {
	addr, err := CodeAddr(addForCall)
	require.NoError(t, err)

	add, err := MakeFunc[func(int, int) int](addr)
	require.NoError(t, err)
	assert.Equal(t, 9, add(4, 5))

	nilFn, err := MakeFunc[func()](0)
	require.NoError(t, err)
	assert.Nil(t, nilFn)
}
