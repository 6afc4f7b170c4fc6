package hotpatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTarget = uintptr(0x1000)
	testDetour = uintptr(0x2000)
	testOrig   = uintptr(0x3000)
)

func TestEngine_LazyInitialize(t *testing.T) {
	assert := assert.New(t)

	e, fake, _ := newTestEngine(testOrig)
	assert.Equal(0, fake.count("Initialize"))

	_, err := e.Create(testTarget, testDetour)
	assert.NoError(err)
	_, err = e.Create(testTarget+0x100, testDetour)
	assert.NoError(err)

	assert.Equal(1, fake.count("Initialize"))
}

func TestEngine_ConcurrentFirstCreate(t *testing.T) {
	assert := assert.New(t)

	e, fake, _ := newTestEngine(testOrig)

	const n = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = e.Create(testTarget+uintptr(i)*0x100, testDetour)
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(err)
	}
	assert.Equal(1, fake.count("Initialize"))
	assert.Equal(n, fake.count("Create"))
	for i := range n {
		_, ok := e.Lookup(testTarget + uintptr(i)*0x100)
		assert.True(ok)
	}
}

func TestEngine_InitializeFailure(t *testing.T) {
	assert := assert.New(t)

	e, fake, _ := newTestEngine(testOrig)
	fake.initErr = errors.New("no memory")

	_, err := e.Create(testTarget, testDetour)
	assert.ErrorIs(err, ErrCouldNotInitialize)
	assert.Contains(err.Error(), "no memory")
	assert.Equal(0, fake.count("Create"))

	_, ok := e.Lookup(testTarget)
	assert.False(ok)
}

func TestEngine_Create(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, fake, logs := newTestEngine(testOrig)

	original, err := e.Create(testTarget, testDetour)
	require.NoError(err)
	assert.Equal(testOrig, original)
	assert.Equal(testTarget, fake.lastTarget)
	assert.Equal(testDetour, fake.lastDetour)

	rec, ok := e.Lookup(testTarget)
	require.True(ok)
	assert.Equal(Record{Target: testTarget, Detour: testDetour, Original: testOrig}, rec)

	assert.Equal(1, logs.FilterMessage("hook created").Len())
}

func TestEngine_CreateFailure(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		e, fake, logs := newTestEngine(testOrig)
		fake.createErr = errors.New("too short")

		_, err := e.Create(testTarget, testDetour)
		assert.ErrorIs(t, err, ErrCouldNotCreate)

		var herr *HookError
		require.True(t, errors.As(err, &herr))
		assert.Equal(t, testTarget, herr.Addr)
		assert.Equal(t, "could not create hook at 0x1000: too short", herr.Error())

		_, ok := e.Lookup(testTarget)
		assert.False(t, ok)
		assert.Equal(t, 1, logs.FilterMessage("create failed").Len())
	})

	t.Run("already hooked", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)

		_, err := e.Create(testTarget, testDetour)
		require.NoError(t, err)
		_, err = e.Create(testTarget, testDetour)
		assert.ErrorIs(t, err, ErrCouldNotCreate)
		assert.Equal(t, 1, fake.count("Create"))
	})

	t.Run("null addresses", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)

		_, err := e.Create(0, testDetour)
		assert.ErrorIs(t, err, ErrCouldNotCreate)
		_, err = e.Create(testTarget, 0)
		assert.ErrorIs(t, err, ErrCouldNotCreate)
		assert.Equal(t, 0, fake.count("Initialize"))
	})
}

func TestEngine_EnableDisable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, fake, _ := newTestEngine(testOrig)

	assert.ErrorIs(e.Enable(testTarget), ErrCouldNotEnable)
	assert.ErrorIs(e.Disable(testTarget), ErrCouldNotDisable)
	assert.Equal(0, fake.count("Enable"))
	assert.Equal(0, fake.count("Disable"))

	_, err := e.Create(testTarget, testDetour)
	require.NoError(err)

	require.NoError(e.Enable(testTarget))
	rec, _ := e.Lookup(testTarget)
	assert.True(rec.Enabled)

	require.NoError(e.Disable(testTarget))
	rec, _ = e.Lookup(testTarget)
	assert.False(rec.Enabled)

	fake.enableErr = errors.New("boom")
	err = e.Enable(testTarget)
	assert.ErrorIs(err, ErrCouldNotEnable)
	rec, _ = e.Lookup(testTarget)
	assert.False(rec.Enabled)

	fake.disableErr = errors.New("boom")
	assert.ErrorIs(e.Disable(testTarget), ErrCouldNotDisable)
}

func TestEngine_Remove(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e, fake, _ := newTestEngine(testOrig)

	// Never created.
	assert.NoError(e.Remove(testTarget))
	assert.Equal(0, fake.count("Remove"))

	_, err := e.Create(testTarget, testDetour)
	require.NoError(err)
	require.NoError(e.Enable(testTarget))

	fake.removeErr = errors.New("busy")
	assert.ErrorIs(e.Remove(testTarget), ErrCouldNotRemove)
	_, ok := e.Lookup(testTarget)
	assert.True(ok)

	fake.removeErr = nil
	assert.NoError(e.Remove(testTarget))
	_, ok = e.Lookup(testTarget)
	assert.False(ok)

	// The address can be hooked again.
	_, err = e.Create(testTarget, testDetour)
	assert.NoError(err)
}

func TestEngine_Shutdown(t *testing.T) {
	t.Run("never initialized", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)
		assert.NoError(t, e.Shutdown())
		assert.Equal(t, 0, fake.count("Uninitialize"))

		_, err := e.Create(testTarget, testDetour)
		assert.ErrorIs(t, err, ErrCouldNotInitialize)
		assert.Equal(t, 0, fake.count("Initialize"))
	})

	t.Run("removes remaining hooks", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)
		_, err := e.Create(testTarget, testDetour)
		require.NoError(t, err)
		_, err = e.Create(testTarget+0x10, testDetour)
		require.NoError(t, err)

		assert.NoError(t, e.Shutdown())
		assert.Equal(t, 2, fake.count("Remove"))
		assert.Equal(t, 1, fake.count("Uninitialize"))

		// Nothing left to do.
		assert.NoError(t, e.Shutdown())
		assert.Equal(t, 1, fake.count("Uninitialize"))

		_, err = e.Create(testTarget, testDetour)
		assert.ErrorIs(t, err, ErrCouldNotInitialize)
		assert.Equal(t, 1, fake.count("Initialize"))
	})

	t.Run("uninitialize failure", func(t *testing.T) {
		e, fake, logs := newTestEngine(testOrig)
		_, err := e.Create(testTarget, testDetour)
		require.NoError(t, err)

		fake.uninitErr = errors.New("still in use")
		err = e.Shutdown()
		assert.ErrorIs(t, err, ErrCouldNotUninitialize)
		assert.Contains(t, err.Error(), "still in use")
		assert.Equal(t, 1, logs.FilterMessage("backend uninitialization failed").Len())
	})

	t.Run("remove failure", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)
		_, err := e.Create(testTarget, testDetour)
		require.NoError(t, err)

		fake.removeErr = errors.New("busy")
		err = e.Shutdown()
		assert.ErrorIs(t, err, ErrCouldNotUninitialize)
		assert.ErrorIs(t, err, ErrCouldNotRemove)
		assert.Equal(t, 0, fake.count("Uninitialize"))
	})
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func targetFunc(x int) int { return x }

func sameSignature(x int) int { return x + 1 }

func TestEngine_CreateFunc(t *testing.T) {
	t.Run("passes code addresses", func(t *testing.T) {
		e, fake, _ := newTestEngine(testOrig)

		original, err := e.CreateFunc(targetFunc, sameSignature)
		require.NoError(t, err)
		assert.Equal(t, testOrig, original)
		assert.NotZero(t, fake.lastTarget)
		assert.NotEqual(t, fake.lastTarget, fake.lastDetour)
	})

	t.Run("first arg not a function", func(t *testing.T) {
		e, _, _ := newTestEngine(testOrig)
		_, err := e.CreateFunc("not a function", sameSignature)
		assert.ErrorIs(t, err, ErrCouldNotCreate)
		assert.Contains(t, err.Error(), "not a function")
	})

	t.Run("second arg not a function", func(t *testing.T) {
		e, _, _ := newTestEngine(testOrig)
		_, err := e.CreateFunc(targetFunc, 42)
		assert.ErrorIs(t, err, ErrCouldNotCreate)
		assert.Contains(t, err.Error(), "not a function")
	})

	t.Run("nil args", func(t *testing.T) {
		e, _, _ := newTestEngine(testOrig)
		_, err := e.CreateFunc(nil, sameSignature)
		assert.Error(t, err)
		_, err = e.CreateFunc(targetFunc, nil)
		assert.Error(t, err)
	})

	mismatches := []struct {
		name  string
		a, b  any
		inErr string
	}{
		{"different number of inputs", func(x int) int { return x }, func(x, y int) int { return x + y }, "argument 1: <nil> != int"},
		{"different number of outputs", func() int { return 1 }, func() (int, error) { return 1, nil }, "output 1: <nil> != error"},
		{"different input types", func(x int) int { return x }, func(x string) int { return len(x) }, "argument 0: int != string"},
		{"different output types", func() int { return 1 }, func() string { return "1" }, "output 0: int != string"},
		{"variadic", func(x ...int) {}, func(x []int) {}, "only one function is variadic"},
	}
	for _, tc := range mismatches {
		t.Run(tc.name, func(t *testing.T) {
			e, fake, _ := newTestEngine(testOrig)
			_, err := e.CreateFunc(tc.a, tc.b)
			assert.ErrorIs(t, err, ErrCouldNotCreate)
			assert.Contains(t, err.Error(), "signatures do not match")
			assert.Contains(t, err.Error(), tc.inErr)
			assert.Equal(t, 0, fake.count("Create"))
		})
	}
}
