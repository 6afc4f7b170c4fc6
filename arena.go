package hotpatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pboyd/malloc"
)

// defaultArenaSize is the initial size of the arena holding relays. It grows
// as needed.
const defaultArenaSize = 64 * 1024

// arena hands out executable memory for relays. The memory is read+execute
// except between BeginMutate and EndMutate.
type arena struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
	mutable  bool
}

// init maps the arena, preferring an address near hint. Relays jump to and
// from the functions they serve, so they need to be within jump range of the
// text segment.
func (a *arena) init(startSize int, hint uintptr) error {
	a.initOnce.Do(func() {
		opts := []malloc.BackendOpt{
			malloc.MmapProt(mprotectExec),
			malloc.MmapFlags(arenaMapFlags),
		}

		a.Arena = a.mmapArena(startSize, append(opts, malloc.MmapAddr(hint)))
		if a.Arena == nil {
			// Windows won't map at an address that is taken.
			a.Arena = a.mmapArena(startSize, opts)
		}
		if a.Arena == nil {
			a.initErr = errors.New("unable to initialize arena")
			return
		}
		a.mutable = true
	})
	return a.initErr
}

func (a *arena) mmapArena(startSize int, opts []malloc.BackendOpt) *malloc.Arena {
	be := malloc.MmapBackend(opts...)
	if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
		a.mprotect = protBE.Protect
	} else {
		a.mprotect = func(int) error {
			return nil
		}
	}
	return malloc.NewArena(uint64(startSize), malloc.Backend(be))
}

func (a *arena) BeginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mprotect == nil || a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *arena) EndMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mprotect == nil || !a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}

// Allocate returns size bytes of arena memory. It must be called between
// BeginMutate and EndMutate.
func (a *arena) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Arena == nil {
		return nil, errors.New("arena is not initialized")
	}
	if !a.mutable {
		return nil, errors.New("arena allocation outside of BeginMutate/EndMutate")
	}

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes: %w", size, err)
	}
	return buf, nil
}

// Free returns buf to the arena. It must be called between BeginMutate and
// EndMutate.
func (a *arena) Free(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		return errors.New("arena free outside of BeginMutate/EndMutate")
	}

	malloc.FreeSlice(a.Arena, buf)
	return nil
}
