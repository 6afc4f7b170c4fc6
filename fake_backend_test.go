package hotpatch

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	original uintptr

	initErr    error
	uninitErr  error
	createErr  error
	enableErr  error
	disableErr error
	removeErr  error

	lastTarget, lastDetour uintptr
}

func newFakeBackend(original uintptr) *fakeBackend {
	return &fakeBackend{calls: map[string]int{}, original: original}
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) Initialize() error {
	f.record("Initialize")
	return f.initErr
}

func (f *fakeBackend) Uninitialize() error {
	f.record("Uninitialize")
	return f.uninitErr
}

func (f *fakeBackend) Create(target, detour uintptr) (uintptr, error) {
	f.record("Create")
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.lastTarget, f.lastDetour = target, detour
	return f.original, nil
}

func (f *fakeBackend) Enable(target uintptr) error {
	f.record("Enable")
	return f.enableErr
}

func (f *fakeBackend) Disable(target uintptr) error {
	f.record("Disable")
	return f.disableErr
}

func (f *fakeBackend) Remove(target uintptr) error {
	f.record("Remove")
	return f.removeErr
}

// newTestEngine returns an engine over a fake backend along with the
// observed logs.
func newTestEngine(original uintptr) (*Engine, *fakeBackend, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	fake := newFakeBackend(original)
	return NewEngine(WithBackend(fake), WithLogger(zap.New(core))), fake, logs
}

func zapNop() *zap.Logger { return zap.NewNop() }
