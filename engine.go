package hotpatch

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Backend generates and installs trampolines. Every method except Initialize
// and Uninitialize is keyed by the address of the hooked function.
//
// The Engine serializes all calls to a Backend.
type Backend interface {
	// Initialize prepares the backend. It is called once, before the first
	// Create.
	Initialize() error

	// Uninitialize releases everything Initialize set up.
	Uninitialize() error

	// Create prepares a trampoline that sends calls to target to detour
	// without installing it. It returns the address of code that behaves
	// like the original target.
	Create(target, detour uintptr) (original uintptr, err error)

	// Enable installs the trampoline for target.
	Enable(target uintptr) error

	// Disable uninstalls the trampoline for target, keeping it around.
	Disable(target uintptr) error

	// Remove uninstalls and frees the trampoline for target.
	Remove(target uintptr) error
}

// Record is the engine's view of one hooked address.
type Record struct {
	Target   uintptr
	Detour   uintptr
	Original uintptr
	Enabled  bool
}

// Engine manages hooks through a Backend. The backend is initialized the
// first time a hook is created and uninitialized by Shutdown; neither happens
// more than once.
type Engine struct {
	backend Backend
	logger  *zap.Logger

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	records     map[uintptr]*Record
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	backend   Backend
	logger    *zap.Logger
	arenaSize int
}

// WithBackend replaces the default relay backend.
func WithBackend(b Backend) Option {
	return func(o *engineOptions) { o.backend = b }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithArenaSize sets the initial size of the executable arena used by the
// default backend to hold relays.
func WithArenaSize(size int) Option {
	return func(o *engineOptions) { o.arenaSize = size }
}

// NewEngine returns an engine. Nothing is initialized until the first hook is
// created.
func NewEngine(opts ...Option) *Engine {
	o := engineOptions{arenaSize: defaultArenaSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.backend == nil {
		o.backend = newRelayBackend(o.arenaSize, o.logger)
	}

	return &Engine{
		backend: o.backend,
		logger:  o.logger,
		records: map[uintptr]*Record{},
	}
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Default returns the process-wide engine used by hooks that weren't given
// one.
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngine()
	})
	return defaultEngine
}

// initLocked initializes the backend if that hasn't happened yet.
func (e *Engine) initLocked() error {
	if e.initialized {
		return nil
	}
	if e.shutdown {
		return newHookError(ErrCouldNotInitialize, 0, errors.New("engine was shut down"))
	}

	if err := e.backend.Initialize(); err != nil {
		e.logger.Warn("backend initialization failed", zap.Error(err))
		return newHookError(ErrCouldNotInitialize, 0, err)
	}
	e.initialized = true
	e.logger.Debug("backend initialized")
	return nil
}

// Create prepares a hook that sends calls to target to detour, but doesn't
// enable it. It returns the address of code that behaves like the original
// target. Either the hook is fully created or nothing changes.
func (e *Engine) Create(target, detour uintptr) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case target == 0:
		return 0, newHookError(ErrCouldNotCreate, target, errors.New("target is null"))
	case detour == 0:
		return 0, newHookError(ErrCouldNotCreate, target, errors.New("detour is null"))
	}

	if err := e.initLocked(); err != nil {
		return 0, err
	}

	if _, ok := e.records[target]; ok {
		return 0, newHookError(ErrCouldNotCreate, target, errors.New("already hooked"))
	}

	log := e.logger.With(zap.Uintptr("target", target), zap.Uintptr("detour", detour))

	original, err := e.backend.Create(target, detour)
	if err != nil {
		log.Warn("create failed", zap.Error(err))
		return 0, newHookError(ErrCouldNotCreate, target, err)
	}

	e.records[target] = &Record{Target: target, Detour: detour, Original: original}
	log.Debug("hook created", zap.Uintptr("original", original))
	return original, nil
}

// CreateFunc is Create for Go functions. target and replacement must be
// functions with identical signatures.
func (e *Engine) CreateFunc(target, replacement any) (uintptr, error) {
	targetv := reflect.ValueOf(target)
	if targetv.Kind() != reflect.Func {
		return 0, newHookError(ErrCouldNotCreate, 0, fmt.Errorf("target is not a function, kind: %v", targetv.Kind()))
	}
	replacementv := reflect.ValueOf(replacement)
	if replacementv.Kind() != reflect.Func {
		return 0, newHookError(ErrCouldNotCreate, targetv.Pointer(), fmt.Errorf("replacement is not a function, kind: %v", replacementv.Kind()))
	}
	if err := diffFuncs(targetv, replacementv).Error(); err != nil {
		return 0, newHookError(ErrCouldNotCreate, targetv.Pointer(), fmt.Errorf("function signatures do not match: %w", err))
	}

	return e.Create(targetv.Pointer(), replacementv.Pointer())
}

// Enable installs a hook made by Create.
func (e *Engine) Enable(target uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[target]
	if !ok {
		return newHookError(ErrCouldNotEnable, target, errors.New("not created"))
	}
	if err := e.backend.Enable(target); err != nil {
		e.logger.Warn("enable failed", zap.Uintptr("target", target), zap.Error(err))
		return newHookError(ErrCouldNotEnable, target, err)
	}

	rec.Enabled = true
	e.logger.Debug("hook enabled", zap.Uintptr("target", target))
	return nil
}

// Disable uninstalls a hook, leaving it ready to be enabled again.
func (e *Engine) Disable(target uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[target]
	if !ok {
		return newHookError(ErrCouldNotDisable, target, errors.New("not created"))
	}
	if err := e.backend.Disable(target); err != nil {
		e.logger.Warn("disable failed", zap.Uintptr("target", target), zap.Error(err))
		return newHookError(ErrCouldNotDisable, target, err)
	}

	rec.Enabled = false
	e.logger.Debug("hook disabled", zap.Uintptr("target", target))
	return nil
}

// Remove uninstalls and frees a hook. Removing an address that was never
// hooked does nothing.
func (e *Engine) Remove(target uintptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.removeLocked(target)
}

func (e *Engine) removeLocked(target uintptr) error {
	if _, ok := e.records[target]; !ok {
		return nil
	}
	if err := e.backend.Remove(target); err != nil {
		e.logger.Warn("remove failed", zap.Uintptr("target", target), zap.Error(err))
		return newHookError(ErrCouldNotRemove, target, err)
	}

	delete(e.records, target)
	e.logger.Debug("hook removed", zap.Uintptr("target", target))
	return nil
}

// Lookup returns the record for target, if it has been created.
func (e *Engine) Lookup(target uintptr) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[target]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Shutdown removes every remaining hook and uninitializes the backend. The
// engine can't be used afterwards. Shutting down an engine that never created
// a hook does nothing.
//
// An error wrapping ErrCouldNotUninitialize means trampoline memory may still
// be live; it should not be ignored.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// New hooks can't be created from here on, even if the rest fails.
	e.shutdown = true
	if !e.initialized {
		return nil
	}

	var errs []error
	for target := range e.records {
		if err := e.removeLocked(target); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return newHookError(ErrCouldNotUninitialize, 0, err)
	}

	if err := e.backend.Uninitialize(); err != nil {
		e.logger.Error("backend uninitialization failed", zap.Error(err))
		return newHookError(ErrCouldNotUninitialize, 0, err)
	}
	e.initialized = false
	e.logger.Debug("backend uninitialized")
	return nil
}
