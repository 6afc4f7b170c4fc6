package hotpatch

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"go.uber.org/zap"

	"github.com/pboyd/hotpatch/mem"
)

// relayBufSize is the arena space reserved for each relay. A relay holds a
// few copied instructions and a jump, so this is generous.
const relayBufSize = 128

// relayBackend is the default Backend. It hooks Go functions by overwriting
// their entry with a jump to the detour. The instructions that jump replaces
// are copied into an executable arena first, followed by a jump back to the
// rest of the function, so the original can still be called. That copy is
// the relay.
//
// Only the copied instructions ever run from the arena, and they never make
// calls. Every frame the runtime unwinds belongs to a real Go function.
//
// When the function checks for stack growth, its morestack path ends with a
// jump back to the entry. While the hook is enabled that jump is pointed at a
// second jump, placed right after the detour jump, which leads to the relay.
// Growing the stack from the relay then restarts the relay, not the detour.
type relayBackend struct {
	arena     *arena
	arenaSize int
	logger    *zap.Logger

	initialized bool
	relays      map[uintptr]*relay
}

type relay struct {
	// The hooked function's code, in place.
	body []byte
	// A copy of body from before it was patched.
	saved []byte
	// The copied prologue and jump back, in the arena.
	code []byte
	// Offset in body of the jump back to the entry after stack growth, or
	// -1.
	resume int

	detour  uintptr
	enabled bool
}

func newRelayBackend(arenaSize int, logger *zap.Logger) *relayBackend {
	return &relayBackend{
		arena:     &arena{},
		arenaSize: arenaSize,
		logger:    logger,
	}
}

func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}

// isMorestack reports whether pc is one of the runtime's stack growth entry
// points.
func isMorestack(pc uintptr) bool {
	f := runtime.FuncForPC(pc)
	return f != nil && f.Entry() == pc && strings.HasPrefix(f.Name(), "runtime.morestack")
}

func (b *relayBackend) Initialize() error {
	if b.initialized {
		return errors.New("relay backend is already initialized")
	}
	if err := b.arena.init(b.arenaSize, arenaHint()); err != nil {
		return err
	}

	b.relays = map[uintptr]*relay{}
	b.initialized = true
	return nil
}

func (b *relayBackend) Uninitialize() error {
	if !b.initialized {
		return errors.New("relay backend is not initialized")
	}
	if len(b.relays) > 0 {
		return fmt.Errorf("%d relays are still installed", len(b.relays))
	}

	// The arena stays mapped; a later Initialize reuses it.
	b.relays = nil
	b.initialized = false
	return nil
}

func (b *relayBackend) lookup(target uintptr) (*relay, error) {
	if !b.initialized {
		return nil, errors.New("relay backend is not initialized")
	}
	r, ok := b.relays[target]
	if !ok {
		return nil, fmt.Errorf("no relay for 0x%x", target)
	}
	return r, nil
}

func (b *relayBackend) Create(target, detour uintptr) (uintptr, error) {
	if !b.initialized {
		return 0, errors.New("relay backend is not initialized")
	}
	if _, ok := b.relays[target]; ok {
		return 0, fmt.Errorf("0x%x already has a relay", target)
	}

	body, err := funcBody(target)
	if err != nil {
		return 0, err
	}
	if len(body) < jumpSize {
		return 0, fmt.Errorf("function is %d bytes, too short for a jump", len(body))
	}

	resume, err := findResumeJump(body)
	if err != nil {
		return 0, err
	}
	if !jumpInRange(target, detour) {
		return 0, fmt.Errorf("detour 0x%x is out of jump range", detour)
	}

	// The detour jump, and the jump to the relay after it when the stack
	// growth path needs one.
	need := jumpSize
	if resume >= 0 {
		need = 2 * jumpSize
		if resume < need {
			return 0, fmt.Errorf("stack growth path at offset %d overlaps the entry", resume)
		}
	}

	code, err := b.buildRelay(body, need, resume)
	if err != nil {
		return 0, err
	}
	if resume >= 0 && !jumpInRange(target+jumpSize, addrOf(code)) {
		b.freeRelay(code)
		return 0, fmt.Errorf("relay 0x%x is out of jump range", addrOf(code))
	}

	if ce := b.logger.Check(zap.DebugLevel, "relay built"); ce != nil {
		listing, _ := disassemble(code)
		ce.Write(zap.Uintptr("target", target), zap.Int("size", len(code)), zap.Int("resume", resume), zap.String("code", listing))
	}

	b.relays[target] = &relay{
		body:   body,
		saved:  bytes.Clone(body),
		code:   code,
		resume: resume,
		detour: detour,
	}
	return addrOf(code), nil
}

// buildRelay copies the prologue of body into the arena.
func (b *relayBackend) buildRelay(body []byte, need, resume int) ([]byte, error) {
	if err := b.arena.BeginMutate(); err != nil {
		return nil, err
	}
	defer b.arena.EndMutate()

	buf, err := b.arena.Allocate(relayBufSize)
	if err != nil {
		return nil, err
	}

	code, err := relocatePrologue(body, need, resume, buf)
	if err != nil {
		b.arena.Free(buf)
		return nil, err
	}
	return code, nil
}

func (b *relayBackend) freeRelay(code []byte) error {
	if err := b.arena.BeginMutate(); err != nil {
		return err
	}
	defer b.arena.EndMutate()
	return b.arena.Free(code[:cap(code)])
}

func (b *relayBackend) Enable(target uintptr) error {
	r, err := b.lookup(target)
	if err != nil {
		return err
	}
	if r.enabled {
		return nil
	}

	err = b.patch(target, len(r.body), func() error {
		if err := b.install(target, r); err != nil {
			copy(r.body, r.saved)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.enabled = true
	return nil
}

// install writes the detour jump over the entry and, when the function can
// grow its stack, sends the morestack path to the relay.
func (b *relayBackend) install(target uintptr, r *relay) error {
	if err := insertJump(r.body, r.detour); err != nil {
		return err
	}
	if r.resume < 0 {
		return nil
	}
	if err := insertJump(r.body[jumpSize:], addrOf(r.code)); err != nil {
		return err
	}
	return retargetJump(r.body, r.resume, target+jumpSize)
}

func (b *relayBackend) Disable(target uintptr) error {
	r, err := b.lookup(target)
	if err != nil {
		return err
	}
	if !r.enabled {
		return nil
	}

	err = b.patch(target, len(r.body), func() error {
		copy(r.body, r.saved)
		return nil
	})
	if err != nil {
		return err
	}
	r.enabled = false
	return nil
}

// patch runs fn while [addr, addr+size) is writable.
func (b *relayBackend) patch(addr uintptr, size int, fn func() error) (err error) {
	g, err := mem.NewGuard(addr, uintptr(size))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, g.Release())
	}()

	if err := fn(); err != nil {
		return err
	}
	mem.FlushInstructionCache(addr, uintptr(size))
	return nil
}

func (b *relayBackend) Remove(target uintptr) error {
	r, err := b.lookup(target)
	if err != nil {
		return err
	}
	if err := b.Disable(target); err != nil {
		return err
	}
	if err := b.freeRelay(r.code); err != nil {
		return err
	}

	delete(b.relays, target)
	return nil
}
