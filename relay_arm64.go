//go:build arm64

package hotpatch

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

const (
	// -----------------------------------
	// | 000101 | ... 26 bit address ... |
	// -----------------------------------
	_B = uint32(5 << 26)

	// -----------------------------------
	// | 100101 | ... 26 bit address ... |
	// -----------------------------------
	_BL = uint32(1<<31 | _B)

	branchOpMask = uint32(0x3f << 26)

	// ADR/ADRP is encoded as:
	// --------------------------------------------------
	// | P | lo 2 bits | 10000 | hi 19 bits | 5-bit reg |
	// --------------------------------------------------
	adrMask        = uint32(0x9f << 24)
	_ADR           = uint32(0x10 << 24)
	_ADRP          = uint32(0x90 << 24)
	adrAddressMask = uint32(3<<29 | 0x7ffff<<5)
)

// jumpSize is the length of the B instruction written over a hooked entry.
const jumpSize = 4

// branchRange is the reach of B and BL in either direction.
const branchRange = 1 << 27

// pcRelForm is a family of instructions holding a word offset from the PC in
// one bit field.
type pcRelForm struct {
	name        string
	mask, match uint32
	shift, bits uint
	branch      bool
}

var pcRelForms = []pcRelForm{
	{name: "B", mask: 0x7c000000, match: 0x14000000, shift: 0, bits: 26, branch: true}, // B, BL
	{name: "B.cond", mask: 0xff000010, match: 0x54000000, shift: 5, bits: 19, branch: true},
	{name: "CBZ", mask: 0x7e000000, match: 0x34000000, shift: 5, bits: 19, branch: true}, // CBZ, CBNZ
	{name: "TBZ", mask: 0x7e000000, match: 0x36000000, shift: 5, bits: 14, branch: true}, // TBZ, TBNZ
	{name: "LDR", mask: 0x3b000000, match: 0x18000000, shift: 5, bits: 19},               // LDR, LDRSW, PRFM (literal)
}

func formOf(w uint32) (pcRelForm, bool) {
	for _, f := range pcRelForms {
		if w&f.mask == f.match {
			return f, true
		}
	}
	return pcRelForm{}, false
}

func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

// target returns where w, running at pc, refers to.
func (f pcRelForm) target(w uint32, pc uintptr) uintptr {
	field := (w >> f.shift) & (1<<f.bits - 1)
	return uintptr(int64(pc) + signExtend(field, f.bits)<<2)
}

// rebase re-encodes w so that, running at pc, it refers to target.
func (f pcRelForm) rebase(w uint32, pc, target uintptr) (uint32, error) {
	offset := int64(target) - int64(pc)
	limit := int64(1) << (f.bits + 1)
	if offset < -limit || offset >= limit {
		return 0, fmt.Errorf("%s target 0x%x is out of range of 0x%x", f.name, target, pc)
	}

	fieldMask := uint32(1<<f.bits-1) << f.shift
	return w&^fieldMask | (uint32(offset>>2)<<f.shift)&fieldMask, nil
}

func isB(w uint32) bool  { return w&branchOpMask == _B }
func isBL(w uint32) bool { return w&branchOpMask == _BL }

func jumpInRange(from, to uintptr) bool {
	offset := int64(to) - int64(from)
	return offset >= -branchRange && offset < branchRange
}

// insertJump writes a B to dest at the start of buf. The rest of buf is left
// alone.
func insertJump(buf []byte, dest uintptr) error {
	if len(buf) < jumpSize {
		return errors.New("buffer too small for jump instruction")
	}

	addr := addrOf(buf)
	if !jumpInRange(addr, dest) {
		return fmt.Errorf("B target 0x%x out of range: exceeds 128MiB from 0x%x", dest, addr)
	}

	offset := int64(dest) - int64(addr)
	binary.LittleEndian.PutUint32(buf, _B|(uint32(offset>>2)&(1<<26-1)))
	return nil
}

// instructions returns body as words. Literal pools and padding come along
// too; neither looks like the branches searched for.
func instructions(body []byte) []uint32 {
	words := make([]uint32, 0, len(body)/4)
	for i := 0; i+4 <= len(body); i += 4 {
		words = append(words, binary.LittleEndian.Uint32(body[i:]))
	}
	return words
}

// findResumeJump returns the offset of the B that takes body back to its
// entry after runtime.morestack has grown the stack, or -1 if body never
// grows the stack.
func findResumeJump(body []byte) (int, error) {
	base := addrOf(body)
	b := pcRelForms[0]

	growing := false
	for i, w := range instructions(body) {
		pc := base + uintptr(i*4)
		switch {
		case isBL(w) && isMorestack(b.target(w, pc)):
			growing = true
		case growing && isB(w) && b.target(w, pc) == base:
			return i * 4, nil
		}
	}

	if growing {
		return -1, errors.New("stack growth path does not jump back to the entry")
	}
	return -1, nil
}

// checkBranches fails if any branch in body other than the one at resume
// lands in its first n bytes, which are overwritten by a hook.
func checkBranches(body []byte, n, resume int) error {
	base := addrOf(body)
	for i, w := range instructions(body) {
		f, ok := formOf(w)
		if !ok || !f.branch || isBL(w) || i*4 == resume {
			continue
		}
		if t := f.target(w, base+uintptr(i*4)); t >= base && t < base+uintptr(n) {
			return fmt.Errorf("instruction at offset %d branches into the first %d bytes", i*4, n)
		}
	}
	return nil
}

// relocatePrologue copies the first need bytes of body into dest and follows
// them with a B to the rest of body. PC-relative instructions that refer
// outside the copied ones are re-encoded for the new location, or fail if
// they can't reach. The result is dest resliced.
func relocatePrologue(body []byte, need, resume int, dest []byte) ([]byte, error) {
	n := (need + 3) &^ 3
	if n > len(body) {
		return nil, fmt.Errorf("function is %d bytes, too short to hook", len(body))
	}
	if cap(dest) < n+jumpSize {
		return nil, fmt.Errorf("relay buffer holds %d bytes, need %d", cap(dest), n+jumpSize)
	}
	if err := checkBranches(body, n, resume); err != nil {
		return nil, err
	}

	base := addrOf(body)
	destBase := addrOf(dest)
	out := dest[:n+jumpSize]

	for i := 0; i < n; i += 4 {
		w := binary.LittleEndian.Uint32(body[i:])
		if _, err := arm64asm.Decode(body[i : i+4]); err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		if isBL(w) {
			return nil, fmt.Errorf("offset %d: call in the first %d bytes", i, n)
		}

		srcPC := base + uintptr(i)
		destPC := destBase + uintptr(i)

		var err error
		if f, ok := formOf(w); ok {
			t := f.target(w, srcPC)
			if t >= base && t < base+uintptr(n) {
				return nil, fmt.Errorf("offset %d: relative reference into the copied instructions", i)
			}
			w, err = f.rebase(w, destPC, t)
		} else if w&adrMask == _ADR || w&adrMask == _ADRP {
			w, err = rebaseADR(w, srcPC, destPC)
		}
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", i, err)
		}

		binary.LittleEndian.PutUint32(out[i:], w)
	}

	if err := insertJump(out[n:], base+uintptr(n)); err != nil {
		return nil, err
	}
	return out, nil
}

// rebaseADR re-encodes an ADR or ADRP that ran at srcPC to produce the same
// address at destPC.
func rebaseADR(w uint32, srcPC, destPC uintptr) (uint32, error) {
	imm := signExtend((w>>29)&3|((w>>5)&0x7ffff)<<2, 21)

	var value int64
	if w&adrMask == _ADRP {
		// ADRP works in pages.
		srcPage := int64(srcPC &^ 0xfff)
		destPage := int64(destPC &^ 0xfff)
		value = (srcPage + imm<<12 - destPage) >> 12
	} else {
		value = int64(srcPC) + imm - int64(destPC)
	}

	if value < -(1<<20) || value >= (1<<20) {
		return 0, errors.New("ADR/ADRP target out of range")
	}

	p := uint32(value)
	w &^= adrAddressMask
	w |= (p & 3) << 29
	w |= ((p >> 2) & 0x7ffff) << 5
	return w, nil
}

// retargetJump points the B at body[off:] to dest.
func retargetJump(body []byte, off int, dest uintptr) error {
	w := binary.LittleEndian.Uint32(body[off:])
	if !isB(w) {
		return fmt.Errorf("offset %d: expected B, found 0x%08x", off, w)
	}
	return insertJump(body[off:], dest)
}

// disassemble lists code one instruction per line, for debug logging.
func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer

	baseAddr := addrOf(code)

	for i := 0; i < len(code)&^3; i += 4 {
		asm := "?"
		if instruction, err := arm64asm.Decode(code[i:]); err == nil {
			asm = instruction.String()
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+4]), asm)
	}

	return buf.String(), nil
}
