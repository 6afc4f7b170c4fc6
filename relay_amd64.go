//go:build amd64

package hotpatch

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeINT3    = 0xcc
	opcodeJMP     = 0xe9 // JMP rel32
	opcodeJMP8    = 0xeb // JMP rel8
	opcodeJcc8    = 0x70 // Jcc rel8, through 0x7f
	opcodeTwoByte = 0x0f
	opcodeJcc32   = 0x80 // second byte of Jcc rel32, through 0x8f
	opcodeJMPabs  = 0xff // JMP r/m64 with ModRM reg 4

	// ModRM for JMP r/m64 with a RIP-relative operand: mod=00 reg=4 rm=101.
	modrmJMPRIP = 0x25
)

// jumpSize is the length of the JMP rel32 written over a hooked entry.
const jumpSize = 5

// farJumpSize is the length of the sequence returned by farJump.
const farJumpSize = 14

// jumpInRange reports whether a JMP rel32 at from can reach to.
func jumpInRange(from, to uintptr) bool {
	rel := int64(to) - int64(from+jumpSize)
	return rel >= math.MinInt32 && rel <= math.MaxInt32
}

// insertJump writes a JMP rel32 to dest at the start of buf. The rest of buf
// is left alone.
func insertJump(buf []byte, dest uintptr) error {
	if len(buf) < jumpSize {
		return errors.New("buffer too small for jump instruction")
	}

	src := addrOf(buf)
	if !jumpInRange(src, dest) {
		return fmt.Errorf("jump target 0x%x is out of rel32 range of 0x%x", dest, src)
	}

	buf[0] = opcodeJMP
	binary.LittleEndian.PutUint32(buf[1:], uint32(int32(int64(dest)-int64(src+jumpSize))))
	return nil
}

// farJump returns the machine code for a jump to dest from anywhere:
//
//	JMP *0(IP)
//	QUAD $dest
//
// The target is read from memory, so no register or flag is touched.
func farJump(dest uintptr) []byte {
	buf := make([]byte, farJumpSize)
	buf[0] = opcodeJMPabs
	buf[1] = modrmJMPRIP
	// The displacement stays zero: the address follows the instruction.
	binary.LittleEndian.PutUint64(buf[6:], uint64(dest))
	return buf
}

// trimPadding drops the INT3 padding after the last instruction.
func trimPadding(body []byte) []byte {
	end := len(body)
	for end > 0 && body[end-1] == opcodeINT3 {
		end--
	}
	return body[:end]
}

// pcRelTarget returns the address a PC-relative branch or RIP-relative
// operand of inst refers to. inst was decoded from code[off:] and code runs
// at base.
func pcRelTarget(code []byte, base uintptr, off int, inst x86asm.Inst) (uintptr, bool) {
	field := code[off+inst.PCRelOff:]

	var rel int64
	switch inst.PCRel {
	case 1:
		rel = int64(int8(field[0]))
	case 2:
		rel = int64(int16(binary.LittleEndian.Uint16(field)))
	case 4:
		rel = int64(int32(binary.LittleEndian.Uint32(field)))
	default:
		return 0, false
	}
	return uintptr(int64(base) + int64(off+inst.Len) + rel), true
}

func isBranch(inst x86asm.Inst) bool {
	_, ok := inst.Args[0].(x86asm.Rel)
	return ok
}

// findResumeJump returns the offset of the jump that takes body back to its
// entry after runtime.morestack has grown the stack, or -1 if body never
// grows the stack.
func findResumeJump(body []byte) (int, error) {
	code := trimPadding(body)
	base := addrOf(body)

	growing := false
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return -1, fmt.Errorf("decode error at offset %d: %w", off, err)
		}

		if isBranch(inst) {
			target, _ := pcRelTarget(code, base, off, inst)
			switch {
			case inst.Op == x86asm.CALL && isMorestack(target):
				growing = true
			case growing && inst.Op == x86asm.JMP && target == base:
				return off, nil
			}
		}

		off += inst.Len
	}

	if growing {
		return -1, errors.New("stack growth path does not jump back to the entry")
	}
	return -1, nil
}

// checkBranches fails if any jump in body other than the one at resume
// lands in its first n bytes, which are overwritten by a hook.
func checkBranches(body []byte, n, resume int) error {
	code := trimPadding(body)
	base := addrOf(body)

	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return fmt.Errorf("decode error at offset %d: %w", off, err)
		}

		if isBranch(inst) && inst.Op != x86asm.CALL && off != resume {
			target, _ := pcRelTarget(code, base, off, inst)
			if target >= base && target < base+uintptr(n) {
				return fmt.Errorf("instruction at offset %d jumps into the first %d bytes", off, n)
			}
		}

		off += inst.Len
	}

	return nil
}

// relocatePrologue copies the whole instructions that cover the first need
// bytes of body into dest and follows them with a jump to the rest of body.
// Relative addresses that point outside the copied instructions are adjusted
// for the new location. The result is dest resliced.
//
// body and dest must not move while this runs.
func relocatePrologue(body []byte, need, resume int, dest []byte) ([]byte, error) {
	base := addrOf(body)
	destBase := addrOf(dest)

	var insts []x86asm.Inst
	n := 0
	for n < need {
		if n >= len(body) {
			return nil, fmt.Errorf("function is %d bytes, too short to hook", len(body))
		}
		inst, err := x86asm.Decode(body[n:], 64)
		if err != nil {
			return nil, fmt.Errorf("decode error at offset %d: %w", n, err)
		}
		if inst.Op == x86asm.CALL {
			return nil, fmt.Errorf("offset %d: call in the first %d bytes", n, need)
		}
		insts = append(insts, inst)
		n += inst.Len
	}

	if err := checkBranches(body, n, resume); err != nil {
		return nil, err
	}

	// Short branches grow by up to 4 bytes each.
	if size := n + 4*len(insts) + farJumpSize; cap(dest) < size {
		return nil, fmt.Errorf("relay buffer holds %d bytes, need %d", cap(dest), size)
	}

	out := dest[:0]
	off := 0
	for _, inst := range insts {
		raw := body[off : off+inst.Len]
		pc := destBase + uintptr(len(out))

		target, ok := pcRelTarget(body, base, off, inst)
		switch {
		case !ok:
			out = append(out, raw...)

		case target >= base && target < base+uintptr(n):
			return nil, fmt.Errorf("offset %d: relative reference into the copied instructions", off)

		case inst.PCRel == 1:
			var err error
			out, err = appendBranch32(out, raw[inst.PCRelOff-1], pc, target)
			if err != nil {
				return nil, fmt.Errorf("offset %d: %w", off, err)
			}

		case inst.PCRel == 4:
			start := len(out)
			out = append(out, raw...)
			rel := int64(target) - int64(pc+uintptr(inst.Len))
			if rel < math.MinInt32 || rel > math.MaxInt32 {
				return nil, fmt.Errorf("offset %d: unable to translate relative address 0x%x", off, target)
			}
			binary.LittleEndian.PutUint32(out[start+inst.PCRelOff:], uint32(int32(rel)))

		default:
			return nil, fmt.Errorf("offset %d: unsupported %d byte relative address", off, inst.PCRel)
		}

		off += inst.Len
	}

	back := base + uintptr(n)
	pc := destBase + uintptr(len(out))
	if jumpInRange(pc, back) {
		out = append(out, make([]byte, jumpSize)...)
		if err := insertJump(out[len(out)-jumpSize:], back); err != nil {
			return nil, err
		}
	} else {
		out = append(out, farJump(back)...)
	}

	if unsafe.SliceData(out) != unsafe.SliceData(dest) {
		return nil, errors.New("relay outgrew its buffer")
	}
	return out, nil
}

// appendBranch32 appends the rel32 form of the short branch with the given
// opcode, going to target from pc.
func appendBranch32(out []byte, opcode byte, pc, target uintptr) ([]byte, error) {
	var inst []byte
	switch {
	case opcode == opcodeJMP8:
		inst = []byte{opcodeJMP, 0, 0, 0, 0}
	case opcode >= opcodeJcc8 && opcode <= opcodeJcc8+0xf:
		inst = []byte{opcodeTwoByte, opcodeJcc32 + opcode - opcodeJcc8, 0, 0, 0, 0}
	default:
		return nil, fmt.Errorf("short branch 0x%02x has no rel32 form", opcode)
	}

	rel := int64(target) - int64(pc+uintptr(len(inst)))
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return nil, fmt.Errorf("branch target 0x%x is out of rel32 range", target)
	}
	binary.LittleEndian.PutUint32(inst[len(inst)-4:], uint32(int32(rel)))
	return append(out, inst...), nil
}

// retargetJump points the jump at body[off:] to dest, keeping its encoding.
func retargetJump(body []byte, off int, dest uintptr) error {
	inst, err := x86asm.Decode(body[off:], 64)
	if err != nil {
		return fmt.Errorf("decode error at offset %d: %w", off, err)
	}
	if inst.Op != x86asm.JMP || !isBranch(inst) {
		return fmt.Errorf("offset %d: expected a relative jump, found %v", off, inst)
	}

	rel := int64(dest) - int64(addrOf(body)+uintptr(off+inst.Len))
	field := body[off+inst.PCRelOff:]
	switch inst.PCRel {
	case 1:
		if rel < math.MinInt8 || rel > math.MaxInt8 {
			return fmt.Errorf("offset %d: 0x%x is out of rel8 range", off, dest)
		}
		field[0] = byte(int8(rel))
	case 4:
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return fmt.Errorf("offset %d: 0x%x is out of rel32 range", off, dest)
		}
		binary.LittleEndian.PutUint32(field, uint32(int32(rel)))
	default:
		return fmt.Errorf("offset %d: unsupported jump encoding", off)
	}
	return nil
}

// disassemble lists code one instruction per line, for debug logging.
func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer

	baseAddr := addrOf(code)

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], 64)
		if err != nil {
			return buf.String(), fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())

		i += instruction.Len
	}

	return buf.String(), nil
}
