// Package checkgen emits the AArch64 machine code for the inline shadow
// memory checks (spec.md §4.3): five short instruction sequences, one per
// access width, that a caller splices directly into instrumented code at
// every memory access site. Each blob loads the two shadow bytes starting at
// the access's shadow address, tests the bit corresponding to the access
// width, and traps (BRK) when the
// access is unsafe.
//
// The sequence is fixed and was not independently designed here: it is
// transcribed instruction-for-instruction from the reference JIT's
// dynasm template (see DESIGN.md), substituting a hand-written AArch64
// encoder for the macro assembler.
package checkgen

import "encoding/binary"

// Width identifies one of the five checked access widths.
type Width int

const (
	Width1 Width = iota
	Width2
	Width4
	Width8
	Width16
)

// bit is the shadow-byte bit index tested for each width: log2(width).
func (w Width) bit() uint32 {
	switch w {
	case Width1:
		return 0
	case Width2:
		return 1
	case Width4:
		return 2
	case Width8:
		return 3
	case Width16:
		return 4
	default:
		panic("checkgen: invalid width")
	}
}

// String renders the width in bytes.
func (w Width) String() string {
	switch w {
	case Width1:
		return "1"
	case Width2:
		return "2"
	case Width4:
		return "4"
	case Width8:
		return "8"
	case Width16:
		return "16"
	default:
		return "invalid"
	}
}

// Widths lists every supported width, in ascending order.
var Widths = []Width{Width1, Width2, Width4, Width8, Width16}

// Blob is a compiled check sequence, ready to be copied into executable
// memory. Calling convention (spec.md §4.3): on entry X0 holds the
// application address to check; X0 and X1 are clobbered; control falls through to
// the instruction after the blob when the access is safe, or traps via BRK
// #n (n = log2(width)) when it is not.
type Blob []byte

// Generate returns the check blob for w.
func Generate(w Width, shadowOffsetLog2 uint32) Blob {
	bit := w.bit()
	var b []uint32
	b = append(b,
		movz(1, 1, 1),          // mov x1, #1
		addShiftedLSL(1, 31, 1, shadowOffsetLog2), // add x1, xzr, x1, lsl #shadowOffsetLog2
		addShiftedLSR(1, 1, 0, 3),                 // add x1, x1, x0, lsr #3
		ldrh(1, 1, 0),           // ldrh w1, [x1, #0]
		andImm7(0, 0),           // and x0, x0, #7
		rev16(1, 1),             // rev16 w1, w1
		rbit(1, 1),               // rbit w1, w1
		lsrImm64(1, 1, 16),       // lsr x1, x1, #16
		lsrReg64(1, 1, 0),        // lsr x1, x1, x0
		tbnz(1, bit, 2),           // tbnz x1, #bit, ->done (skip the brk below)
		brk(bit),                  // brk #bit
		// ->done: (fallthrough, no instruction emitted)
	)

	out := make(Blob, 0, len(b)*4)
	var buf [4]byte
	for _, ins := range b {
		binary.LittleEndian.PutUint32(buf[:], ins)
		out = append(out, buf[:]...)
	}
	return out
}

// ShadowOffsetLog2 is log2(shadow.DefaultShadowOffset): the shift amount the
// blob uses to reconstruct SHADOW_OFFSET without an immediate load. Kept
// here (rather than importing package shadow) to avoid a dependency from
// the instruction encoder onto the allocator.
const ShadowOffsetLog2 = 36

// --- AArch64 instruction encoders ---
//
// Only the exact forms used by Generate are implemented; these are not
// general-purpose assemblers.

func movz(sf, rd, imm16 uint32) uint32 {
	return 0xD2800000 | (imm16 << 5) | rd
}

// addShiftedLSL encodes `add xd, xn, xm, lsl #imm6` (64-bit).
func addShiftedLSL(rd, rn, rm, imm6 uint32) uint32 {
	return 0x8B000000 | (rm << 16) | (imm6 << 10) | (rn << 5) | rd
}

// addShiftedLSR encodes `add xd, xn, xm, lsr #imm6` (64-bit).
func addShiftedLSR(rd, rn, rm, imm6 uint32) uint32 {
	return 0x8B400000 | (rm << 16) | (imm6 << 10) | (rn << 5) | rd
}

// ldrh encodes `ldrh wt, [xn, #imm]` with imm a byte offset (here always 0).
func ldrh(rt, rn, imm uint32) uint32 {
	return 0x79400000 | ((imm / 2) << 10) | (rn << 5) | rt
}

// andImm7 encodes `and xd, xn, #7`.
func andImm7(rd, rn uint32) uint32 {
	return 0x92400800 | (rn << 5) | rd
}

func rev16(rd, rn uint32) uint32 {
	return 0x5AC00400 | (rn << 5) | rd
}

func rbit(rd, rn uint32) uint32 {
	return 0x5AC00000 | (rn << 5) | rd
}

// lsrImm64 encodes `lsr xd, xn, #shift` as UBFM xd, xn, #shift, #63.
func lsrImm64(rd, rn, shift uint32) uint32 {
	return 0xD3400000 | (shift << 16) | (uint32(63) << 10) | (rn << 5) | rd
}

// lsrReg64 encodes `lsr xd, xn, xm` (LSRV).
func lsrReg64(rd, rn, rm uint32) uint32 {
	return 0x9AC02400 | (rm << 16) | (rn << 5) | rd
}

// tbnz encodes `tbnz xt, #bit, label` where label is imm14Words
// instructions ahead (bit must be < 32, matching the widths used here).
func tbnz(rt, bit, imm14Words uint32) uint32 {
	return 0x37000000 | (bit << 19) | (imm14Words << 5) | rt
}

func brk(imm16 uint32) uint32 {
	return 0xD4200000 | (imm16 << 5)
}
