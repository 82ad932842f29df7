// Package decode turns guest shader machine code into IR. It understands
// the instruction subset the translation layer emits shaders from, builds
// a control flow graph over the raw stream and recovers structured
// control flow where the graph is reducible.
package decode

import "github.com/kentjhall/mizu-sub009/shader/ir"

// Inst wraps one 64-bit instruction word.
type Inst uint64

// bits extracts [lo, lo+n) as an unsigned value.
func (i Inst) bits(lo, n uint) uint64 {
	return (uint64(i) >> lo) & (1<<n - 1)
}

// sbits extracts [lo, lo+n) sign-extended.
func (i Inst) sbits(lo, n uint) int64 {
	v := int64(uint64(i) << (64 - lo - n))
	return v >> (64 - n)
}

// Opcode returns the top 16 bits, the primary dispatch key.
func (i Inst) Opcode() uint16 { return uint16(i.bits(48, 16)) }

// Rd is the destination register.
func (i Inst) Rd() uint16 { return uint16(i.bits(0, 8)) }

// Ra is the first source register.
func (i Inst) Ra() uint16 { return uint16(i.bits(8, 8)) }

// Rb is the second source register (register-form instructions).
func (i Inst) Rb() uint16 { return uint16(i.bits(20, 8)) }

// Rc is the third source register.
func (i Inst) Rc() uint16 { return uint16(i.bits(39, 8)) }

// ExecPred decodes the execution predicate guard at bits 16..19.
func (i Inst) ExecPred() ir.Ref {
	index := uint16(i.bits(16, 3))
	negated := i.bits(19, 1) != 0
	if index == ir.TruePredicate && !negated {
		return ir.Ref{}
	}
	return ir.Pred(index, negated)
}

// PredDest is the predicate destination of SETP-form instructions.
func (i Inst) PredDest() uint16 { return uint16(i.bits(3, 3)) }

// Imm20 is the signed 20-bit integer immediate at bits 20..39.
func (i Inst) Imm20() uint32 { return uint32(i.sbits(20, 20)) }

// Imm20F is the 20-bit float immediate: the high bits of a float32 with
// the sign at bit 56.
func (i Inst) Imm20F() uint32 {
	v := uint32(i.bits(20, 19)) << 12
	if i.bits(56, 1) != 0 {
		v |= 1 << 31
	}
	return v
}

// Imm32 is the 32-bit immediate of MOV32I-form instructions.
func (i Inst) Imm32() uint32 { return uint32(i.bits(20, 32)) }

// CbufSlot is the constant buffer slot of cbuf-form instructions.
func (i Inst) CbufSlot() uint16 { return uint16(i.bits(34, 5)) }

// CbufOffset is the byte offset into the constant buffer.
func (i Inst) CbufOffset() uint32 { return uint32(i.bits(20, 14)) * 4 }

// BranchOffset is the signed branch displacement, relative to pc+8.
func (i Inst) BranchOffset() int64 { return i.sbits(20, 24) }

// NegA/NegB/AbsA/AbsB decode the float source modifiers.
func (i Inst) NegA() bool { return i.bits(48, 1) != 0 }
func (i Inst) NegB() bool { return i.bits(45, 1) != 0 }
func (i Inst) AbsA() bool { return i.bits(46, 1) != 0 }
func (i Inst) AbsB() bool { return i.bits(49, 1) != 0 }

// Saturate is the FADD/FMUL saturate flag.
func (i Inst) Saturate() bool { return i.bits(50, 1) != 0 }

// AttrOffset is the attribute selector of LD_A/ST_A.
func (i Inst) AttrOffset() uint16 { return uint16(i.bits(20, 10)) }

// S2RSysReg selects the system register of S2R.
func (i Inst) S2RSysReg() uint16 { return uint16(i.bits(20, 8)) }

// LopOp selects AND/OR/XOR/PASS for LOP.
func (i Inst) LopOp() uint64 { return i.bits(41, 2) }

// CmpOp is the 3-bit comparison selector of SETP-form instructions.
func (i Inst) CmpOp() uint64 { return i.bits(48, 3) }

// TexHandleOffset is the bound texture constant offset of TEX/TEXS.
func (i Inst) TexHandleOffset() uint32 { return uint32(i.bits(36, 13)) * 4 }
