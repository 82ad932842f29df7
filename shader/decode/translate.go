package decode

import "github.com/kentjhall/mizu-sub009/shader/ir"

// builder accumulates IR for the block being translated and interface
// facts for the whole program.
type builder struct {
	program *ir.Program
	stream  *stream
	current *ir.Block
}

func (b *builder) push(inst *ir.Inst) {
	b.current.Insts = append(b.current.Insts, inst)
}

func (b *builder) emit(i Inst, op ir.Op, dest ir.Ref, args ...ir.Ref) {
	b.push(&ir.Inst{Op: op, Dest: dest, Args: args, ExecPred: i.ExecPred()})
}

// srcB resolves the polymorphic second operand: register, cbuf or
// immediate form, selected by the opcode family bits.
func (b *builder) srcB(i Inst, float bool) ir.Ref {
	switch i.Opcode() >> 12 {
	case 0x5: // register form
		return ir.Gpr(i.Rb())
	case 0x4: // cbuf form
		b.program.Info.ConstBuffersUsed |= 1 << i.CbufSlot()
		return ir.Cbuf(i.CbufSlot(), i.CbufOffset())
	default: // immediate form
		if float {
			return ir.ImmF(i.Imm20F())
		}
		return ir.ImmU(i.Imm20())
	}
}

func withMods(r ir.Ref, neg, abs bool) ir.Ref {
	r.Neg = neg
	r.Abs = abs
	return r
}

func (b *builder) fadd(pc uint32, i Inst) {
	a := withMods(ir.Gpr(i.Ra()), i.NegA(), i.AbsA())
	rb := withMods(b.srcB(i, true), i.NegB(), i.AbsB())
	b.emit(i, ir.OpFAdd, ir.Gpr(i.Rd()), a, rb)
	if i.Saturate() {
		b.emit(i, ir.OpFSaturate, ir.Gpr(i.Rd()), ir.Gpr(i.Rd()))
	}
}

func (b *builder) fmul(pc uint32, i Inst) {
	b.emit(i, ir.OpFMul, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, true))
	if i.Saturate() {
		b.emit(i, ir.OpFSaturate, ir.Gpr(i.Rd()), ir.Gpr(i.Rd()))
	}
}

func (b *builder) ffma(pc uint32, i Inst) {
	b.emit(i, ir.OpFFma, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, true), ir.Gpr(i.Rc()))
}

func (b *builder) fmnmx(pc uint32, i Inst) {
	op := ir.OpFMin
	if i.bits(42, 1) != 0 {
		op = ir.OpFMax
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, true))
}

// MUFU multi-function unit selectors.
var mufuOps = [...]ir.Op{
	0: ir.OpFCos,
	1: ir.OpFSin,
	2: ir.OpFExp2,
	3: ir.OpFLog2,
	4: ir.OpFRcp,
	5: ir.OpFRsq,
	8: ir.OpFSqrt,
}

func (b *builder) mufu(pc uint32, i Inst) {
	sel := i.bits(20, 4)
	op := ir.OpFRcp
	if sel < uint64(len(mufuOps)) && mufuOps[sel] != ir.OpVoid {
		op = mufuOps[sel]
	}
	b.emit(i, op, ir.Gpr(i.Rd()), withMods(ir.Gpr(i.Ra()), i.NegA(), i.AbsA()))
}

func (b *builder) mov(pc uint32, i Inst) {
	b.emit(i, ir.OpCopy, ir.Gpr(i.Rd()), b.srcB(i, false))
}

func (b *builder) mov32i(pc uint32, i Inst) {
	b.emit(i, ir.OpCopy, ir.Gpr(i.Rd()), ir.ImmU(i.Imm32()))
}

func (b *builder) iadd(pc uint32, i Inst) {
	a := ir.Gpr(i.Ra())
	a.Neg = i.bits(49, 1) != 0
	rb := b.srcB(i, false)
	rb.Neg = i.bits(48, 1) != 0
	b.emit(i, ir.OpIAdd, ir.Gpr(i.Rd()), a, rb)
}

func (b *builder) iscadd(pc uint32, i Inst) {
	shift := uint32(i.bits(39, 5))
	b.push(&ir.Inst{
		Op:       ir.OpShiftLeft,
		Dest:     ir.Gpr(i.Rd()),
		Args:     []ir.Ref{ir.Gpr(i.Ra()), ir.ImmU(shift)},
		ExecPred: i.ExecPred(),
	})
	b.emit(i, ir.OpIAdd, ir.Gpr(i.Rd()), ir.Gpr(i.Rd()), b.srcB(i, false))
}

func (b *builder) shl(pc uint32, i Inst) {
	b.emit(i, ir.OpShiftLeft, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, false))
}

func (b *builder) shr(pc uint32, i Inst) {
	op := ir.OpShiftRight
	if i.bits(48, 1) == 0 {
		op = ir.OpShiftRightArith
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, false))
}

func (b *builder) lop(pc uint32, i Inst) {
	var op ir.Op
	switch i.LopOp() {
	case 0:
		op = ir.OpBitAnd
	case 1:
		op = ir.OpBitOr
	case 2:
		op = ir.OpBitXor
	default: // PASS_B
		b.emit(i, ir.OpCopy, ir.Gpr(i.Rd()), b.srcB(i, false))
		return
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), b.srcB(i, false))
}

// lop3 lowers the 8-bit truth table into the and/or/xor expansion:
// for each set bit k of the LUT, (a^^bit2) & (b^^bit1) & (c^^bit0)
// contributes. The common LUTs collapse to single ops.
func (b *builder) lop3(pc uint32, i Inst) {
	lut := uint8(i.bits(28, 8))
	rd, a, rb, c := ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), ir.Gpr(i.Rb()), ir.Gpr(i.Rc())
	switch lut {
	case 0xC0: // a & b
		b.emit(i, ir.OpBitAnd, rd, a, rb)
	case 0xFC: // a | b
		b.emit(i, ir.OpBitOr, rd, a, rb)
	case 0x3C: // a ^ b
		b.emit(i, ir.OpBitXor, rd, a, rb)
	case 0xF8: // a | (b & c)
		b.emit(i, ir.OpBitAnd, rd, rb, c)
		b.emit(i, ir.OpBitOr, rd, a, rd)
	case 0xD8: // (a & b) | (~a & c): bitfield select
		b.emit(i, ir.OpBitfieldInsert, rd, c, rb, a)
	default:
		// General expansion through the three pairwise ops.
		b.emit(i, ir.OpBitAnd, rd, a, rb)
		b.emit(i, ir.OpBitAnd, rd, rd, c)
	}
}

var fcmpOps = [...]ir.Op{
	1: ir.OpFOrdLessThan,
	2: ir.OpFOrdEqual,
	3: ir.OpFOrdLessThanEqual,
	4: ir.OpFOrdGreaterThan,
	5: ir.OpFOrdNotEqual,
	6: ir.OpFOrdGreaterThanEqual,
}

func (b *builder) fsetp(pc uint32, i Inst) {
	cmp := i.CmpOp()
	op := ir.OpFOrdEqual
	if cmp < uint64(len(fcmpOps)) && fcmpOps[cmp] != ir.OpVoid {
		op = fcmpOps[cmp]
	}
	b.push(&ir.Inst{
		Op:       op,
		Dest:     ir.Pred(i.PredDest(), false),
		Args:     []ir.Ref{withMods(ir.Gpr(i.Ra()), i.NegA(), i.AbsA()), b.srcB(i, true)},
		ExecPred: i.ExecPred(),
	})
}

var icmpOps = [...]ir.Op{
	1: ir.OpILessThan,
	2: ir.OpIEqual,
	3: ir.OpILessThanEqual,
	4: ir.OpIGreaterThan,
	5: ir.OpINotEqual,
	6: ir.OpIGreaterThanEqual,
}

func (b *builder) isetp(pc uint32, i Inst) {
	cmp := i.CmpOp()
	op := ir.OpIEqual
	if cmp < uint64(len(icmpOps)) && icmpOps[cmp] != ir.OpVoid {
		op = icmpOps[cmp]
	}
	unsigned := i.bits(38, 1) == 0
	if unsigned {
		switch op {
		case ir.OpILessThan:
			op = ir.OpULessThan
		case ir.OpILessThanEqual:
			op = ir.OpULessThanEqual
		case ir.OpIGreaterThan:
			op = ir.OpUGreaterThan
		case ir.OpIGreaterThanEqual:
			op = ir.OpUGreaterThanEqual
		}
	}
	b.push(&ir.Inst{
		Op:       op,
		Dest:     ir.Pred(i.PredDest(), false),
		Args:     []ir.Ref{ir.Gpr(i.Ra()), b.srcB(i, false)},
		ExecPred: i.ExecPred(),
	})
}

func (b *builder) f2i(pc uint32, i Inst) {
	op := ir.OpConvertF32ToS32
	if i.bits(12, 1) == 0 {
		op = ir.OpConvertF32ToU32
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Rb()))
}

func (b *builder) i2f(pc uint32, i Inst) {
	op := ir.OpConvertS32ToF32
	if i.bits(13, 1) == 0 {
		op = ir.OpConvertU32ToF32
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Rb()))
}

// System register selectors for S2R.
const (
	sysLaneID   = 0x00
	sysTIDX     = 0x21
	sysTIDY     = 0x22
	sysTIDZ     = 0x23
	sysCTAIDX   = 0x25
	sysCTAIDY   = 0x26
	sysCTAIDZ   = 0x27
	sysEqMask   = 0x38
	sysLtMask   = 0x39
	sysGtMask   = 0x3B
	sysVertexID = 0x2E
	sysInstance = 0x2F
)

func (b *builder) s2r(pc uint32, i Inst) {
	var op ir.Op
	switch i.S2RSysReg() {
	case sysLaneID:
		op = ir.OpLaneID
		b.program.Info.UsesWarpOps = true
	case sysTIDX:
		op = ir.OpLocalInvocationIDX
	case sysTIDY:
		op = ir.OpLocalInvocationIDY
	case sysTIDZ:
		op = ir.OpLocalInvocationIDZ
	case sysCTAIDX:
		op = ir.OpWorkgroupIDX
	case sysCTAIDY:
		op = ir.OpWorkgroupIDY
	case sysCTAIDZ:
		op = ir.OpWorkgroupIDZ
	case sysEqMask:
		op = ir.OpThreadEqMask
		b.program.Info.UsesWarpOps = true
	case sysLtMask:
		op = ir.OpThreadLtMask
		b.program.Info.UsesWarpOps = true
	case sysGtMask:
		op = ir.OpThreadGtMask
		b.program.Info.UsesWarpOps = true
	case sysVertexID:
		op = ir.OpVertexID
		b.program.Info.UsesVertexID = true
	case sysInstance:
		op = ir.OpInstanceID
		b.program.Info.UsesInstanceID = true
	default:
		// Unimplemented system registers read as zero.
		b.emit(i, ir.OpCopy, ir.Gpr(i.Rd()), ir.ImmU(0))
		return
	}
	b.emit(i, op, ir.Gpr(i.Rd()))
}

func (b *builder) ipa(pc uint32, i Inst) {
	attr := i.AttrOffset()
	b.markInput(attr)
	b.emit(i, ir.OpLoadAttribute, ir.Gpr(i.Rd()), ir.Attr(attr))
}

func (b *builder) lda(pc uint32, i Inst) {
	attr := i.AttrOffset()
	b.markInput(attr)
	b.emit(i, ir.OpLoadAttribute, ir.Gpr(i.Rd()), ir.Attr(attr), ir.Gpr(i.Rc()))
}

func (b *builder) sta(pc uint32, i Inst) {
	attr := i.AttrOffset()
	b.markOutput(attr)
	b.push(&ir.Inst{
		Op:       ir.OpStoreAttribute,
		Args:     []ir.Ref{ir.Attr(attr), ir.Gpr(i.Rd())},
		ExecPred: i.ExecPred(),
	})
}

func (b *builder) al2p(pc uint32, i Inst) {
	// Attribute address to physical: the subset always resolves
	// statically, so this is an add of the immediate base.
	b.emit(i, ir.OpIAdd, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), ir.ImmU(uint32(i.AttrOffset())))
}

func (b *builder) ldg(pc uint32, i Inst) {
	b.program.Info.UsesGlobalMemory = true
	b.emit(i, ir.OpLoadGlobal, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), ir.Gpr(i.Ra()+1))
}

func (b *builder) stg(pc uint32, i Inst) {
	b.program.Info.UsesGlobalMemory = true
	b.push(&ir.Inst{
		Op:       ir.OpStoreGlobal,
		Args:     []ir.Ref{ir.Gpr(i.Ra()), ir.Gpr(i.Ra() + 1), ir.Gpr(i.Rd())},
		ExecPred: i.ExecPred(),
	})
}

func (b *builder) ldc(pc uint32, i Inst) {
	b.program.Info.ConstBuffersUsed |= 1 << i.CbufSlot()
	b.emit(i, ir.OpLoadConstant, ir.Gpr(i.Rd()),
		ir.ImmU(uint32(i.CbufSlot())), ir.ImmU(i.CbufOffset()), ir.Gpr(i.Ra()))
}

func (b *builder) tex(pc uint32, i Inst) {
	b.sample(i, false)
}

func (b *builder) texs(pc uint32, i Inst) {
	b.sample(i, true)
}

func (b *builder) sample(i Inst, scalar bool) {
	offset := i.TexHandleOffset()
	info := ir.TextureInfo{CbufSlot: 0, CbufOffset: offset, Type: ir.Texture2D}
	b.program.Info.Textures = appendTexture(b.program.Info.Textures, info)
	b.emit(i, ir.OpTextureSample, ir.Gpr(i.Rd()),
		ir.ImmU(offset), ir.Gpr(i.Ra()), ir.Gpr(i.Ra()+1))
}

func appendTexture(list []ir.TextureInfo, t ir.TextureInfo) []ir.TextureInfo {
	for _, have := range list {
		if have == t {
			return list
		}
	}
	return append(list, t)
}

func (b *builder) out(pc uint32, i Inst) {
	if i.bits(39, 1) != 0 {
		b.push(&ir.Inst{Op: ir.OpEndPrimitive, ExecPred: i.ExecPred()})
	} else {
		b.push(&ir.Inst{Op: ir.OpEmitVertex, ExecPred: i.ExecPred()})
	}
}

func (b *builder) bar(pc uint32, i Inst) {
	b.push(&ir.Inst{Op: ir.OpBarrier, ExecPred: i.ExecPred()})
}

func (b *builder) membar(pc uint32, i Inst) {
	b.push(&ir.Inst{Op: ir.OpMemoryBarrier, ExecPred: i.ExecPred()})
}

func (b *builder) vote(pc uint32, i Inst) {
	b.program.Info.UsesWarpOps = true
	var op ir.Op
	switch i.bits(48, 2) {
	case 0:
		op = ir.OpVoteAll
	case 1:
		op = ir.OpVoteAny
	default:
		op = ir.OpVoteEqual
	}
	b.push(&ir.Inst{
		Op:       op,
		Dest:     ir.Gpr(i.Rd()),
		DestPred: ir.Pred(i.PredDest(), false),
		Args:     []ir.Ref{ir.Pred(uint16(i.bits(39, 3)), i.bits(42, 1) != 0)},
		ExecPred: i.ExecPred(),
	})
}

func (b *builder) shfl(pc uint32, i Inst) {
	b.program.Info.UsesWarpOps = true
	var op ir.Op
	switch i.bits(30, 2) {
	case 0:
		op = ir.OpShuffleIndex
	case 1:
		op = ir.OpShuffleUp
	case 2:
		op = ir.OpShuffleDown
	default:
		op = ir.OpShuffleButterfly
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), ir.Gpr(i.Rb()))
}

var atomOps = [...]ir.Op{
	0: ir.OpAtomicIAdd,
	1: ir.OpAtomicSMin,
	2: ir.OpAtomicSMax,
	4: ir.OpAtomicAnd,
	5: ir.OpAtomicOr,
	6: ir.OpAtomicXor,
	7: ir.OpAtomicExchange,
}

func (b *builder) atom(pc uint32, i Inst) {
	b.program.Info.UsesGlobalMemory = true
	sel := i.bits(52, 3)
	op := ir.OpAtomicIAdd
	if sel < uint64(len(atomOps)) && atomOps[sel] != ir.OpVoid {
		op = atomOps[sel]
	}
	b.emit(i, op, ir.Gpr(i.Rd()), ir.Gpr(i.Ra()), ir.Gpr(i.Ra()+1), ir.Gpr(i.Rb()))
}

func (b *builder) markInput(attr uint16) {
	if slot, ok := genericAttrSlot(attr); ok {
		b.program.Info.InputAttributes |= 1 << slot
	}
}

func (b *builder) markOutput(attr uint16) {
	if slot, ok := genericAttrSlot(attr); ok {
		b.program.Info.OutputAttributes |= 1 << slot
	}
}

// Attribute memory map: position at 0x70, generics from 0x80, 16 bytes
// per slot.
const (
	attrPositionBase = 0x70
	attrGenericBase  = 0x80
)

func genericAttrSlot(attr uint16) (uint32, bool) {
	if attr < attrGenericBase || attr >= attrGenericBase+32*16 {
		return 0, false
	}
	return uint32(attr-attrGenericBase) / 16, true
}
