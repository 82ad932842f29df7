package glasm

import (
	"fmt"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// src formats a source operand. Registers hold floats in the .x
// component; immediates become literal constants.
func (e *emitter) src(r ir.Ref) string {
	var s string
	switch r.Kind {
	case ir.RefGpr:
		if r.Index == ir.ZeroRegister {
			s = "{0, 0, 0, 0}.x"
		} else {
			s = fmt.Sprintf("R%d.x", r.Index)
		}
	case ir.RefImmU32, ir.RefImmF32:
		s = fmt.Sprintf("{%d, 0, 0, 0}.x", int32(r.Imm))
	case ir.RefCbuf:
		s = fmt.Sprintf("cb%d[%d].x", r.Index, r.Imm/4)
	case ir.RefAttr:
		s = e.attr(r.Index)
	default:
		s = "{0, 0, 0, 0}.x"
	}
	if r.Abs {
		s = "|" + s + "|"
	}
	if r.Neg {
		s = "-" + s
	}
	return s
}

func (e *emitter) pred(r ir.Ref) string {
	if r.Kind != ir.RefPred || r.Index == ir.TruePredicate {
		if r.Neg {
			return "{0, 0, 0, 0}.x"
		}
		return "{1, 0, 0, 0}.x"
	}
	if r.Neg {
		// Negated predicate reads go through the scratch temp.
		return fmt.Sprintf("-P%d.x", r.Index)
	}
	return fmt.Sprintf("P%d.x", r.Index)
}

func (e *emitter) dest(r ir.Ref) string {
	if r.Kind != ir.RefGpr || r.Index == ir.ZeroRegister {
		return "SCR.x"
	}
	return fmt.Sprintf("R%d.x", r.Index)
}

func (e *emitter) attr(selector uint16) string {
	stage := e.p.Info.Stage
	comp := "xyzw"[selector/4%4 : selector/4%4+1]
	if selector >= 0x80 && selector < 0x80+32*16 {
		slot := (selector - 0x80) / 16
		comp = "xyzw"[(selector%16)/4 : (selector%16)/4+1]
		if stage == ir.StageVertex {
			return fmt.Sprintf("vertex.attrib[%d].%s", slot, comp)
		}
		return fmt.Sprintf("fragment.attrib[%d].%s", slot, comp)
	}
	if selector >= 0x70 && selector < 0x80 {
		if stage == ir.StageFragment {
			return fmt.Sprintf("fragment.position.%s", comp)
		}
		return fmt.Sprintf("result.position.%s", comp)
	}
	return "{0, 0, 0, 0}.x"
}

func (e *emitter) attrDest(selector uint16) string {
	comp := "xyzw"[selector/4%4 : selector/4%4+1]
	if selector >= 0x80 && selector < 0x80+32*16 {
		slot := (selector - 0x80) / 16
		comp = "xyzw"[(selector%16)/4 : (selector%16)/4+1]
		return fmt.Sprintf("result.attrib[%d].%s", slot, comp)
	}
	if selector >= 0x70 && selector < 0x80 {
		return fmt.Sprintf("result.position.%s", comp)
	}
	return ""
}

// op emits one instruction, wrapping it in a predicate guard when needed.
func (e *emitter) op(inst *ir.Inst, format string, args ...any) {
	if !inst.Unconditional() {
		e.beginIf(inst.ExecPred)
		e.line(format, args...)
		e.line("ENDIF;")
		return
	}
	e.line(format, args...)
}

var simpleOps = map[ir.Op]string{
	ir.OpFAdd:            "ADD.F",
	ir.OpFSub:            "SUB.F",
	ir.OpFMul:            "MUL.F",
	ir.OpFMin:            "MIN.F",
	ir.OpFMax:            "MAX.F",
	ir.OpIAdd:            "ADD.U",
	ir.OpISub:            "SUB.U",
	ir.OpIMul:            "MUL.U",
	ir.OpShiftLeft:       "SHL.U",
	ir.OpShiftRight:      "SHR.U",
	ir.OpShiftRightArith: "SHR.S",
	ir.OpBitAnd:          "AND.U",
	ir.OpBitOr:           "OR.U",
	ir.OpBitXor:          "XOR.U",
}

var unaryOps = map[ir.Op]string{
	ir.OpFRcp:   "RCP.F",
	ir.OpFRsq:   "RSQ.F",
	ir.OpFExp2:  "EX2.F",
	ir.OpFLog2:  "LG2.F",
	ir.OpFSin:   "SIN.F",
	ir.OpFCos:   "COS.F",
	ir.OpFFloor: "FLR.F",
	ir.OpFCeil:  "CEIL.F",
	ir.OpFRound: "ROUND.F",
	ir.OpFTrunc: "TRUNC.F",
	ir.OpBitNot: "NOT.U",
}

var cmpOps = map[ir.Op]string{
	ir.OpFOrdLessThan:         "SLT.F",
	ir.OpFOrdEqual:            "SEQ.F",
	ir.OpFOrdLessThanEqual:    "SLE.F",
	ir.OpFOrdGreaterThan:      "SGT.F",
	ir.OpFOrdNotEqual:         "SNE.F",
	ir.OpFOrdGreaterThanEqual: "SGE.F",
	ir.OpILessThan:            "SLT.S",
	ir.OpIEqual:               "SEQ.S",
	ir.OpILessThanEqual:       "SLE.S",
	ir.OpIGreaterThan:         "SGT.S",
	ir.OpINotEqual:            "SNE.S",
	ir.OpIGreaterThanEqual:    "SGE.S",
	ir.OpULessThan:            "SLT.U",
	ir.OpULessThanEqual:       "SLE.U",
	ir.OpUGreaterThan:         "SGT.U",
	ir.OpUGreaterThanEqual:    "SGE.U",
}

func (e *emitter) inst(inst *ir.Inst) {
	a := inst.Args

	if mnemonic, ok := simpleOps[inst.Op]; ok {
		e.op(inst, "%s %s, %s, %s;", mnemonic, e.dest(inst.Dest), e.src(a[0]), e.src(a[1]))
		return
	}
	if mnemonic, ok := unaryOps[inst.Op]; ok {
		e.op(inst, "%s %s, %s;", mnemonic, e.dest(inst.Dest), e.src(a[0]))
		return
	}
	if mnemonic, ok := cmpOps[inst.Op]; ok {
		dest := "SCR.x"
		if inst.Dest.Kind == ir.RefPred && inst.Dest.Index != ir.TruePredicate {
			dest = fmt.Sprintf("P%d.x", inst.Dest.Index)
		}
		e.op(inst, "%s %s, %s, %s;", mnemonic, dest, e.src(a[0]), e.src(a[1]))
		return
	}

	switch inst.Op {
	case ir.OpCopy, ir.OpIdentity, ir.OpBitcastF32ToU32, ir.OpBitcastU32ToF32:
		e.op(inst, "MOV.F %s, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpFFma:
		e.op(inst, "MAD.F %s, %s, %s, %s;", e.dest(inst.Dest), e.src(a[0]), e.src(a[1]), e.src(a[2]))
	case ir.OpFNeg:
		e.op(inst, "MOV.F %s, -%s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpFAbs:
		e.op(inst, "MOV.F %s, |%s|;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpFSaturate:
		e.op(inst, "MOV.F.SAT %s, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpFSqrt:
		e.op(inst, "RSQ.F SCR.x, %s;", e.src(a[0]))
		e.op(inst, "RCP.F %s, SCR.x;", e.dest(inst.Dest))
	case ir.OpINeg:
		e.op(inst, "SUB.U %s, {0, 0, 0, 0}.x, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpBitfieldInsert:
		e.op(inst, "BFI.U %s, %s, %s, %s;", e.dest(inst.Dest), e.src(a[2]), e.src(a[1]), e.src(a[0]))

	case ir.OpConvertF32ToS32:
		e.op(inst, "TRUNC.S %s, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpConvertF32ToU32:
		e.op(inst, "TRUNC.U %s, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpConvertS32ToF32:
		e.op(inst, "I2F.S %s, %s;", e.dest(inst.Dest), e.src(a[0]))
	case ir.OpConvertU32ToF32:
		e.op(inst, "I2F.U %s, %s;", e.dest(inst.Dest), e.src(a[0]))

	case ir.OpLoadConstant:
		slot := a[0].Imm
		if len(a) >= 3 && !(a[2].Kind == ir.RefGpr && a[2].Index == ir.ZeroRegister) {
			e.op(inst, "ADD.U SCR.x, %s, %d;", e.src(a[2]), a[1].Imm)
			e.op(inst, "LDC.U32 %s, cb%d[SCR.x];", e.dest(inst.Dest), slot)
		} else {
			e.op(inst, "LDC.U32 %s, cb%d[%d];", e.dest(inst.Dest), slot, a[1].Imm)
		}

	case ir.OpLoadGlobal:
		e.loadAddress(inst, a[0], a[1])
		e.op(inst, "LOAD.U32 %s, ADDR.x;", e.dest(inst.Dest))
	case ir.OpStoreGlobal:
		e.loadAddress(inst, a[0], a[1])
		e.op(inst, "STORE.U32 %s, ADDR.x;", e.src(a[2]))

	case ir.OpLoadAttribute:
		e.op(inst, "MOV.F %s, %s;", e.dest(inst.Dest), e.attr(a[0].Index))
	case ir.OpStoreAttribute:
		if dest := e.attrDest(a[0].Index); dest != "" {
			e.op(inst, "MOV.F %s, %s;", dest, e.src(a[1]))
		}

	case ir.OpTextureSample:
		idx := e.textureIndex(a[0].Imm)
		e.op(inst, "MOV.F SCR.x, %s;", e.src(a[1]))
		e.op(inst, "MOV.F SCR.y, %s;", e.src(a[2]))
		e.op(inst, "TEX.F %s, SCR, texture[%d], 2D;", e.dest(inst.Dest), idx)

	case ir.OpWorkgroupIDX:
		e.op(inst, "MOV.U %s, invocation.groupid.x;", e.dest(inst.Dest))
	case ir.OpWorkgroupIDY:
		e.op(inst, "MOV.U %s, invocation.groupid.y;", e.dest(inst.Dest))
	case ir.OpWorkgroupIDZ:
		e.op(inst, "MOV.U %s, invocation.groupid.z;", e.dest(inst.Dest))
	case ir.OpLocalInvocationIDX:
		e.op(inst, "MOV.U %s, invocation.localid.x;", e.dest(inst.Dest))
	case ir.OpLocalInvocationIDY:
		e.op(inst, "MOV.U %s, invocation.localid.y;", e.dest(inst.Dest))
	case ir.OpLocalInvocationIDZ:
		e.op(inst, "MOV.U %s, invocation.localid.z;", e.dest(inst.Dest))
	case ir.OpLaneID:
		e.op(inst, "MOV.U %s, fragment.threadid.x;", e.dest(inst.Dest))
	case ir.OpVertexID:
		e.op(inst, "MOV.S %s, vertex.id;", e.dest(inst.Dest))
	case ir.OpInstanceID:
		e.op(inst, "MOV.S %s, vertex.instance;", e.dest(inst.Dest))

	case ir.OpBarrier:
		e.op(inst, "BAR;")
	case ir.OpMemoryBarrier:
		e.op(inst, "MEMBAR;")
	case ir.OpEmitVertex:
		e.op(inst, "EMIT;")
	case ir.OpEndPrimitive:
		e.op(inst, "ENDPRIM;")
	case ir.OpDiscard:
		e.op(inst, "KIL {-1, -1, -1, -1};")
	case ir.OpDepthWrite:
		e.op(inst, "MOV.F result.depth.z, %s;", e.src(a[0]))

	default:
		e.line("# unhandled op %d", inst.Op)
	}
}

// loadAddress packs a 64-bit address from a register pair, offset by the
// bindless descriptor base when SSBO descriptors are active.
func (e *emitter) loadAddress(inst *ir.Inst, lo, hi ir.Ref) {
	e.op(inst, "PK64.U ADDR.x, { %s, %s, 0, 0 };", e.src(lo), e.src(hi))
}

func (e *emitter) textureIndex(cbufOffset uint32) int {
	for i, t := range e.p.Info.Textures {
		if t.CbufOffset == cbufOffset {
			return i
		}
	}
	return 0
}
