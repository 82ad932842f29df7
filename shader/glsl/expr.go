package glsl

import (
	"fmt"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// gpr formats a register destination.
func gpr(r ir.Ref) string {
	return fmt.Sprintf("r%d", r.Index)
}

// f formats a float-typed read of a reference with its modifiers.
func (e *emitter) f(r ir.Ref) string {
	var s string
	switch r.Kind {
	case ir.RefGpr:
		if r.Index == ir.ZeroRegister {
			s = "0.0"
		} else {
			s = fmt.Sprintf("r%d", r.Index)
		}
	case ir.RefImmF32:
		s = fmt.Sprintf("utof(%#xu)", r.Imm)
	case ir.RefImmU32:
		s = fmt.Sprintf("utof(%#xu)", r.Imm)
	case ir.RefCbuf:
		s = fmt.Sprintf("utof(%s)", e.cbufWord(r.Index, r.Imm))
	case ir.RefAttr:
		s = e.attrRead(r.Index, "")
	default:
		s = "0.0"
	}
	if r.Abs {
		s = fmt.Sprintf("abs(%s)", s)
	}
	if r.Neg {
		s = fmt.Sprintf("-(%s)", s)
	}
	return s
}

// u formats an unsigned read.
func (e *emitter) u(r ir.Ref) string {
	switch r.Kind {
	case ir.RefImmU32, ir.RefImmF32:
		s := fmt.Sprintf("%#xu", r.Imm)
		if r.Neg {
			return fmt.Sprintf("(~(%s) + 1u)", s)
		}
		return s
	case ir.RefCbuf:
		return e.cbufWord(r.Index, r.Imm)
	default:
		s := fmt.Sprintf("ftou(%s)", e.f(ir.Ref{Kind: r.Kind, Index: r.Index, Imm: r.Imm}))
		if r.Neg {
			return fmt.Sprintf("(~(%s) + 1u)", s)
		}
		return s
	}
}

// i formats a signed read.
func (e *emitter) i(r ir.Ref) string {
	return fmt.Sprintf("int(%s)", e.u(ir.Ref{Kind: r.Kind, Index: r.Index, Imm: r.Imm}))
}

// cbufWord reads one 32-bit word from a constant buffer at a static
// byte offset.
func (e *emitter) cbufWord(slot uint16, offset uint32) string {
	return fmt.Sprintf("cbuf%d[%d][%d]", slot, offset/16, (offset/4)%4)
}

// cbufIndirect reads a word at a dynamic byte offset. AMD drivers
// miscompile dynamic component selection on uvec4 arrays; the workaround
// lowers it to an if-ladder.
func (e *emitter) cbufIndirect(slot uint16, offsetExpr string) string {
	if !e.cfg.ComponentIndexingWorkaround {
		return fmt.Sprintf("cbuf%d[(%s) >> 4][((%s) >> 2) & 3u]", slot, offsetExpr, offsetExpr)
	}
	v := fmt.Sprintf("cbuf%d[(%s) >> 4]", slot, offsetExpr)
	c := fmt.Sprintf("((%s) >> 2) & 3u", offsetExpr)
	return fmt.Sprintf("((%s) == 0u ? %s.x : (%s) == 1u ? %s.y : (%s) == 2u ? %s.z : %s.w)",
		c, v, c, v, c, v, v)
}

// pred formats a predicate read.
func (e *emitter) pred(r ir.Ref) string {
	if r.Kind != ir.RefPred {
		return "true"
	}
	var s string
	if r.Index == ir.TruePredicate {
		s = "true"
	} else {
		s = fmt.Sprintf("p%d", r.Index)
	}
	if r.Neg {
		return "!" + s
	}
	return s
}

// attrRead resolves an attribute selector to a component expression.
// vertex is the geometry-stage vertex index expression, empty elsewhere.
func (e *emitter) attrRead(selector uint16, vertex string) string {
	comp := "xyzw"[selector/4%4 : selector/4%4+1]
	if selector >= 0x80 && selector < 0x80+32*16 {
		slot := (selector - 0x80) / 16
		comp = "xyzw"[(selector%16)/4 : (selector%16)/4+1]
		if vertex != "" {
			return fmt.Sprintf("in_attr%d[%s].%s", slot, vertex, comp)
		}
		return fmt.Sprintf("in_attr%d.%s", slot, comp)
	}
	switch {
	case selector >= 0x70 && selector < 0x80: // position
		if e.p.Info.Stage == ir.StageFragment {
			return fmt.Sprintf("gl_FragCoord.%s", comp)
		}
		return fmt.Sprintf("gl_Position.%s", comp)
	}
	return "0.0"
}

// attrWrite resolves an attribute store destination.
func (e *emitter) attrWrite(selector uint16) string {
	comp := "xyzw"[selector/4%4 : selector/4%4+1]
	if selector >= 0x80 && selector < 0x80+32*16 {
		slot := (selector - 0x80) / 16
		comp = "xyzw"[(selector%16)/4 : (selector%16)/4+1]
		return fmt.Sprintf("out_attr%d.%s", slot, comp)
	}
	if selector >= 0x70 && selector < 0x80 {
		return fmt.Sprintf("gl_Position.%s", comp)
	}
	return ""
}

// assign writes an instruction result, honoring the execution predicate
// and the precise qualifier policy.
func (e *emitter) assign(inst *ir.Inst, dest, expr string) {
	if dest == "" {
		return
	}
	if !inst.Unconditional() {
		e.line("if (%s) { %s = %s; }", e.pred(inst.ExecPred), dest, expr)
		return
	}
	e.line("%s = %s;", dest, expr)
}

func (e *emitter) destGpr(inst *ir.Inst) string {
	if inst.Dest.Kind != ir.RefGpr || inst.Dest.Index == ir.ZeroRegister {
		return ""
	}
	return gpr(inst.Dest)
}

// cast wraps a comparison operand for drivers that lose the unsigned
// interpretation of a bit cast in comparisons.
func (e *emitter) ucast(s string) string {
	if e.cfg.UnsignedCastWorkaround {
		return fmt.Sprintf("uint(%s)", s)
	}
	return s
}

func (e *emitter) inst(inst *ir.Inst) {
	d := e.destGpr(inst)
	a := inst.Args

	switch inst.Op {
	case ir.OpCopy, ir.OpIdentity:
		e.assign(inst, d, e.f(a[0]))

	case ir.OpFAdd:
		e.assign(inst, d, fmt.Sprintf("%s + %s", e.f(a[0]), e.f(a[1])))
	case ir.OpFSub:
		e.assign(inst, d, fmt.Sprintf("%s - %s", e.f(a[0]), e.f(a[1])))
	case ir.OpFMul:
		e.assign(inst, d, fmt.Sprintf("%s * %s", e.f(a[0]), e.f(a[1])))
	case ir.OpFFma:
		e.assign(inst, d, fmt.Sprintf("fma(%s, %s, %s)", e.f(a[0]), e.f(a[1]), e.f(a[2])))
	case ir.OpFNeg:
		e.assign(inst, d, fmt.Sprintf("-(%s)", e.f(a[0])))
	case ir.OpFAbs:
		e.assign(inst, d, fmt.Sprintf("abs(%s)", e.f(a[0])))
	case ir.OpFSaturate:
		e.assign(inst, d, fmt.Sprintf("clamp(%s, 0.0, 1.0)", e.f(a[0])))
	case ir.OpFMin:
		e.assign(inst, d, fmt.Sprintf("min(%s, %s)", e.f(a[0]), e.f(a[1])))
	case ir.OpFMax:
		e.assign(inst, d, fmt.Sprintf("max(%s, %s)", e.f(a[0]), e.f(a[1])))
	case ir.OpFSqrt:
		e.assign(inst, d, fmt.Sprintf("sqrt(%s)", e.f(a[0])))
	case ir.OpFRsq:
		e.assign(inst, d, fmt.Sprintf("inversesqrt(%s)", e.f(a[0])))
	case ir.OpFRcp:
		e.assign(inst, d, fmt.Sprintf("(1.0 / %s)", e.f(a[0])))
	case ir.OpFExp2:
		e.assign(inst, d, fmt.Sprintf("exp2(%s)", e.f(a[0])))
	case ir.OpFLog2:
		e.assign(inst, d, fmt.Sprintf("log2(%s)", e.f(a[0])))
	case ir.OpFSin:
		e.assign(inst, d, fmt.Sprintf("sin(%s)", e.f(a[0])))
	case ir.OpFCos:
		e.assign(inst, d, fmt.Sprintf("cos(%s)", e.f(a[0])))
	case ir.OpFFloor:
		e.assign(inst, d, fmt.Sprintf("floor(%s)", e.f(a[0])))
	case ir.OpFCeil:
		e.assign(inst, d, fmt.Sprintf("ceil(%s)", e.f(a[0])))
	case ir.OpFRound:
		e.assign(inst, d, fmt.Sprintf("roundEven(%s)", e.f(a[0])))
	case ir.OpFTrunc:
		e.assign(inst, d, fmt.Sprintf("trunc(%s)", e.f(a[0])))

	case ir.OpIAdd:
		e.assign(inst, d, fmt.Sprintf("utof(%s + %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpISub:
		e.assign(inst, d, fmt.Sprintf("utof(%s - %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpIMul:
		e.assign(inst, d, fmt.Sprintf("utof(%s * %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpINeg:
		e.assign(inst, d, fmt.Sprintf("utof(~%s + 1u)", e.u(a[0])))
	case ir.OpShiftLeft:
		e.assign(inst, d, fmt.Sprintf("utof(%s << (%s & 31u))", e.u(a[0]), e.u(a[1])))
	case ir.OpShiftRight:
		e.assign(inst, d, fmt.Sprintf("utof(%s >> (%s & 31u))", e.u(a[0]), e.u(a[1])))
	case ir.OpShiftRightArith:
		e.assign(inst, d, fmt.Sprintf("itof(%s >> int(%s & 31u))", e.i(a[0]), e.u(a[1])))
	case ir.OpBitAnd:
		e.assign(inst, d, fmt.Sprintf("utof(%s & %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpBitOr:
		e.assign(inst, d, fmt.Sprintf("utof(%s | %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpBitXor:
		e.assign(inst, d, fmt.Sprintf("utof(%s ^ %s)", e.u(a[0]), e.u(a[1])))
	case ir.OpBitNot:
		e.assign(inst, d, fmt.Sprintf("utof(~%s)", e.u(a[0])))
	case ir.OpBitfieldInsert:
		e.assign(inst, d, fmt.Sprintf("utof((%s & %s) | (%s & ~%s))",
			e.u(a[1]), e.u(a[2]), e.u(a[0]), e.u(a[2])))

	case ir.OpConvertF32ToS32:
		e.assign(inst, d, fmt.Sprintf("itof(int(%s))", e.f(a[0])))
	case ir.OpConvertF32ToU32:
		e.assign(inst, d, fmt.Sprintf("utof(uint(%s))", e.f(a[0])))
	case ir.OpConvertS32ToF32:
		e.assign(inst, d, fmt.Sprintf("float(%s)", e.i(a[0])))
	case ir.OpConvertU32ToF32:
		e.assign(inst, d, fmt.Sprintf("float(%s)", e.u(a[0])))
	case ir.OpBitcastF32ToU32, ir.OpBitcastU32ToF32:
		e.assign(inst, d, e.f(a[0]))

	case ir.OpFOrdLessThan, ir.OpFOrdEqual, ir.OpFOrdLessThanEqual,
		ir.OpFOrdGreaterThan, ir.OpFOrdNotEqual, ir.OpFOrdGreaterThanEqual:
		e.setPred(inst, fmt.Sprintf("%s %s %s", e.f(a[0]), fcmpToken(inst.Op), e.f(a[1])))
	case ir.OpIEqual, ir.OpINotEqual, ir.OpILessThan, ir.OpILessThanEqual,
		ir.OpIGreaterThan, ir.OpIGreaterThanEqual:
		e.setPred(inst, fmt.Sprintf("%s %s %s", e.i(a[0]), icmpToken(inst.Op), e.i(a[1])))
	case ir.OpULessThan, ir.OpULessThanEqual, ir.OpUGreaterThan, ir.OpUGreaterThanEqual:
		e.setPred(inst, fmt.Sprintf("%s %s %s",
			e.ucast(e.u(a[0])), icmpToken(inst.Op), e.ucast(e.u(a[1]))))

	case ir.OpLoadConstant:
		slot := uint16(a[0].Imm)
		if len(a) >= 3 && !(a[2].Kind == ir.RefGpr && a[2].Index == ir.ZeroRegister) {
			off := fmt.Sprintf("(%s + %du)", e.u(a[2]), a[1].Imm)
			e.assign(inst, d, fmt.Sprintf("utof(%s)", e.cbufIndirect(slot, off)))
		} else {
			e.assign(inst, d, fmt.Sprintf("utof(%s)", e.cbufWord(slot, a[1].Imm)))
		}

	case ir.OpLoadGlobal:
		e.assign(inst, d, fmt.Sprintf("utof(gmem[%s >> 2])", e.u(a[0])))
	case ir.OpStoreGlobal:
		stmt := fmt.Sprintf("gmem[%s >> 2] = %s;", e.u(a[0]), e.u(a[2]))
		e.guarded(inst, stmt)

	case ir.OpLoadAttribute:
		vertex := ""
		if e.p.Info.Stage == ir.StageGeometry && len(a) >= 2 {
			vertex = e.i(a[1])
		}
		e.assign(inst, d, e.attrRead(a[0].Index, vertex))
	case ir.OpStoreAttribute:
		if dest := e.attrWrite(a[0].Index); dest != "" {
			e.guarded(inst, fmt.Sprintf("%s = %s;", dest, e.f(a[1])))
		}

	case ir.OpTextureSample:
		idx := e.textureIndex(a[0].Imm)
		e.assign(inst, d, fmt.Sprintf("texture(tex%d, vec2(%s, %s)).x",
			idx, e.f(a[1]), e.f(a[2])))

	case ir.OpWorkgroupIDX:
		e.assign(inst, d, "utof(gl_WorkGroupID.x)")
	case ir.OpWorkgroupIDY:
		e.assign(inst, d, "utof(gl_WorkGroupID.y)")
	case ir.OpWorkgroupIDZ:
		e.assign(inst, d, "utof(gl_WorkGroupID.z)")
	case ir.OpLocalInvocationIDX:
		e.assign(inst, d, "utof(gl_LocalInvocationID.x)")
	case ir.OpLocalInvocationIDY:
		e.assign(inst, d, "utof(gl_LocalInvocationID.y)")
	case ir.OpLocalInvocationIDZ:
		e.assign(inst, d, "utof(gl_LocalInvocationID.z)")
	case ir.OpLaneID:
		e.assign(inst, d, "utof(gl_SubGroupInvocationARB)")
	case ir.OpVertexID:
		e.assign(inst, d, "itof(gl_VertexID)")
	case ir.OpInstanceID:
		e.assign(inst, d, "itof(gl_InstanceID)")
	case ir.OpFrontFace:
		e.assign(inst, d, "utof(gl_FrontFacing ? 0xFFFFFFFFu : 0u)")
	case ir.OpThreadEqMask:
		e.assign(inst, d, "utof(uint(gl_SubGroupEqMaskARB.x))")
	case ir.OpThreadLtMask:
		e.assign(inst, d, "utof(uint(gl_SubGroupLtMaskARB.x))")
	case ir.OpThreadGtMask:
		e.assign(inst, d, "utof(uint(gl_SubGroupGtMaskARB.x))")

	case ir.OpVoteAll:
		e.votePred(inst, fmt.Sprintf("allInvocationsARB(%s)", e.pred(a[0])))
	case ir.OpVoteAny:
		e.votePred(inst, fmt.Sprintf("anyInvocationARB(%s)", e.pred(a[0])))
	case ir.OpVoteEqual:
		e.votePred(inst, fmt.Sprintf("allInvocationsEqualARB(%s)", e.pred(a[0])))
	case ir.OpBallot:
		e.assign(inst, d, fmt.Sprintf("utof(uint(ballotARB(%s)))", e.pred(a[0])))
	case ir.OpShuffleIndex:
		e.assign(inst, d, fmt.Sprintf("readInvocationARB(%s, int(%s))", e.f(a[0]), e.u(a[1])))

	case ir.OpAtomicIAdd:
		e.assign(inst, d, fmt.Sprintf("utof(atomicAdd(gmem[%s >> 2], %s))", e.u(a[0]), e.u(a[2])))
	case ir.OpAtomicExchange:
		e.assign(inst, d, fmt.Sprintf("utof(atomicExchange(gmem[%s >> 2], %s))", e.u(a[0]), e.u(a[2])))
	case ir.OpAtomicAnd:
		e.assign(inst, d, fmt.Sprintf("utof(atomicAnd(gmem[%s >> 2], %s))", e.u(a[0]), e.u(a[2])))
	case ir.OpAtomicOr:
		e.assign(inst, d, fmt.Sprintf("utof(atomicOr(gmem[%s >> 2], %s))", e.u(a[0]), e.u(a[2])))
	case ir.OpAtomicXor:
		e.assign(inst, d, fmt.Sprintf("utof(atomicXor(gmem[%s >> 2], %s))", e.u(a[0]), e.u(a[2])))

	case ir.OpBarrier:
		e.guarded(inst, "barrier();")
	case ir.OpMemoryBarrier:
		e.guarded(inst, "memoryBarrier();")
	case ir.OpEmitVertex:
		e.guarded(inst, "EmitVertex();")
	case ir.OpEndPrimitive:
		e.guarded(inst, "EndPrimitive();")
	case ir.OpDiscard:
		e.guarded(inst, "discard;")
	case ir.OpDepthWrite:
		e.guarded(inst, fmt.Sprintf("gl_FragDepth = %s;", e.f(a[0])))

	default:
		e.line("// unhandled op %d", inst.Op)
	}
}

// setPred writes a predicate destination.
func (e *emitter) setPred(inst *ir.Inst, expr string) {
	if inst.Dest.Kind != ir.RefPred || inst.Dest.Index == ir.TruePredicate {
		return
	}
	dest := fmt.Sprintf("p%d", inst.Dest.Index)
	if !inst.Unconditional() {
		e.line("if (%s) { %s = %s; }", e.pred(inst.ExecPred), dest, expr)
		return
	}
	e.line("%s = %s;", dest, expr)
}

// votePred handles vote ops writing predicate results.
func (e *emitter) votePred(inst *ir.Inst, expr string) {
	if inst.DestPred.Kind == ir.RefPred && inst.DestPred.Index != ir.TruePredicate {
		e.line("p%d = %s;", inst.DestPred.Index, expr)
	}
}

func (e *emitter) guarded(inst *ir.Inst, stmt string) {
	if !inst.Unconditional() {
		e.line("if (%s) { %s }", e.pred(inst.ExecPred), stmt)
		return
	}
	e.line("%s", stmt)
}

func (e *emitter) textureIndex(cbufOffset uint32) int {
	for i, t := range e.p.Info.Textures {
		if t.CbufOffset == cbufOffset {
			return i
		}
	}
	return 0
}

func fcmpToken(op ir.Op) string {
	switch op {
	case ir.OpFOrdLessThan:
		return "<"
	case ir.OpFOrdEqual:
		return "=="
	case ir.OpFOrdLessThanEqual:
		return "<="
	case ir.OpFOrdGreaterThan:
		return ">"
	case ir.OpFOrdNotEqual:
		return "!="
	case ir.OpFOrdGreaterThanEqual:
		return ">="
	}
	return "=="
}

func icmpToken(op ir.Op) string {
	switch op {
	case ir.OpILessThan, ir.OpULessThan:
		return "<"
	case ir.OpIEqual:
		return "=="
	case ir.OpILessThanEqual, ir.OpULessThanEqual:
		return "<="
	case ir.OpIGreaterThan, ir.OpUGreaterThan:
		return ">"
	case ir.OpINotEqual:
		return "!="
	case ir.OpIGreaterThanEqual, ir.OpUGreaterThanEqual:
		return ">="
	}
	return "=="
}

func samplerType(t ir.TextureType, shadow bool) string {
	var base string
	switch t {
	case ir.Texture1D:
		base = "sampler1D"
	case ir.Texture2D:
		base = "sampler2D"
	case ir.Texture2DArray:
		base = "sampler2DArray"
	case ir.Texture3D:
		base = "sampler3D"
	case ir.TextureCube:
		base = "samplerCube"
	case ir.TextureCubeArray:
		base = "samplerCubeArray"
	case ir.TextureBuffer:
		base = "samplerBuffer"
	}
	if shadow {
		return base + "Shadow"
	}
	return base
}

func gsInput(topology uint32) string {
	switch topology {
	case 1:
		return "lines"
	case 2:
		return "triangles"
	case 3:
		return "lines_adjacency"
	case 4:
		return "triangles_adjacency"
	}
	return "points"
}
