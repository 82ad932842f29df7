package spirv

import (
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// loadReg reads a guest register as a float value id.
func (t *translator) loadReg(index uint16) ID {
	b := t.b
	floatT := b.TypeFloat()
	if index == ir.ZeroRegister {
		return b.Constant(floatT, 0)
	}
	v, ok := t.regVars[index]
	if !ok {
		return b.Constant(floatT, 0)
	}
	return b.BodyResult(opLoad, floatT, uint32(v))
}

// valF reads an operand as float, applying modifiers.
func (t *translator) valF(r ir.Ref) ID {
	b := t.b
	floatT := b.TypeFloat()
	var id ID
	switch r.Kind {
	case ir.RefGpr:
		id = t.loadReg(r.Index)
	case ir.RefImmF32, ir.RefImmU32:
		id = b.Constant(floatT, r.Imm)
	case ir.RefCbuf:
		id = t.bitcast(floatT, t.cbufWord(r.Index, r.Imm))
	case ir.RefAttr:
		id = t.attrLoad(r.Index)
	default:
		id = b.Constant(floatT, 0)
	}
	if r.Abs {
		id = b.ExtInst(floatT, glslFAbs, id)
	}
	if r.Neg {
		zero := b.Constant(floatT, 0)
		id = b.BodyResult(opFSub, floatT, uint32(zero), uint32(id))
	}
	return id
}

// valU reads an operand as uint via bit cast.
func (t *translator) valU(r ir.Ref) ID {
	b := t.b
	uintT := b.TypeInt(false)
	switch r.Kind {
	case ir.RefImmU32, ir.RefImmF32:
		return b.Constant(uintT, r.Imm)
	case ir.RefCbuf:
		return t.cbufWord(r.Index, r.Imm)
	default:
		return t.bitcast(uintT, t.valF(ir.Ref{Kind: r.Kind, Index: r.Index, Imm: r.Imm}))
	}
}

func (t *translator) valS(r ir.Ref) ID {
	return t.bitcast(t.b.TypeInt(true), t.valU(r))
}

func (t *translator) bitcast(typ ID, v ID) ID {
	return t.b.BodyResult(opBitcast, typ, uint32(v))
}

// predVal reads a predicate as a bool value id.
func (t *translator) predVal(r ir.Ref) ID {
	b := t.b
	var id ID
	if r.Kind != ir.RefPred || r.Index == ir.TruePredicate {
		id = b.ConstantBool(true)
	} else if v, ok := t.prdVars[r.Index]; ok {
		id = b.BodyResult(opLoad, b.TypeBool(), uint32(v))
	} else {
		id = b.ConstantBool(false)
	}
	if r.Neg {
		id = b.BodyResult(opLogicalNot, b.TypeBool(), uint32(id))
	}
	return id
}

// cbufWord loads one uint from a constant buffer at a static byte offset.
func (t *translator) cbufWord(slot uint16, offset uint32) ID {
	b := t.b
	uintT := b.TypeInt(false)
	v, ok := t.cbufs[slot]
	if !ok {
		return b.Constant(uintT, 0)
	}
	ptrT := b.TypePointer(classUniform, uintT)
	chain := b.BodyResult(opAccessChain, ptrT, uint32(v),
		uint32(b.Constant(uintT, 0)),         // struct member
		uint32(b.Constant(uintT, offset/16)), // uvec4 index
		uint32(b.Constant(uintT, (offset/4)%4)))
	return b.BodyResult(opLoad, uintT, uint32(chain))
}

// attrLoad reads one attribute component.
func (t *translator) attrLoad(selector uint16) ID {
	b := t.b
	floatT := b.TypeFloat()
	if selector >= 0x80 && selector < 0x80+32*16 {
		slot := uint32(selector-0x80) / 16
		comp := uint32(selector%16) / 4
		v, ok := t.inAttrs[slot]
		if !ok {
			return b.Constant(floatT, 0)
		}
		vec4T := b.TypeVector(floatT, 4)
		vec := b.BodyResult(opLoad, vec4T, uint32(v))
		return b.BodyResult(opCompositeExtract, floatT, uint32(vec), comp)
	}
	if selector >= 0x70 && selector < 0x80 && t.p.Info.Stage == ir.StageFragment {
		comp := uint32(selector-0x70) / 4
		vec4T := b.TypeVector(floatT, 4)
		v := t.builtinInput(builtinFragCoord, vec4T)
		vec := b.BodyResult(opLoad, vec4T, uint32(v))
		return b.BodyResult(opCompositeExtract, floatT, uint32(vec), comp)
	}
	return b.Constant(floatT, 0)
}

// storeReg writes a float value to a guest register, honoring the
// execution predicate with a select against the previous value.
func (t *translator) storeReg(inst *ir.Inst, value ID) {
	if inst.Dest.Kind != ir.RefGpr || inst.Dest.Index == ir.ZeroRegister {
		return
	}
	b := t.b
	v := t.regVars[inst.Dest.Index]
	if !inst.Unconditional() {
		old := t.loadReg(inst.Dest.Index)
		cond := t.predVal(inst.ExecPred)
		value = b.BodyResult(opSelect, b.TypeFloat(), uint32(cond), uint32(value), uint32(old))
	}
	b.Body(opStore, uint32(v), uint32(value))
}

func (t *translator) storePred(inst *ir.Inst, value ID) {
	if inst.Dest.Kind != ir.RefPred || inst.Dest.Index == ir.TruePredicate {
		return
	}
	b := t.b
	v := t.prdVars[inst.Dest.Index]
	if !inst.Unconditional() {
		old := b.BodyResult(opLoad, b.TypeBool(), uint32(v))
		cond := t.predVal(inst.ExecPred)
		value = b.BodyResult(opSelect, b.TypeBool(), uint32(cond), uint32(value), uint32(old))
	}
	b.Body(opStore, uint32(v), uint32(value))
}

var floatBinOps = map[ir.Op]uint16{
	ir.OpFAdd: opFAdd,
	ir.OpFSub: opFSub,
	ir.OpFMul: opFMul,
	ir.OpFDiv: opFDiv,
}

var floatExtOps = map[ir.Op]uint32{
	ir.OpFAbs:   glslFAbs,
	ir.OpFMin:   glslFMin,
	ir.OpFMax:   glslFMax,
	ir.OpFSqrt:  glslSqrt,
	ir.OpFRsq:   glslInverseSqrt,
	ir.OpFExp2:  glslExp2,
	ir.OpFLog2:  glslLog2,
	ir.OpFSin:   glslSin,
	ir.OpFCos:   glslCos,
	ir.OpFFloor: glslFloor,
	ir.OpFCeil:  glslCeil,
	ir.OpFRound: glslRoundEven,
	ir.OpFTrunc: glslTrunc,
}

var uintBinOps = map[ir.Op]uint16{
	ir.OpIAdd:            opIAdd,
	ir.OpISub:            opISub,
	ir.OpIMul:            opIMul,
	ir.OpShiftLeft:       opShiftLeftLogical,
	ir.OpShiftRight:      opShiftRightLogical,
	ir.OpShiftRightArith: opShiftRightArith,
	ir.OpBitAnd:          opBitwiseAnd,
	ir.OpBitOr:           opBitwiseOr,
	ir.OpBitXor:          opBitwiseXor,
}

var fcmpOps = map[ir.Op]uint16{
	ir.OpFOrdEqual:            opFOrdEqual,
	ir.OpFOrdNotEqual:         opFOrdNotEqual,
	ir.OpFOrdLessThan:         opFOrdLessThan,
	ir.OpFOrdLessThanEqual:    opFOrdLessThanEqual,
	ir.OpFOrdGreaterThan:      opFOrdGreaterThan,
	ir.OpFOrdGreaterThanEqual: opFOrdGreaterThanEq,
}

var icmpOps = map[ir.Op]uint16{
	ir.OpIEqual:            opIEqual,
	ir.OpINotEqual:         opINotEqual,
	ir.OpILessThan:         opSLessThan,
	ir.OpILessThanEqual:    opSLessThanEqual,
	ir.OpIGreaterThan:      opSGreaterThan,
	ir.OpIGreaterThanEqual: opSGreaterThanEqual,
	ir.OpULessThan:         opULessThan,
	ir.OpULessThanEqual:    opULessThanEqual,
	ir.OpUGreaterThan:      opUGreaterThan,
	ir.OpUGreaterThanEqual: opUGreaterThanEqual,
}

func (t *translator) inst(inst *ir.Inst) error {
	b := t.b
	a := inst.Args
	floatT := b.TypeFloat()
	uintT := b.TypeInt(false)
	boolT := b.TypeBool()

	if opc, ok := floatBinOps[inst.Op]; ok {
		t.storeReg(inst, b.BodyResult(opc, floatT, uint32(t.valF(a[0])), uint32(t.valF(a[1]))))
		return nil
	}
	if ext, ok := floatExtOps[inst.Op]; ok {
		args := []ID{t.valF(a[0])}
		if len(a) > 1 {
			args = append(args, t.valF(a[1]))
		}
		t.storeReg(inst, b.ExtInst(floatT, ext, args...))
		return nil
	}
	if opc, ok := uintBinOps[inst.Op]; ok {
		r := b.BodyResult(opc, uintT, uint32(t.valU(a[0])), uint32(t.valU(a[1])))
		t.storeReg(inst, t.bitcast(floatT, r))
		return nil
	}
	if opc, ok := fcmpOps[inst.Op]; ok {
		t.storePred(inst, b.BodyResult(opc, boolT, uint32(t.valF(a[0])), uint32(t.valF(a[1]))))
		return nil
	}
	if opc, ok := icmpOps[inst.Op]; ok {
		val := func(r ir.Ref) ID { return t.valS(r) }
		switch inst.Op {
		case ir.OpULessThan, ir.OpULessThanEqual, ir.OpUGreaterThan, ir.OpUGreaterThanEqual:
			val = func(r ir.Ref) ID { return t.valU(r) }
		}
		t.storePred(inst, b.BodyResult(opc, boolT, uint32(val(a[0])), uint32(val(a[1]))))
		return nil
	}

	switch inst.Op {
	case ir.OpCopy, ir.OpIdentity, ir.OpBitcastF32ToU32, ir.OpBitcastU32ToF32:
		t.storeReg(inst, t.valF(a[0]))
	case ir.OpFFma:
		t.storeReg(inst, b.ExtInst(floatT, glslFma, t.valF(a[0]), t.valF(a[1]), t.valF(a[2])))
	case ir.OpFNeg:
		zero := b.Constant(floatT, 0)
		t.storeReg(inst, b.BodyResult(opFSub, floatT, uint32(zero), uint32(t.valF(a[0]))))
	case ir.OpFSaturate:
		t.storeReg(inst, b.ExtInst(floatT, glslFClamp,
			t.valF(a[0]), b.Constant(floatT, 0), b.Constant(floatT, 0x3F800000)))
	case ir.OpFRcp:
		one := b.Constant(floatT, 0x3F800000)
		t.storeReg(inst, b.BodyResult(opFDiv, floatT, uint32(one), uint32(t.valF(a[0]))))
	case ir.OpBitNot:
		r := b.BodyResult(opNot, uintT, uint32(t.valU(a[0])))
		t.storeReg(inst, t.bitcast(floatT, r))
	case ir.OpINeg:
		zero := b.Constant(uintT, 0)
		r := b.BodyResult(opISub, uintT, uint32(zero), uint32(t.valU(a[0])))
		t.storeReg(inst, t.bitcast(floatT, r))

	case ir.OpConvertF32ToS32:
		r := b.BodyResult(opConvertFToS, b.TypeInt(true), uint32(t.valF(a[0])))
		t.storeReg(inst, t.bitcast(floatT, r))
	case ir.OpConvertF32ToU32:
		r := b.BodyResult(opConvertFToU, uintT, uint32(t.valF(a[0])))
		t.storeReg(inst, t.bitcast(floatT, r))
	case ir.OpConvertS32ToF32:
		t.storeReg(inst, b.BodyResult(opConvertSToF, floatT, uint32(t.valS(a[0]))))
	case ir.OpConvertU32ToF32:
		t.storeReg(inst, b.BodyResult(opConvertUToF, floatT, uint32(t.valU(a[0]))))

	case ir.OpLoadConstant:
		if len(a) >= 3 && !(a[2].Kind == ir.RefGpr && a[2].Index == ir.ZeroRegister) {
			// Indirect constant reads need a dynamic access chain.
			off := b.BodyResult(opIAdd, uintT,
				uint32(t.valU(a[2])), uint32(b.Constant(uintT, a[1].Imm)))
			t.storeReg(inst, t.bitcast(floatT, t.cbufWordDynamic(uint16(a[0].Imm), off)))
		} else {
			t.storeReg(inst, t.bitcast(floatT, t.cbufWord(uint16(a[0].Imm), a[1].Imm)))
		}

	case ir.OpLoadAttribute:
		t.storeReg(inst, t.attrLoad(a[0].Index))
	case ir.OpStoreAttribute:
		t.attrStore(inst, a[0].Index, t.valF(a[1]))

	case ir.OpTextureSample:
		t.storeReg(inst, t.textureSample(a))

	case ir.OpVertexID:
		v := t.builtinInput(builtinVertexID, b.TypeInt(true))
		r := b.BodyResult(opLoad, b.TypeInt(true), uint32(v))
		t.storeReg(inst, t.bitcast(floatT, r))
	case ir.OpInstanceID:
		v := t.builtinInput(builtinInstanceID, b.TypeInt(true))
		r := b.BodyResult(opLoad, b.TypeInt(true), uint32(v))
		t.storeReg(inst, t.bitcast(floatT, r))
	case ir.OpWorkgroupIDX, ir.OpWorkgroupIDY, ir.OpWorkgroupIDZ:
		t.storeReg(inst, t.builtinComp(builtinWorkgroupID, uint32(inst.Op-ir.OpWorkgroupIDX)))
	case ir.OpLocalInvocationIDX, ir.OpLocalInvocationIDY, ir.OpLocalInvocationIDZ:
		t.storeReg(inst, t.builtinComp(builtinLocalInvID, uint32(inst.Op-ir.OpLocalInvocationIDX)))

	case ir.OpDiscard:
		b.Body(opKill)
		b.Body(opLabel, uint32(b.alloc()))
	case ir.OpDepthWrite:
		vec := t.builtinOutput(builtinFragDepth, floatT)
		b.Body(opStore, uint32(vec), uint32(t.valF(a[0])))

	default:
		return &ErrUnsupported{Op: inst.Op}
	}
	return nil
}

func (t *translator) cbufWordDynamic(slot uint16, byteOff ID) ID {
	b := t.b
	uintT := b.TypeInt(false)
	v, ok := t.cbufs[slot]
	if !ok {
		return b.Constant(uintT, 0)
	}
	two := b.Constant(uintT, 2)
	three := b.Constant(uintT, 3)
	word := b.BodyResult(opShiftRightLogical, uintT, uint32(byteOff), uint32(two))
	vecIdx := b.BodyResult(opShiftRightLogical, uintT, uint32(word), uint32(two))
	comp := b.BodyResult(opBitwiseAnd, uintT, uint32(word), uint32(three))
	ptrT := b.TypePointer(classUniform, uintT)
	chain := b.BodyResult(opAccessChain, ptrT, uint32(v),
		uint32(b.Constant(uintT, 0)), uint32(vecIdx), uint32(comp))
	return b.BodyResult(opLoad, uintT, uint32(chain))
}

// textureSample emits an implicit-lod 2D sample and returns the x
// component, matching the scalar register result of the guest op.
func (t *translator) textureSample(a []ir.Ref) ID {
	b := t.b
	floatT := b.TypeFloat()
	vec4T := b.TypeVector(floatT, 4)
	vec2T := b.TypeVector(floatT, 2)

	sampler := t.textureVar(a[0].Imm)
	imageT := t.sampledImageType()
	img := b.BodyResult(opLoad, imageT, uint32(sampler))
	coords := b.BodyResult(opCompositeConstruct, vec2T,
		uint32(t.valF(a[1])), uint32(t.valF(a[2])))
	texel := b.BodyResult(opImageSampleImplicit, vec4T, uint32(img), uint32(coords))
	return b.BodyResult(opCompositeExtract, floatT, uint32(texel), 0)
}

func (t *translator) sampledImageType() ID {
	b := t.b
	floatT := b.TypeFloat()
	imgT := b.typ(typeKey{opTypeImage, uint32(floatT), 1 /* Dim2D */},
		opTypeImage, uint32(floatT), 1, 0, 0, 0, 1, 0 /* format Unknown */)
	return b.typ(typeKey{opTypeSampledImage, uint32(imgT), 0},
		opTypeSampledImage, uint32(imgT))
}

func (t *translator) textureVar(handleOffset uint32) ID {
	if v, ok := t.textures[handleOffset]; ok {
		return v
	}
	b := t.b
	index := uint32(0)
	for i, info := range t.p.Info.Textures {
		if info.CbufOffset == handleOffset {
			index = uint32(i)
			break
		}
	}
	ptr := b.TypePointer(classUniformConstant, t.sampledImageType())
	v := b.GlobalVariable(ptr, classUniformConstant)
	b.Decorate(v, decDescriptorSet, 0)
	b.Decorate(v, decBinding, t.cfg.TextureBindingBase+index)
	t.textures[handleOffset] = v
	return v
}

func (t *translator) attrStore(inst *ir.Inst, selector uint16, value ID) {
	b := t.b
	floatT := b.TypeFloat()
	var target ID
	var comp uint32
	switch {
	case selector >= 0x80 && selector < 0x80+32*16:
		slot := uint32(selector-0x80) / 16
		comp = uint32(selector%16) / 4
		v, ok := t.outAttrs[slot]
		if !ok {
			return
		}
		target = v
	case selector >= 0x70 && selector < 0x80 && t.position != 0:
		comp = uint32(selector-0x70) / 4
		target = t.position
	default:
		return
	}
	ptrT := b.TypePointer(classOutput, floatT)
	uintT := b.TypeInt(false)
	chain := b.BodyResult(opAccessChain, ptrT, uint32(target), uint32(b.Constant(uintT, comp)))
	b.Body(opStore, uint32(chain), uint32(value))
}

func (t *translator) builtinComp(builtin, comp uint32) ID {
	b := t.b
	uintT := b.TypeInt(false)
	uvec3 := b.TypeVector(uintT, 3)
	v := t.builtinInput(builtin, uvec3)
	vec := b.BodyResult(opLoad, uvec3, uint32(v))
	r := b.BodyResult(opCompositeExtract, uintT, uint32(vec), comp)
	return t.bitcast(b.TypeFloat(), r)
}

func (t *translator) builtinOutput(builtin uint32, typ ID) ID {
	if v, ok := t.builtins[builtin]; ok {
		return v
	}
	ptr := t.b.TypePointer(classOutput, typ)
	v := t.b.GlobalVariable(ptr, classOutput)
	t.b.Decorate(v, decBuiltIn, builtin)
	t.builtins[builtin] = v
	t.iface = append(t.iface, v)
	return v
}
