package spirv

import (
	"fmt"

	"github.com/kentjhall/mizu-sub009/shader/decode"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Storage classes.
const (
	classUniformConstant = 0
	classInput           = 1
	classUniform         = 2
	classOutput          = 3
	classPrivate         = 6
)

// Execution models.
const (
	modelVertex   = 0
	modelGeometry = 3
	modelFragment = 4
	modelCompute  = 5
)

// Decorations.
const (
	decBlock         = 2
	decArrayStride   = 6
	decBuiltIn       = 11
	decLocation      = 30
	decBinding       = 33
	decDescriptorSet = 34
	decOffset        = 35
)

// Built-ins.
const (
	builtinPosition    = 0
	builtinVertexID    = 5
	builtinInstanceID  = 6
	builtinFragCoord   = 15
	builtinWorkgroupID = 26
	builtinLocalInvID  = 27
	builtinFragDepth   = 22
)

// Capabilities.
const capShader = 1

// ErrUnsupported marks programs the SPIR-V backend cannot express yet;
// the caller falls back to GLSL.
type ErrUnsupported struct{ Op ir.Op }

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("spirv: unsupported operation %d", e.Op)
}

// Config selects per-emission options.
type Config struct {
	CbufBindingBase    uint32
	TextureBindingBase uint32
	ColorOutputs       uint32
	WorkgroupSize      [3]uint32
}

// Emit lowers a program to a SPIR-V binary module.
func Emit(p *ir.Program, cfg Config) ([]byte, error) {
	if p.Info.UsesGlobalMemory || p.Info.UsesWarpOps {
		return nil, &ErrUnsupported{}
	}
	e := &translator{p: p, cfg: cfg, b: NewBuilder()}
	return e.run()
}

type translator struct {
	p   *ir.Program
	cfg Config
	b   *Builder

	fnID    ID
	iface   []ID
	regVars map[uint16]ID
	prdVars map[uint16]ID

	inAttrs  map[uint32]ID // location -> Input vec4 variable
	outAttrs map[uint32]ID
	colors   map[uint32]ID
	position ID
	builtins map[uint32]ID // builtin number -> variable

	cbufs    map[uint16]ID
	textures map[uint32]ID // cbuf handle offset -> sampler variable
}

func (t *translator) run() ([]byte, error) {
	b := t.b
	b.Capability(capShader)
	b.ImportGLSL()
	b.MemoryModel()

	t.regVars = map[uint16]ID{}
	t.prdVars = map[uint16]ID{}
	t.inAttrs = map[uint32]ID{}
	t.outAttrs = map[uint32]ID{}
	t.colors = map[uint32]ID{}
	t.builtins = map[uint32]ID{}
	t.cbufs = map[uint16]ID{}
	t.textures = map[uint32]ID{}

	t.declareInterface()
	t.declareRegisters()

	voidT := b.TypeVoid()
	fnT := b.TypeFunction(voidT)
	t.fnID = b.alloc()
	b.Body(opFunction, uint32(voidT), uint32(t.fnID), 0 /* None */, uint32(fnT))
	entry := b.alloc()
	b.Body(opLabel, uint32(entry))

	stmts := decode.Structure(t.p)
	if err := t.stmts(stmts); err != nil {
		return nil, err
	}
	// Defensive return for paths that fall off the end.
	b.Body(opReturn)
	b.Body(opFunctionEnd)

	model := uint32(modelVertex)
	switch t.p.Info.Stage {
	case ir.StageGeometry:
		model = modelGeometry
	case ir.StageFragment:
		model = modelFragment
	case ir.StageCompute:
		model = modelCompute
	}
	b.EntryPoint(model, t.fnID, "main", t.iface)
	switch t.p.Info.Stage {
	case ir.StageFragment:
		b.ExecutionMode(t.fnID, 7 /* OriginUpperLeft */)
	case ir.StageCompute:
		wg := t.cfg.WorkgroupSize
		b.ExecutionMode(t.fnID, 17 /* LocalSize */, max(wg[0], 1), max(wg[1], 1), max(wg[2], 1))
	}
	return b.Serialize(), nil
}

func (t *translator) declareInterface() {
	b := t.b
	info := &t.p.Info
	floatT := b.TypeFloat()
	vec4T := b.TypeVector(floatT, 4)

	for slot := uint32(0); slot < 32; slot++ {
		if info.InputAttributes&(1<<slot) != 0 {
			ptr := b.TypePointer(classInput, vec4T)
			v := b.GlobalVariable(ptr, classInput)
			b.Decorate(v, decLocation, slot)
			t.inAttrs[slot] = v
			t.iface = append(t.iface, v)
		}
		if info.OutputAttributes&(1<<slot) != 0 {
			ptr := b.TypePointer(classOutput, vec4T)
			v := b.GlobalVariable(ptr, classOutput)
			b.Decorate(v, decLocation, slot)
			t.outAttrs[slot] = v
			t.iface = append(t.iface, v)
		}
	}

	switch info.Stage {
	case ir.StageVertex, ir.StageGeometry:
		ptr := b.TypePointer(classOutput, vec4T)
		t.position = b.GlobalVariable(ptr, classOutput)
		b.Decorate(t.position, decBuiltIn, builtinPosition)
		t.iface = append(t.iface, t.position)
	case ir.StageFragment:
		for i := uint32(0); i < t.cfg.ColorOutputs; i++ {
			ptr := b.TypePointer(classOutput, vec4T)
			v := b.GlobalVariable(ptr, classOutput)
			b.Decorate(v, decLocation, i)
			t.colors[i] = v
			t.iface = append(t.iface, v)
		}
	}

	// Constant buffers: uvec4[4096] inside a block.
	uintT := b.TypeInt(false)
	uvec4T := b.TypeVector(uintT, 4)
	for slot := uint16(0); slot < 18; slot++ {
		if info.ConstBuffersUsed&(1<<slot) == 0 {
			continue
		}
		arrT := b.typ(typeKey{opTypeArray, uint32(uvec4T), 4096},
			opTypeArray, uint32(uvec4T), uint32(b.Constant(uintT, 4096)))
		b.Decorate(arrT, decArrayStride, 16)
		structT := b.typ(typeKey{opTypeStruct, uint32(arrT), uint32(slot)},
			opTypeStruct, uint32(arrT))
		b.Decorate(structT, decBlock)
		b.MemberDecorate(structT, 0, decOffset, 0)
		ptr := b.TypePointer(classUniform, structT)
		v := b.GlobalVariable(ptr, classUniform)
		b.Decorate(v, decDescriptorSet, 0)
		b.Decorate(v, decBinding, t.cfg.CbufBindingBase+uint32(slot))
		t.cbufs[slot] = v
	}
}

func (t *translator) declareRegisters() {
	b := t.b
	floatT := b.TypeFloat()
	boolT := b.TypeBool()
	fPtr := b.TypePointer(classPrivate, floatT)
	bPtr := b.TypePointer(classPrivate, boolT)

	note := func(r ir.Ref) {
		switch r.Kind {
		case ir.RefGpr:
			if r.Index != ir.ZeroRegister {
				if _, ok := t.regVars[r.Index]; !ok {
					t.regVars[r.Index] = b.GlobalVariable(fPtr, classPrivate)
				}
			}
		case ir.RefPred:
			if r.Index != ir.TruePredicate {
				if _, ok := t.prdVars[r.Index]; !ok {
					t.prdVars[r.Index] = b.GlobalVariable(bPtr, classPrivate)
				}
			}
		}
	}
	for _, blk := range t.p.Blocks {
		for _, inst := range blk.Insts {
			note(inst.Dest)
			note(inst.DestPred)
			note(inst.ExecPred)
			for _, a := range inst.Args {
				note(a)
			}
		}
		note(blk.Term.Cond)
	}
}

func (t *translator) builtinInput(builtin uint32, typ ID) ID {
	if v, ok := t.builtins[builtin]; ok {
		return v
	}
	ptr := t.b.TypePointer(classInput, typ)
	v := t.b.GlobalVariable(ptr, classInput)
	t.b.Decorate(v, decBuiltIn, builtin)
	t.builtins[builtin] = v
	t.iface = append(t.iface, v)
	return v
}
