// Package glsl lowers IR programs to GLSL 4.30 suitable for separable
// program objects. Guest registers live in float locals (bit casts bridge
// integer operations), predicates in bools, matching the register file
// semantics of the guest.
package glsl

import (
	"fmt"
	"strings"

	"github.com/kentjhall/mizu-sub009/shader/decode"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Config selects bindings and driver workarounds for one emission.
type Config struct {
	// Base binding indices for this stage's resources.
	CbufBindingBase    uint32
	TextureBindingBase uint32

	// Number of color outputs a fragment program must populate.
	ColorOutputs uint32

	// Precise qualifier on arithmetic destinations. Disabled on
	// fragment programs for drivers that miscompile it there.
	Precise bool

	// NVIDIA: allow the fast-math pragma.
	FastMath bool

	// AMD: dynamic vector component indexing is broken; lower it to an
	// if-ladder.
	ComponentIndexingWorkaround bool

	// AMD: comparisons of bit-cast values need an explicit unsigned cast.
	UnsignedCastWorkaround bool

	// Transform feedback varyings, nil when XFB is inactive.
	Xfb []XfbVarying
}

// XfbVarying places one output location into a transform feedback buffer.
type XfbVarying struct {
	Location uint32
	Buffer   uint32
	Offset   uint32
	Stride   uint32
}

// Emit lowers a program to GLSL source.
func Emit(p *ir.Program, cfg Config) (string, error) {
	e := &emitter{p: p, cfg: cfg}
	return e.run()
}

type emitter struct {
	p   *ir.Program
	cfg Config
	b   strings.Builder
	ind int
}

func (e *emitter) line(format string, args ...any) {
	for i := 0; i < e.ind; i++ {
		e.b.WriteString("    ")
	}
	fmt.Fprintf(&e.b, format, args...)
	e.b.WriteByte('\n')
}

func (e *emitter) run() (string, error) {
	e.header()
	e.declarations()

	e.line("void main() {")
	e.ind++
	e.locals()
	stmts := decode.Structure(e.p)
	e.stmts(stmts)
	e.ind--
	e.line("}")
	return e.b.String(), nil
}

func (e *emitter) header() {
	e.line("#version 430 core")
	if e.p.Info.UsesWarpOps {
		e.line("#extension GL_ARB_shader_ballot : require")
	}
	if e.p.Info.UsesGlobalMemory {
		e.line("#extension GL_ARB_shader_storage_buffer_object : require")
	}
	if e.cfg.FastMath {
		e.line("#pragma optionNV(fastmath on)")
	}
	e.line("")
}

func (e *emitter) declarations() {
	info := &e.p.Info

	// Constant buffers, one std140 block per used slot.
	for slot := uint32(0); slot < 18; slot++ {
		if info.ConstBuffersUsed&(1<<slot) == 0 {
			continue
		}
		e.line("layout (std140, binding = %d) uniform cbuf_block_%d {",
			e.cfg.CbufBindingBase+slot, slot)
		e.line("    uvec4 cbuf%d[%d];", slot, 4096)
		e.line("};")
	}

	// Textures.
	for i, tex := range info.Textures {
		sampler := samplerType(tex.Type, tex.Shadow)
		e.line("layout (binding = %d) uniform %s tex%d;",
			e.cfg.TextureBindingBase+uint32(i), sampler, i)
	}

	// Stage interface.
	switch info.Stage {
	case ir.StageVertex:
		for slot := uint32(0); slot < 32; slot++ {
			if info.InputAttributes&(1<<slot) != 0 {
				e.line("layout (location = %d) in vec4 in_attr%d;", slot, slot)
			}
		}
		e.outputVaryings()
		e.line("out gl_PerVertex { vec4 gl_Position; };")
	case ir.StageGeometry:
		e.line("layout (%s) in;", gsInput(info.GSInputTopology))
		e.line("layout (triangle_strip, max_vertices = %d) out;", max(info.GSMaxVertices, 3))
		for slot := uint32(0); slot < 32; slot++ {
			if info.InputAttributes&(1<<slot) != 0 {
				e.line("layout (location = %d) in vec4 in_attr%d[];", slot, slot)
			}
		}
		e.outputVaryings()
	case ir.StageFragment:
		for slot := uint32(0); slot < 32; slot++ {
			if info.InputAttributes&(1<<slot) != 0 {
				e.line("layout (location = %d) in vec4 in_attr%d;", slot, slot)
			}
		}
		for i := uint32(0); i < e.cfg.ColorOutputs; i++ {
			e.line("layout (location = %d) out vec4 frag_color%d;", i, i)
		}
	case ir.StageCompute:
		// Local size is substituted by the pipeline from the launch
		// descriptor before compilation.
		e.line("layout (local_size_x = %%LOCAL_SIZE_X%%, local_size_y = %%LOCAL_SIZE_Y%%, local_size_z = %%LOCAL_SIZE_Z%%) in;")
	}

	if info.UsesGlobalMemory {
		e.line("layout (std430, binding = 0) buffer global_memory { uint gmem[]; };")
	}
	e.line("")

	// Bit cast helpers.
	e.line("uint ftou(float f) { return floatBitsToUint(f); }")
	e.line("int ftoi(float f) { return floatBitsToInt(f); }")
	e.line("float utof(uint u) { return uintBitsToFloat(u); }")
	e.line("float itof(int i) { return intBitsToFloat(i); }")
	e.line("")
}

func (e *emitter) outputVaryings() {
	info := &e.p.Info
	for slot := uint32(0); slot < 32; slot++ {
		if info.OutputAttributes&(1<<slot) == 0 {
			continue
		}
		if v := e.xfbFor(slot); v != nil {
			e.line("layout (location = %d, xfb_buffer = %d, xfb_offset = %d, xfb_stride = %d) out vec4 out_attr%d;",
				slot, v.Buffer, v.Offset, v.Stride, slot)
		} else {
			e.line("layout (location = %d) out vec4 out_attr%d;", slot, slot)
		}
	}
}

func (e *emitter) xfbFor(location uint32) *XfbVarying {
	for i := range e.cfg.Xfb {
		if e.cfg.Xfb[i].Location == location {
			return &e.cfg.Xfb[i]
		}
	}
	return nil
}

// locals declares the registers and predicates the program touches.
func (e *emitter) locals() {
	regs, preds := usedRegisters(e.p)
	qualifier := ""
	if e.cfg.Precise {
		qualifier = "precise "
	}
	for _, r := range regs {
		e.line("%sfloat r%d = 0.0;", qualifier, r)
	}
	for _, p := range preds {
		e.line("bool p%d = false;", p)
	}
}

func usedRegisters(p *ir.Program) (regs []uint16, preds []uint16) {
	var regSet, predSet [256]bool
	note := func(r ir.Ref) {
		switch r.Kind {
		case ir.RefGpr:
			if r.Index != ir.ZeroRegister {
				regSet[r.Index] = true
			}
		case ir.RefPred:
			if r.Index != ir.TruePredicate {
				predSet[r.Index] = true
			}
		}
	}
	for _, b := range p.Blocks {
		for _, inst := range b.Insts {
			note(inst.Dest)
			note(inst.DestPred)
			note(inst.ExecPred)
			for _, a := range inst.Args {
				note(a)
			}
		}
		note(b.Term.Cond)
	}
	for i := uint16(0); i < 256; i++ {
		if regSet[i] {
			regs = append(regs, i)
		}
		if i < 8 && predSet[i] {
			preds = append(preds, i)
		}
	}
	return regs, preds
}

func (e *emitter) stmts(stmts []decode.Stmt) {
	for _, s := range stmts {
		switch s := s.(type) {
		case decode.CodeStmt:
			for _, inst := range s.Block.Insts {
				e.inst(inst)
			}
		case decode.IfStmt:
			e.line("if (%s) {", e.pred(s.Cond))
			e.ind++
			e.stmts(s.Then)
			e.ind--
			if len(s.Else) > 0 {
				e.line("} else {")
				e.ind++
				e.stmts(s.Else)
				e.ind--
			}
			e.line("}")
		case decode.LoopStmt:
			e.line("do {")
			e.ind++
			e.stmts(s.Body)
			e.ind--
			e.line("} while (%s);", e.pred(s.Cond))
		case decode.ExitStmt:
			e.exit()
		case decode.DispatchStmt:
			e.dispatch(s)
		}
	}
}

// dispatch emits the jump-table loop for irreducible control flow.
func (e *emitter) dispatch(d decode.DispatchStmt) {
	e.line("uint jmp_to = %du;", d.Entry)
	e.line("while (true) {")
	e.ind++
	e.line("switch (jmp_to) {")
	for _, b := range d.Blocks {
		e.line("case %du: {", b.Start)
		e.ind++
		for _, inst := range b.Insts {
			e.inst(inst)
		}
		switch b.Term.Kind {
		case ir.BranchExit:
			e.exit()
		case ir.BranchFallthrough, ir.BranchUnconditional:
			e.line("jmp_to = %du; break;", b.Term.Target)
		case ir.BranchConditional:
			if b.Term.Target == ^uint32(0) {
				e.line("if (%s) { %s }", e.pred(b.Term.Cond), e.exitExpr())
				e.line("jmp_to = %du; break;", b.End)
			} else {
				e.line("jmp_to = (%s) ? %du : %du; break;",
					e.pred(b.Term.Cond), b.Term.Target, b.End)
			}
		}
		e.ind--
		e.line("}")
	}
	e.line("default: return;")
	e.line("}")
	e.ind--
	e.line("}")
}

// exit emits the stage epilogue and return.
func (e *emitter) exit() {
	for _, l := range strings.Split(strings.TrimRight(e.exitExpr(), "\n"), "\n") {
		e.line("%s", l)
	}
}

// exitExpr builds the epilogue: fragment color packing from the guest
// register file, four registers per render target.
func (e *emitter) exitExpr() string {
	if e.p.Info.Stage != ir.StageFragment {
		return "return;"
	}
	var sb strings.Builder
	reg := 0
	for i := uint32(0); i < e.cfg.ColorOutputs; i++ {
		fmt.Fprintf(&sb, "frag_color%d = vec4(r%d, r%d, r%d, r%d);\n",
			i, reg, reg+1, reg+2, reg+3)
		reg += 4
	}
	if e.p.Info.UsesDepthWrite {
		// Depth rides one register past the color block, skipping a
		// reserved slot after the last component.
		fmt.Fprintf(&sb, "gl_FragDepth = r%d;\n", reg+1)
	}
	sb.WriteString("return;")
	return sb.String()
}
