// Package glasm lowers IR programs to NV_gpu_program5 assembly. Assembly
// programs skip the driver's GLSL frontend, which makes shader builds an
// order of magnitude cheaper on NVIDIA.
package glasm

import (
	"fmt"
	"strings"

	"github.com/kentjhall/mizu-sub009/shader/decode"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Config selects per-emission options.
type Config struct {
	// Bindless SSBO descriptors are read from program local parameters
	// when the driver carries NV_shader_buffer_load.
	BindlessSSBO bool

	// Number of color outputs a fragment program populates.
	ColorOutputs uint32
}

// Emit lowers a program to assembly text.
func Emit(p *ir.Program, cfg Config) (string, error) {
	e := &emitter{p: p, cfg: cfg}
	return e.run()
}

var profileHeaders = map[ir.Stage]string{
	ir.StageVertex:      "!!NVvp5.0",
	ir.StageTessControl: "!!NVtcp5.0",
	ir.StageTessEval:    "!!NVtep5.0",
	ir.StageGeometry:    "!!NVgp5.0",
	ir.StageFragment:    "!!NVfp5.0",
	ir.StageCompute:     "!!NVcp5.0",
}

type emitter struct {
	p   *ir.Program
	cfg Config
	b   strings.Builder
}

func (e *emitter) line(format string, args ...any) {
	fmt.Fprintf(&e.b, format, args...)
	e.b.WriteByte('\n')
}

func (e *emitter) run() (string, error) {
	header, ok := profileHeaders[e.p.Info.Stage]
	if !ok {
		return "", fmt.Errorf("glasm: unsupported stage %s", e.p.Info.Stage)
	}
	e.line("%s", header)
	e.line("OPTION NV_internal;")
	if e.p.Info.UsesWarpOps {
		e.line("OPTION NV_shader_thread_group;")
	}
	if e.cfg.BindlessSSBO && e.p.Info.UsesGlobalMemory {
		e.line("OPTION NV_shader_buffer_load;")
	}

	info := &e.p.Info
	for slot := uint32(0); slot < 18; slot++ {
		if info.ConstBuffersUsed&(1<<slot) != 0 {
			e.line("CBUFFER cb%d[] = { program.buffer[%d] };", slot, slot)
		}
	}
	if e.cfg.BindlessSSBO && info.UsesGlobalMemory {
		// {addr_lo, addr_hi, size, 0} per descriptor slot.
		e.line("PARAM ssbo[8] = { program.local[0..7] };")
	}

	e.temps()
	e.line("main:")
	e.stmts(decode.Structure(e.p))
	e.line("END")
	return e.b.String(), nil
}

func (e *emitter) temps() {
	regs, preds := usedRegisters(e.p)
	if len(regs) > 0 {
		names := make([]string, len(regs))
		for i, r := range regs {
			names[i] = fmt.Sprintf("R%d", r)
		}
		e.line("TEMP %s;", strings.Join(names, ", "))
	}
	if len(preds) > 0 {
		names := make([]string, len(preds))
		for i, p := range preds {
			names[i] = fmt.Sprintf("P%d", p)
		}
		e.line("TEMP %s;", strings.Join(names, ", "))
	}
	e.line("TEMP SCR;")
	if e.p.Info.UsesGlobalMemory {
		e.line("LONG TEMP ADDR;")
	}
	e.line("TEMP JMP;")
}

func usedRegisters(p *ir.Program) (regs, preds []uint16) {
	var regSet [256]bool
	var predSet [8]bool
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
	for i := range regSet {
		if regSet[i] {
			regs = append(regs, uint16(i))
		}
	}
	for i := range predSet {
		if predSet[i] {
			preds = append(preds, uint16(i))
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
			e.beginIf(s.Cond)
			e.stmts(s.Then)
			if len(s.Else) > 0 {
				e.line("ELSE;")
				e.stmts(s.Else)
			}
			e.line("ENDIF;")
		case decode.LoopStmt:
			e.line("REP;")
			e.stmts(s.Body)
			e.beginIfNegated(s.Cond)
			e.line("BRK;")
			e.line("ENDIF;")
			e.line("ENDREP;")
		case decode.ExitStmt:
			e.exit()
		case decode.DispatchStmt:
			e.dispatch(s)
		}
	}
}

// beginIf opens an IF on a predicate value (1.0 true, 0.0 false).
func (e *emitter) beginIf(cond ir.Ref) {
	e.line("MOVC.F SCR.x, %s;", e.pred(cond))
	e.line("IF NE.x;")
}

func (e *emitter) beginIfNegated(cond ir.Ref) {
	c := cond
	c.Neg = !c.Neg
	e.beginIf(c)
}

// dispatch emits the jump-table loop used for irreducible control flow.
func (e *emitter) dispatch(d decode.DispatchStmt) {
	e.line("MOV.U JMP.x, %d;", d.Entry)
	e.line("REP;")
	for _, b := range d.Blocks {
		e.line("SEQ.U SCR.x, JMP.x, %d;", b.Start)
		e.line("MOVC.U CC.x, SCR.x;")
		e.line("IF NE.x;")
		for _, inst := range b.Insts {
			e.inst(inst)
		}
		switch b.Term.Kind {
		case ir.BranchExit:
			e.exit()
		case ir.BranchFallthrough, ir.BranchUnconditional:
			e.line("MOV.U JMP.x, %d;", b.Term.Target)
		case ir.BranchConditional:
			e.beginIf(b.Term.Cond)
			if b.Term.Target == ^uint32(0) {
				e.exit()
			} else {
				e.line("MOV.U JMP.x, %d;", b.Term.Target)
			}
			e.line("ELSE;")
			e.line("MOV.U JMP.x, %d;", b.End)
			e.line("ENDIF;")
		}
		e.line("ENDIF;")
	}
	e.line("ENDREP;")
}

func (e *emitter) exit() {
	if e.p.Info.Stage == ir.StageFragment {
		reg := 0
		for i := uint32(0); i < e.cfg.ColorOutputs; i++ {
			e.line("MOV.F result.color[%d], { %s, %s, %s, %s };",
				i, e.regOrZero(reg), e.regOrZero(reg+1), e.regOrZero(reg+2), e.regOrZero(reg+3))
			reg += 4
		}
		if e.p.Info.UsesDepthWrite {
			// Depth rides one register past the color block, skipping a
			// reserved slot after the last component.
			e.line("MOV.F result.depth.z, %s;", e.regOrZero(reg+1))
		}
	}
	e.line("RET;")
}

func (e *emitter) regOrZero(r int) string {
	return fmt.Sprintf("R%d.x", r)
}
