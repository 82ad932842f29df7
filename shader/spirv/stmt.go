package spirv

import (
	"github.com/kentjhall/mizu-sub009/shader/decode"
	"github.com/kentjhall/mizu-sub009/shader/ir"
)

func (t *translator) stmts(stmts []decode.Stmt) error {
	for _, s := range stmts {
		switch s := s.(type) {
		case decode.CodeStmt:
			for _, inst := range s.Block.Insts {
				if err := t.inst(inst); err != nil {
					return err
				}
			}
		case decode.IfStmt:
			if err := t.ifStmt(s); err != nil {
				return err
			}
		case decode.LoopStmt:
			if err := t.loopStmt(s); err != nil {
				return err
			}
		case decode.ExitStmt:
			t.exit()
			// Code after a return in the same region is unreachable;
			// open a new block so later instructions stay well formed.
			t.b.Body(opLabel, uint32(t.b.alloc()))
		case decode.DispatchStmt:
			if err := t.dispatch(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *translator) ifStmt(s decode.IfStmt) error {
	b := t.b
	cond := t.predVal(s.Cond)
	thenL := b.alloc()
	elseL := b.alloc()
	mergeL := b.alloc()

	target := elseL
	if len(s.Else) == 0 {
		target = mergeL
	}
	b.Body(opSelectionMerge, uint32(mergeL), 0)
	b.Body(opBranchConditional, uint32(cond), uint32(thenL), uint32(target))

	b.Body(opLabel, uint32(thenL))
	if err := t.stmts(s.Then); err != nil {
		return err
	}
	b.Body(opBranch, uint32(mergeL))

	if len(s.Else) > 0 {
		b.Body(opLabel, uint32(elseL))
		if err := t.stmts(s.Else); err != nil {
			return err
		}
		b.Body(opBranch, uint32(mergeL))
	}
	b.Body(opLabel, uint32(mergeL))
	return nil
}

func (t *translator) loopStmt(s decode.LoopStmt) error {
	b := t.b
	header := b.alloc()
	body := b.alloc()
	cont := b.alloc()
	merge := b.alloc()

	b.Body(opBranch, uint32(header))
	b.Body(opLabel, uint32(header))
	b.Body(opLoopMerge, uint32(merge), uint32(cont), 0)
	b.Body(opBranch, uint32(body))

	b.Body(opLabel, uint32(body))
	if err := t.stmts(s.Body); err != nil {
		return err
	}
	b.Body(opBranch, uint32(cont))

	b.Body(opLabel, uint32(cont))
	cond := t.predVal(s.Cond)
	b.Body(opBranchConditional, uint32(cond), uint32(header), uint32(merge))
	b.Body(opLabel, uint32(merge))
	return nil
}

// dispatch lowers irreducible control flow to the canonical loop-switch
// shape on a virtual pc variable.
func (t *translator) dispatch(d decode.DispatchStmt) error {
	b := t.b
	uintT := b.TypeInt(false)
	ptrT := b.TypePointer(classPrivate, uintT)
	jmpVar := b.GlobalVariable(ptrT, classPrivate)
	b.Body(opStore, uint32(jmpVar), uint32(b.Constant(uintT, d.Entry)))

	header := b.alloc()
	body := b.alloc()
	cont := b.alloc()
	merge := b.alloc()
	deflt := b.alloc()

	caseLabels := make([]ID, len(d.Blocks))
	for i := range d.Blocks {
		caseLabels[i] = b.alloc()
	}

	b.Body(opBranch, uint32(header))
	b.Body(opLabel, uint32(header))
	b.Body(opLoopMerge, uint32(merge), uint32(cont), 0)
	b.Body(opBranch, uint32(body))
	b.Body(opLabel, uint32(body))

	sel := b.BodyResult(opLoad, uintT, uint32(jmpVar))
	sw := []uint32{uint32(sel), uint32(deflt)}
	for i, blk := range d.Blocks {
		sw = append(sw, blk.Start, uint32(caseLabels[i]))
	}
	b.Body(opSelectionMerge, uint32(cont), 0)
	b.Body(opSwitch, sw...)

	for i, blk := range d.Blocks {
		b.Body(opLabel, uint32(caseLabels[i]))
		for _, inst := range blk.Insts {
			if err := t.inst(inst); err != nil {
				return err
			}
		}
		switch blk.Term.Kind {
		case ir.BranchExit:
			t.exit()
		case ir.BranchFallthrough, ir.BranchUnconditional:
			b.Body(opStore, uint32(jmpVar), uint32(b.Constant(uintT, blk.Term.Target)))
			b.Body(opBranch, uint32(cont))
		case ir.BranchConditional:
			cond := t.predVal(blk.Term.Cond)
			target := blk.Term.Target
			if target == ^uint32(0) {
				exitL := b.alloc()
				fallL := b.alloc()
				b.Body(opBranchConditional, uint32(cond), uint32(exitL), uint32(fallL))
				b.Body(opLabel, uint32(exitL))
				t.exit()
				b.Body(opLabel, uint32(fallL))
				b.Body(opStore, uint32(jmpVar), uint32(b.Constant(uintT, blk.End)))
				b.Body(opBranch, uint32(cont))
			} else {
				taken := b.Constant(uintT, target)
				fall := b.Constant(uintT, blk.End)
				next := b.BodyResult(opSelect, uintT, uint32(cond), uint32(taken), uint32(fall))
				b.Body(opStore, uint32(jmpVar), uint32(next))
				b.Body(opBranch, uint32(cont))
			}
		}
	}
	b.Body(opLabel, uint32(deflt))
	b.Body(opBranch, uint32(cont))

	b.Body(opLabel, uint32(cont))
	b.Body(opBranch, uint32(header))
	b.Body(opLabel, uint32(merge))
	return nil
}

// exit emits the stage epilogue followed by a return.
func (t *translator) exit() {
	b := t.b
	if t.p.Info.Stage == ir.StageFragment {
		floatT := b.TypeFloat()
		vec4T := b.TypeVector(floatT, 4)
		reg := uint16(0)
		for i := uint32(0); i < t.cfg.ColorOutputs; i++ {
			comps := make([]uint32, 4)
			for c := range comps {
				comps[c] = uint32(t.loadReg(reg))
				reg++
			}
			vec := b.BodyResult(opCompositeConstruct, vec4T, comps...)
			if v, ok := t.colors[i]; ok {
				b.Body(opStore, uint32(v), uint32(vec))
			}
		}
	}
	b.Body(opReturn)
}
