package ir

import "math"

// Optimize runs the block-local passes in their canonical order.
func Optimize(p *Program) {
	for _, b := range p.Blocks {
		FoldConstants(b)
		EliminateDeadCode(b)
	}
}

// FoldConstants rewrites instructions whose operands are all immediates
// into plain copies of the computed value.
func FoldConstants(b *Block) {
	for _, inst := range b.Insts {
		if !inst.Unconditional() {
			continue
		}
		folded, ok := fold(inst)
		if !ok {
			continue
		}
		inst.Op = OpCopy
		inst.Args = []Ref{folded}
	}
}

func fold(inst *Inst) (Ref, bool) {
	u := make([]uint32, len(inst.Args))
	f := make([]float32, len(inst.Args))
	for i, a := range inst.Args {
		switch a.Kind {
		case RefImmU32:
			u[i] = a.Imm
			f[i] = float32(a.Imm)
		case RefImmF32:
			u[i] = a.Imm
			f[i] = math.Float32frombits(a.Imm)
		default:
			return Ref{}, false
		}
		if a.Neg || a.Abs {
			return Ref{}, false
		}
	}

	switch inst.Op {
	case OpFAdd:
		return ImmF(math.Float32bits(f[0] + f[1])), true
	case OpFSub:
		return ImmF(math.Float32bits(f[0] - f[1])), true
	case OpFMul:
		return ImmF(math.Float32bits(f[0] * f[1])), true
	case OpFFma:
		return ImmF(math.Float32bits(f[0]*f[1] + f[2])), true
	case OpIAdd:
		return ImmU(u[0] + u[1]), true
	case OpISub:
		return ImmU(u[0] - u[1]), true
	case OpIMul:
		return ImmU(u[0] * u[1]), true
	case OpBitAnd:
		return ImmU(u[0] & u[1]), true
	case OpBitOr:
		return ImmU(u[0] | u[1]), true
	case OpBitXor:
		return ImmU(u[0] ^ u[1]), true
	case OpBitNot:
		return ImmU(^u[0]), true
	case OpShiftLeft:
		return ImmU(u[0] << (u[1] & 31)), true
	case OpShiftRight:
		return ImmU(u[0] >> (u[1] & 31)), true
	case OpShiftRightArith:
		return ImmU(uint32(int32(u[0]) >> (u[1] & 31))), true
	case OpBitcastF32ToU32, OpBitcastU32ToF32, OpIdentity:
		return inst.Args[0], true
	}
	return Ref{}, false
}

// EliminateDeadCode removes instructions whose register destination is
// overwritten later in the same block before any read, and writes to the
// zero register. Side-effecting ops and predicate writers survive.
func EliminateDeadCode(b *Block) {
	kept := b.Insts[:0]
	for i, inst := range b.Insts {
		if inst.Op.HasSideEffects() {
			kept = append(kept, inst)
			continue
		}
		if inst.Dest.Kind == RefGpr && inst.Dest.Index == ZeroRegister &&
			inst.DestPred.Kind == RefNull {
			continue
		}
		if inst.Dest.Kind == RefGpr && inst.DestPred.Kind == RefNull &&
			inst.Unconditional() && deadInBlock(b, i, inst.Dest.Index) {
			continue
		}
		kept = append(kept, inst)
	}
	b.Insts = kept
}

// deadInBlock reports whether register reg is rewritten after index i
// without an intervening read, including by the terminator.
func deadInBlock(b *Block, i int, reg uint16) bool {
	for _, later := range b.Insts[i+1:] {
		for _, a := range later.Args {
			if a.Kind == RefGpr && a.Index == reg {
				return false
			}
		}
		if later.ExecPred.Kind == RefPred {
			// A guarded overwrite may not happen; be conservative.
			if later.Dest.Kind == RefGpr && later.Dest.Index == reg && !later.Unconditional() {
				return false
			}
		}
		if later.Dest.Kind == RefGpr && later.Dest.Index == reg && later.Unconditional() {
			return true
		}
	}
	return false
}
