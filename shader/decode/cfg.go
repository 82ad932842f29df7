package decode

import (
	"fmt"
	"sort"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// StageMainOffset is the word index of the first instruction in a
// graphics shader; the 80-byte header precedes it.
const StageMainOffset = 10

// KernelMainOffset is the first instruction word of a compute kernel.
const KernelMainOffset = 0

// ErrUnknownOpcode wraps the offending word.
type ErrUnknownOpcode struct {
	PC   uint32
	Word uint64
}

func (e *ErrUnknownOpcode) Error() string {
	return fmt.Sprintf("decode: unknown opcode %#016x at pc %#x", e.Word, e.PC)
}

// isSched reports whether the word at absolute index i is a scheduling
// slot rather than an instruction.
func isSched(i, main uint32) bool {
	return (i-main)%4 == 0
}

// The self-branch word padding the end of every program, with the annul
// bit masked. It is never part of the reachable body.
const (
	terminatorWord = 0xE2400FFFFF07000F
	terminatorMask = 0xFFFFFFFFFF7FFFFF
)

func isTerminator(w uint64) bool {
	return w&terminatorMask == terminatorWord&terminatorMask
}

// stream walks the instruction words, skipping scheduling slots.
type stream struct {
	code []uint64
	main uint32
}

// at returns the instruction at byte pc, and whether pc is inside the
// program and not a sched slot.
func (s *stream) at(pc uint32) (Inst, bool) {
	idx := pc / 8
	if idx >= uint32(len(s.code)) || isSched(idx, s.main) || isTerminator(s.code[idx]) {
		return 0, false
	}
	return Inst(s.code[idx]), true
}

// next returns the pc of the instruction following pc.
func (s *stream) next(pc uint32) uint32 {
	idx := pc/8 + 1
	for idx < uint32(len(s.code)) && isSched(idx, s.main) {
		idx++
	}
	return idx * 8
}

// Decode translates a guest program into IR. The code slice is the full
// program as read from guest memory, header included for graphics
// stages.
func Decode(code []uint64, stage ir.Stage) (*ir.Program, error) {
	main := uint32(StageMainOffset)
	if stage == ir.StageCompute {
		main = KernelMainOffset
	}
	s := &stream{code: code, main: main}
	// The word at the main offset is itself a scheduling slot; the first
	// instruction follows it.
	entry := s.next(main * 8)

	labels, err := scanLabels(s, entry)
	if err != nil {
		return nil, err
	}

	b := &builder{
		program: &ir.Program{Info: ir.Info{Stage: stage}},
		stream:  s,
	}
	if err := b.translateBlocks(entry, labels); err != nil {
		return nil, err
	}
	ir.Optimize(b.program)
	return b.program, nil
}

// scanLabels walks the stream linearly from entry collecting branch
// targets. SSY pushes its join address; SYNC consumes the innermost one.
func scanLabels(s *stream, entry uint32) (map[uint32]bool, error) {
	labels := map[uint32]bool{entry: true}
	var ssyStack []uint32

	for pc := entry; ; pc = s.next(pc) {
		inst, ok := s.at(pc)
		if !ok {
			break
		}
		switch {
		case isBRA(inst):
			target := branchTarget(pc, inst)
			labels[target] = true
			labels[s.next(pc)] = true
		case isSSY(inst):
			target := branchTarget(pc, inst)
			labels[target] = true
			ssyStack = append(ssyStack, target)
		case isSYNC(inst):
			if len(ssyStack) == 0 {
				return nil, fmt.Errorf("decode: SYNC without SSY at pc %#x", pc)
			}
			ssyStack = ssyStack[:len(ssyStack)-1]
			labels[s.next(pc)] = true
		case isEXIT(inst):
			labels[s.next(pc)] = true
		default:
			if lookup(inst) == nil {
				return nil, &ErrUnknownOpcode{PC: pc, Word: uint64(inst)}
			}
		}
	}
	return labels, nil
}

func branchTarget(pc uint32, inst Inst) uint32 {
	return uint32(int64(pc) + 8 + inst.BranchOffset())
}

// translateBlocks decodes every reachable block in label order.
func (b *builder) translateBlocks(entry uint32, labels map[uint32]bool) error {
	starts := make([]uint32, 0, len(labels))
	for pc := range labels {
		starts = append(starts, pc)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	var ssyStack []uint32
	for _, start := range starts {
		if _, ok := b.stream.at(start); !ok {
			continue
		}
		block := &ir.Block{Start: start}
		b.current = block

		pc := start
		for {
			inst, ok := b.stream.at(pc)
			if !ok {
				block.End = pc
				block.Term = ir.Branch{Kind: ir.BranchExit}
				break
			}
			if done := b.terminate(block, pc, inst, &ssyStack); done {
				break
			}
			if e := lookup(inst); e != nil && e.emit != nil {
				e.emit(b, pc, inst)
			}
			pc = b.stream.next(pc)
			if pc != start && labels[pc] {
				block.End = pc
				block.Term = ir.Branch{Kind: ir.BranchFallthrough, Target: pc}
				break
			}
		}
		b.program.Blocks = append(b.program.Blocks, block)
	}
	if len(b.program.Blocks) == 0 {
		return fmt.Errorf("decode: empty program")
	}
	return nil
}

// terminate handles control-flow instructions; returns true when the
// block ended.
func (b *builder) terminate(block *ir.Block, pc uint32, inst Inst, ssyStack *[]uint32) bool {
	switch {
	case isEXIT(inst):
		block.End = b.stream.next(pc)
		if pred := inst.ExecPred(); pred.Kind == ir.RefPred {
			block.Term = ir.Branch{Kind: ir.BranchConditional, Cond: pred, Target: exitSentinel}
		} else {
			block.Term = ir.Branch{Kind: ir.BranchExit}
		}
		return true
	case isBRA(inst):
		target := branchTarget(pc, inst)
		block.End = b.stream.next(pc)
		if pred := inst.ExecPred(); pred.Kind == ir.RefPred {
			block.Term = ir.Branch{Kind: ir.BranchConditional, Cond: pred, Target: target}
		} else {
			block.Term = ir.Branch{Kind: ir.BranchUnconditional, Target: target}
		}
		return true
	case isSSY(inst):
		*ssyStack = append(*ssyStack, branchTarget(pc, inst))
		return false
	case isSYNC(inst):
		n := len(*ssyStack)
		target := (*ssyStack)[n-1]
		*ssyStack = (*ssyStack)[:n-1]
		block.End = b.stream.next(pc)
		block.Term = ir.Branch{Kind: ir.BranchUnconditional, Target: target}
		return true
	}
	return false
}

// exitSentinel marks a conditional exit's taken target. No real block
// starts at the maximum PC.
const exitSentinel = ^uint32(0)
