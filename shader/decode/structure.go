package decode

import "github.com/kentjhall/mizu-sub009/shader/ir"

// Stmt is a node of the recovered structured control flow. Emitters walk
// the statement list instead of the raw block graph.
type Stmt interface{ stmt() }

// CodeStmt is the straight-line body of one basic block.
type CodeStmt struct{ Block *ir.Block }

// IfStmt guards Then on the block's conditional predicate.
type IfStmt struct {
	Cond ir.Ref
	Then []Stmt
	Else []Stmt
}

// LoopStmt is a do-while loop: Body runs at least once, repeats while
// Cond holds.
type LoopStmt struct {
	Body []Stmt
	Cond ir.Ref
}

// ExitStmt returns from the program.
type ExitStmt struct{}

// DispatchStmt is the fallback for irreducible graphs: a jump-table loop
// over every block, dispatching on a virtual pc variable.
type DispatchStmt struct {
	Entry  uint32
	Blocks []*ir.Block
}

func (CodeStmt) stmt()     {}
func (IfStmt) stmt()       {}
func (LoopStmt) stmt()     {}
func (ExitStmt) stmt()     {}
func (DispatchStmt) stmt() {}

// Structure recovers structured control flow from a program's block
// list. Reducible shapes become if/else and do-while statements; anything
// else falls back to a dispatch loop, which every backend can emit.
func Structure(p *ir.Program) []Stmt {
	blocks := map[uint32]*ir.Block{}
	for _, b := range p.Blocks {
		blocks[b.Start] = b
	}
	if len(p.Blocks) == 0 {
		return nil
	}
	s := &structurer{blocks: blocks, visited: map[uint32]bool{}}
	stmts, ok := s.region(p.Blocks[0].Start, exitSentinel)
	if !ok || len(s.visited) != len(p.Blocks) {
		return []Stmt{DispatchStmt{Entry: p.Blocks[0].Start, Blocks: p.Blocks}}
	}
	return stmts
}

type structurer struct {
	blocks  map[uint32]*ir.Block
	visited map[uint32]bool
}

// region linearizes blocks from pc until stop, returning false when the
// shape is not reducible with the patterns below.
func (s *structurer) region(pc, stop uint32) ([]Stmt, bool) {
	var out []Stmt
	for pc != stop {
		b, ok := s.blocks[pc]
		if !ok || s.visited[pc] {
			return nil, false
		}
		s.visited[pc] = true
		out = append(out, CodeStmt{Block: b})

		switch b.Term.Kind {
		case ir.BranchExit:
			out = append(out, ExitStmt{})
			return out, true

		case ir.BranchFallthrough:
			pc = b.Term.Target

		case ir.BranchUnconditional:
			if b.Term.Target <= b.Start {
				// Backward edge without a condition: not reducible with
				// these patterns.
				return nil, false
			}
			pc = b.Term.Target

		case ir.BranchConditional:
			taken, fall := b.Term.Target, b.End
			switch {
			case taken == exitSentinel:
				out = append(out, IfStmt{Cond: b.Term.Cond, Then: []Stmt{ExitStmt{}}})
				pc = fall
			case taken == b.Start && len(out) >= 1:
				// Self-loop: the block repeats while the predicate holds.
				body := []Stmt{out[len(out)-1]}
				out[len(out)-1] = LoopStmt{Body: body, Cond: b.Term.Cond}
				pc = fall
			case taken > b.Start:
				stmt, next, ok := s.conditional(b, taken, fall)
				if !ok {
					return nil, false
				}
				out = append(out, stmt)
				pc = next
			default:
				return nil, false
			}
		}
	}
	return out, true
}

// conditional recovers a forward conditional branch as if/else. The taken
// edge skips ahead; the fallthrough side is the "then" region.
func (s *structurer) conditional(b *ir.Block, taken, fall uint32) (Stmt, uint32, bool) {
	// then-region: [fall, taken), join at taken.
	thenStmts, ok := s.region(fall, taken)
	if ok {
		cond := b.Term.Cond
		cond.Neg = !cond.Neg
		return IfStmt{Cond: cond, Then: thenStmts}, taken, true
	}
	// if/else: fall side ends with an unconditional jump over the taken
	// side to a common join.
	join, ok2 := s.findJoin(fall, taken)
	if !ok2 {
		return nil, 0, false
	}
	s.forget(fall, taken)
	thenStmts, ok = s.region(fall, join)
	if !ok {
		return nil, 0, false
	}
	elseStmts, ok := s.region(taken, join)
	if !ok {
		return nil, 0, false
	}
	cond := b.Term.Cond
	cond.Neg = !cond.Neg
	return IfStmt{Cond: cond, Then: thenStmts, Else: elseStmts}, join, true
}

// findJoin locates the unconditional target that the region before
// taken jumps to, the if/else join point.
func (s *structurer) findJoin(from, until uint32) (uint32, bool) {
	for pc := from; pc < until; {
		b, ok := s.blocks[pc]
		if !ok {
			return 0, false
		}
		if b.Term.Kind == ir.BranchUnconditional && b.Term.Target > until {
			return b.Term.Target, true
		}
		if b.Term.Kind == ir.BranchFallthrough || b.Term.Kind == ir.BranchUnconditional {
			pc = b.Term.Target
			continue
		}
		return 0, false
	}
	return 0, false
}

// forget clears visited marks inside [from, until) so a failed region
// attempt can be retried with a different shape.
func (s *structurer) forget(from, until uint32) {
	for pc := range s.visited {
		if pc >= from && pc < until {
			delete(s.visited, pc)
		}
	}
}
