package decode

import "github.com/kentjhall/mizu-sub009/shader/ir"

// MergePrograms chains a driver-injected prologue in front of a main
// program. The prologue's exits become jumps to the main entry, the
// main blocks shift past the prologue's address range so PCs stay
// unique, and the combined Info reflects both halves.
func MergePrograms(prologue, main *ir.Program) *ir.Program {
	if len(prologue.Blocks) == 0 {
		return main
	}

	var top uint32
	for _, b := range prologue.Blocks {
		if b.End > top {
			top = b.End
		}
	}

	entry := main.Blocks[0].Start + top
	for _, b := range main.Blocks {
		b.Start += top
		b.End += top
		if b.Term.Target != exitSentinel {
			b.Term.Target += top
		}
	}
	for _, b := range prologue.Blocks {
		switch b.Term.Kind {
		case ir.BranchExit:
			b.Term = ir.Branch{Kind: ir.BranchUnconditional, Target: entry}
		case ir.BranchConditional:
			if b.Term.Target == exitSentinel {
				b.Term.Target = entry
			}
		}
	}

	merged := &ir.Program{
		Blocks: append(prologue.Blocks, main.Blocks...),
		Info:   main.Info,
	}
	mergeInfo(&merged.Info, &prologue.Info)
	return merged
}

func mergeInfo(dst, src *ir.Info) {
	dst.InputAttributes |= src.InputAttributes
	dst.OutputAttributes |= src.OutputAttributes
	dst.ConstBuffersUsed |= src.ConstBuffersUsed
	for _, t := range src.Textures {
		if !hasTexture(dst.Textures, t) {
			dst.Textures = append(dst.Textures, t)
		}
	}
	dst.UsesDiscard = dst.UsesDiscard || src.UsesDiscard
	dst.UsesDepthWrite = dst.UsesDepthWrite || src.UsesDepthWrite
	dst.UsesInstanceID = dst.UsesInstanceID || src.UsesInstanceID
	dst.UsesVertexID = dst.UsesVertexID || src.UsesVertexID
	dst.UsesFrontFace = dst.UsesFrontFace || src.UsesFrontFace
	dst.UsesWarpOps = dst.UsesWarpOps || src.UsesWarpOps
	dst.UsesGlobalMemory = dst.UsesGlobalMemory || src.UsesGlobalMemory
	dst.UsesSharedMemory = dst.UsesSharedMemory || src.UsesSharedMemory
	if src.LocalMemorySize > dst.LocalMemorySize {
		dst.LocalMemorySize = src.LocalMemorySize
	}
}

func hasTexture(list []ir.TextureInfo, t ir.TextureInfo) bool {
	for _, have := range list {
		if have.CbufSlot == t.CbufSlot && have.CbufOffset == t.CbufOffset {
			return true
		}
	}
	return false
}
