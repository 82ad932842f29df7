package shader

import "github.com/kentjhall/mizu-sub009/shader/decode"

// Guest programs end with an unconditional branch to themselves. The
// comparison masks out the annul bit so both encodings terminate.
const (
	selfBranchWord = 0xE2400FFFFF07000F
	selfBranchMask = 0xFFFFFFFFFF7FFFFF
)

// maxProgramWords bounds the walk when the terminator is missing, for
// example when the program address is stale mid-upload.
const maxProgramWords = 0x40000

// AnalyzeProgramSize walks the instruction stream until the self-branch
// terminator and returns the program size in bytes, including the
// terminator word. Scheduling control words are skipped, not matched.
func AnalyzeProgramSize(env Environment, mainOffsetWords uint32) uint32 {
	words := mainOffsetWords
	for words < maxProgramWords {
		if (words-mainOffsetWords)%4 == 0 {
			words++
			continue
		}
		inst := env.ReadInstruction(words * 8)
		words++
		if inst&selfBranchMask == selfBranchWord&selfBranchMask {
			break
		}
	}
	return words * 8
}

// readProgram fetches the full code image as 64-bit words.
func readProgram(env Environment, sizeBytes uint32) []uint64 {
	code := make([]uint64, sizeBytes/8)
	for i := range code {
		code[i] = env.ReadInstruction(uint32(i) * 8)
	}
	return code
}

// mainOffsetWords returns the first instruction word index for a stage.
func mainOffsetWords(compute bool) uint32 {
	if compute {
		return decode.KernelMainOffset
	}
	return decode.StageMainOffset
}
