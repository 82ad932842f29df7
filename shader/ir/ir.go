// Package ir is the intermediate representation between guest shader
// decode and the host backends. Programs are register machines over the
// guest register file: instructions read and write guest GPRs and
// predicates, grouped into basic blocks with explicit branch terminators.
// Backends lower blocks to GLSL, NV assembly or SPIR-V.
package ir

import "fmt"

// Op is an IR operation.
type Op uint16

// Operations. The numeric order groups families; emitters index tables
// by Op so the zero value must stay OpVoid.
const (
	OpVoid Op = iota
	OpIdentity
	OpCopy

	// Float arithmetic.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFFma
	OpFNeg
	OpFAbs
	OpFSaturate
	OpFMin
	OpFMax
	OpFSqrt
	OpFRsq
	OpFRcp
	OpFExp2
	OpFLog2
	OpFSin
	OpFCos
	OpFFloor
	OpFCeil
	OpFRound
	OpFTrunc
	OpFClamp

	// Float comparisons, ordered (false on NaN) and unordered variants.
	OpFOrdEqual
	OpFOrdNotEqual
	OpFOrdLessThan
	OpFOrdLessThanEqual
	OpFOrdGreaterThan
	OpFOrdGreaterThanEqual
	OpFUnordEqual
	OpFUnordNotEqual
	OpFUnordLessThan
	OpFUnordLessThanEqual
	OpFUnordGreaterThan
	OpFUnordGreaterThanEqual
	OpFIsNan

	// Integer arithmetic.
	OpIAdd
	OpISub
	OpIMul
	OpIMad
	OpINeg
	OpIAbs
	OpIMin
	OpIMax
	OpUMin
	OpUMax
	OpShiftLeft
	OpShiftRight
	OpShiftRightArith
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpBitfieldExtractU
	OpBitfieldExtractS
	OpBitfieldInsert
	OpBitReverse
	OpBitCount
	OpFindMSB

	// Integer comparisons.
	OpIEqual
	OpINotEqual
	OpILessThan
	OpILessThanEqual
	OpIGreaterThan
	OpIGreaterThanEqual
	OpULessThan
	OpULessThanEqual
	OpUGreaterThan
	OpUGreaterThanEqual

	// Logical, on predicates.
	OpLogicalAnd
	OpLogicalOr
	OpLogicalXor
	OpLogicalNot

	// Conversions and bit casts.
	OpConvertF32ToS32
	OpConvertF32ToU32
	OpConvertS32ToF32
	OpConvertU32ToF32
	OpBitcastF32ToU32
	OpBitcastU32ToF32
	OpPackHalf2x16
	OpUnpackHalf2x16

	// Half-precision pairs.
	OpHAdd2
	OpHMul2
	OpHFma2

	// Select.
	OpSelect

	// Storage access.
	OpLoadConstant  // args: cbuf index imm, offset
	OpLoadGlobal    // args: address lo, address hi
	OpStoreGlobal   // args: address lo, address hi, value
	OpLoadLocal     // args: offset
	OpStoreLocal    // args: offset, value
	OpLoadShared    // args: offset
	OpStoreShared   // args: offset, value
	OpLoadAttribute // args: attribute imm, vertex index
	OpStoreAttribute

	// Textures.
	OpTextureSample     // args: handle imm, coords...
	OpTextureSampleComp // shadow comparison
	OpTextureGather
	OpTextureFetch // texel fetch, integer coords
	OpTextureSize
	OpTextureLod
	OpImageLoad
	OpImageStore

	// System values (S2R).
	OpWorkgroupIDX
	OpWorkgroupIDY
	OpWorkgroupIDZ
	OpLocalInvocationIDX
	OpLocalInvocationIDY
	OpLocalInvocationIDZ
	OpLaneID
	OpInstanceID
	OpVertexID
	OpFrontFace
	OpPointCoordX
	OpPointCoordY
	OpPositionX
	OpPositionY
	OpThreadEqMask
	OpThreadLtMask
	OpThreadGtMask

	// Warp operations.
	OpVoteAll
	OpVoteAny
	OpVoteEqual
	OpBallot
	OpShuffleIndex
	OpShuffleUp
	OpShuffleDown
	OpShuffleButterfly

	// Atomics, global memory.
	OpAtomicIAdd
	OpAtomicSMin
	OpAtomicSMax
	OpAtomicUMin
	OpAtomicUMax
	OpAtomicAnd
	OpAtomicOr
	OpAtomicXor
	OpAtomicExchange

	// Barriers.
	OpBarrier
	OpMemoryBarrier

	// Geometry stage.
	OpEmitVertex
	OpEndPrimitive

	// Fragment stage.
	OpDiscard
	OpDepthWrite // args: value

	OpCount
)

// HasSideEffects reports whether an instruction with this op must be kept
// even when its destination is dead.
func (op Op) HasSideEffects() bool {
	switch op {
	case OpStoreGlobal, OpStoreLocal, OpStoreShared, OpStoreAttribute,
		OpImageStore, OpAtomicIAdd, OpAtomicSMin, OpAtomicSMax,
		OpAtomicUMin, OpAtomicUMax, OpAtomicAnd, OpAtomicOr, OpAtomicXor,
		OpAtomicExchange, OpBarrier, OpMemoryBarrier, OpEmitVertex,
		OpEndPrimitive, OpDiscard, OpDepthWrite:
		return true
	}
	return false
}

// RefKind discriminates operand references.
type RefKind uint8

// Operand kinds.
const (
	RefNull   RefKind = iota
	RefGpr            // guest register, Index; r255 reads as zero
	RefPred           // guest predicate, Index; p7 (PT) reads as true
	RefImmU32         // Imm holds the literal
	RefImmF32         // Imm holds the float bits
	RefCbuf           // Index = buffer slot, Imm = byte offset
	RefAttr           // Index = attribute selector
)

// ZeroRegister reads as zero and discards writes.
const ZeroRegister = 255

// TruePredicate reads as true and discards writes.
const TruePredicate = 7

// Ref is an operand or destination reference.
type Ref struct {
	Kind  RefKind
	Index uint16
	Imm   uint32
	Neg   bool // negate (float/int) or complement (predicate)
	Abs   bool // absolute value, float sources only
}

// Gpr returns a register reference.
func Gpr(index uint16) Ref { return Ref{Kind: RefGpr, Index: index} }

// Pred returns a predicate reference.
func Pred(index uint16, negated bool) Ref {
	return Ref{Kind: RefPred, Index: index, Neg: negated}
}

// ImmU returns an unsigned immediate.
func ImmU(v uint32) Ref { return Ref{Kind: RefImmU32, Imm: v} }

// ImmF returns a float immediate from raw bits.
func ImmF(bits uint32) Ref { return Ref{Kind: RefImmF32, Imm: bits} }

// Cbuf returns a constant buffer reference.
func Cbuf(slot uint16, offset uint32) Ref {
	return Ref{Kind: RefCbuf, Index: slot, Imm: offset}
}

// Attr returns an attribute reference.
func Attr(selector uint16) Ref { return Ref{Kind: RefAttr, Index: selector} }

// IsZero reports whether the reference statically reads as zero.
func (r Ref) IsZero() bool {
	return r.Kind == RefGpr && r.Index == ZeroRegister ||
		(r.Kind == RefImmU32 || r.Kind == RefImmF32) && r.Imm == 0
}

func (r Ref) String() string {
	switch r.Kind {
	case RefNull:
		return "_"
	case RefGpr:
		if r.Index == ZeroRegister {
			return "rz"
		}
		return fmt.Sprintf("r%d", r.Index)
	case RefPred:
		if r.Neg {
			return fmt.Sprintf("!p%d", r.Index)
		}
		return fmt.Sprintf("p%d", r.Index)
	case RefImmU32:
		return fmt.Sprintf("%#x", r.Imm)
	case RefImmF32:
		return fmt.Sprintf("f(%#x)", r.Imm)
	case RefCbuf:
		return fmt.Sprintf("c%d[%#x]", r.Index, r.Imm)
	case RefAttr:
		return fmt.Sprintf("a[%#x]", r.Index)
	}
	return "?"
}

// Inst is one IR instruction. ExecPred guards execution; the true
// predicate means unconditional.
type Inst struct {
	Op       Op
	Dest     Ref
	DestPred Ref // second destination for SETP-style ops
	Args     []Ref
	ExecPred Ref
}

// Unconditional reports whether the instruction always executes.
func (i *Inst) Unconditional() bool {
	return i.ExecPred.Kind == RefNull ||
		(i.ExecPred.Kind == RefPred && i.ExecPred.Index == TruePredicate && !i.ExecPred.Neg)
}

// BranchKind is a block terminator class.
type BranchKind uint8

// Terminators.
const (
	BranchFallthrough BranchKind = iota
	BranchUnconditional
	BranchConditional
	BranchExit
)

// Branch terminates a block.
type Branch struct {
	Kind   BranchKind
	Target uint32 // PC of the taken successor
	Cond   Ref    // predicate for BranchConditional
}

// Block is a basic block covering guest PCs [Start, End).
type Block struct {
	Start uint32
	End   uint32
	Insts []*Inst
	Term  Branch
}

// Stage mirrors the guest pipeline stage of a program.
type Stage uint8

// Stages.
const (
	StageVertex Stage = iota
	StageTessControl
	StageTessEval
	StageGeometry
	StageFragment
	StageCompute
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageTessControl:
		return "tess_control"
	case StageTessEval:
		return "tess_eval"
	case StageGeometry:
		return "geometry"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	}
	return "unknown"
}

// Info carries interface facts the emitters need beyond the code itself.
type Info struct {
	Stage Stage

	// Bitmask of input/output attribute slots 0..31 touched.
	InputAttributes  uint32
	OutputAttributes uint32

	// Constant buffer slots read.
	ConstBuffersUsed uint32

	// Texture handles sampled, by cbuf offset key.
	Textures []TextureInfo

	UsesDiscard      bool
	UsesDepthWrite   bool
	UsesInstanceID   bool
	UsesVertexID     bool
	UsesFrontFace    bool
	UsesWarpOps      bool
	UsesGlobalMemory bool
	UsesSharedMemory bool
	LocalMemorySize  uint32

	// Geometry stage facts.
	GSInputTopology uint32
	GSMaxVertices   uint32
}

// TextureInfo describes one sampled texture binding.
type TextureInfo struct {
	CbufSlot   uint16
	CbufOffset uint32
	Type       TextureType
	Shadow     bool
}

// TextureType is the sampled texture dimensionality.
type TextureType uint8

// Texture types.
const (
	Texture1D TextureType = iota
	Texture2D
	Texture2DArray
	Texture3D
	TextureCube
	TextureCubeArray
	TextureBuffer
)

// Program is a decoded, optimizable shader program.
type Program struct {
	Blocks []*Block
	Info   Info
}

// BlockAt returns the block starting at pc, or nil.
func (p *Program) BlockAt(pc uint32) *Block {
	for _, b := range p.Blocks {
		if b.Start == pc {
			return b
		}
	}
	return nil
}
