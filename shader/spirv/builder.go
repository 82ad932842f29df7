// Package spirv lowers IR programs to SPIR-V 1.0 binary modules for
// ARB_gl_spirv consumption. The builder assembles raw words; the
// translator in emit.go drives it.
package spirv

import "encoding/binary"

// SPIR-V opcode numbers used by the builder.
const (
	opExtInstImport       = 11
	opExtInst             = 12
	opMemoryModel         = 14
	opEntryPoint          = 15
	opExecutionMode       = 16
	opCapability          = 17
	opTypeVoid            = 19
	opTypeBool            = 20
	opTypeInt             = 21
	opTypeFloat           = 22
	opTypeVector          = 23
	opTypeImage           = 25
	opTypeSampledImage    = 27
	opTypeArray           = 28
	opTypeStruct          = 30
	opTypePointer         = 32
	opTypeFunction        = 33
	opConstantTrue        = 41
	opConstantFalse       = 42
	opConstant            = 43
	opFunction            = 54
	opFunctionEnd         = 56
	opVariable            = 59
	opLoad                = 61
	opStore               = 62
	opAccessChain         = 65
	opDecorate            = 71
	opMemberDecorate      = 72
	opCompositeConstruct  = 80
	opCompositeExtract    = 81
	opSampledImage        = 86
	opImageSampleImplicit = 87
	opConvertFToU         = 109
	opConvertFToS         = 110
	opConvertSToF         = 111
	opConvertUToF         = 112
	opBitcast             = 124
	opIAdd                = 128
	opFAdd                = 129
	opISub                = 130
	opFSub                = 131
	opIMul                = 132
	opFMul                = 133
	opFDiv                = 136
	opLogicalOr           = 166
	opLogicalAnd          = 167
	opLogicalNot          = 168
	opSelect              = 169
	opIEqual              = 170
	opINotEqual           = 171
	opUGreaterThan        = 172
	opSGreaterThan        = 173
	opUGreaterThanEqual   = 174
	opSGreaterThanEqual   = 175
	opULessThan           = 176
	opSLessThan           = 177
	opULessThanEqual      = 178
	opSLessThanEqual      = 179
	opFOrdEqual           = 180
	opFOrdNotEqual        = 182
	opFOrdLessThan        = 184
	opFOrdGreaterThan     = 186
	opFOrdLessThanEqual   = 188
	opFOrdGreaterThanEq   = 190
	opShiftRightLogical   = 194
	opShiftRightArith     = 195
	opShiftLeftLogical    = 196
	opBitwiseOr           = 197
	opBitwiseXor          = 198
	opBitwiseAnd          = 199
	opNot                 = 200
	opLoopMerge           = 246
	opSelectionMerge      = 247
	opLabel               = 248
	opBranch              = 249
	opBranchConditional   = 250
	opSwitch              = 251
	opKill                = 252
	opReturn              = 253
)

// GLSL.std.450 extended instruction numbers.
const (
	glslRoundEven   = 2
	glslTrunc       = 3
	glslFAbs        = 4
	glslFloor       = 8
	glslCeil        = 9
	glslSin         = 13
	glslCos         = 14
	glslExp2        = 29
	glslLog2        = 30
	glslSqrt        = 31
	glslInverseSqrt = 32
	glslFMin        = 37
	glslFMax        = 40
	glslFClamp      = 43
	glslFma         = 50
)

// ID is a SPIR-V result id.
type ID uint32

// Builder assembles a SPIR-V module section by section.
type Builder struct {
	nextID ID

	capabilities []uint32
	imports      []uint32
	modes        []uint32 // memory model, entry point, execution modes
	decorations  []uint32
	types        []uint32 // types, constants, module-scope variables
	functions    []uint32

	glslImport ID

	typeCache  map[typeKey]ID
	constCache map[constKey]ID
}

type typeKey struct {
	class uint16
	a, b  uint32
}

type constKey struct {
	typ ID
	val uint32
}

// NewBuilder starts an empty module.
func NewBuilder() *Builder {
	b := &Builder{
		nextID:     1,
		typeCache:  map[typeKey]ID{},
		constCache: map[constKey]ID{},
	}
	return b
}

func (b *Builder) alloc() ID {
	id := b.nextID
	b.nextID++
	return id
}

func instr(opcode uint16, operands ...uint32) []uint32 {
	words := make([]uint32, 0, len(operands)+1)
	words = append(words, uint32(len(operands)+1)<<16|uint32(opcode))
	return append(words, operands...)
}

func (b *Builder) emitTo(section *[]uint32, opcode uint16, operands ...uint32) {
	*section = append(*section, instr(opcode, operands...)...)
}

// Capability records an OpCapability.
func (b *Builder) Capability(cap uint32) {
	b.emitTo(&b.capabilities, opCapability, cap)
}

// ImportGLSL imports the GLSL.std.450 instruction set once.
func (b *Builder) ImportGLSL() ID {
	if b.glslImport != 0 {
		return b.glslImport
	}
	b.glslImport = b.alloc()
	words := append([]uint32{uint32(b.glslImport)}, encodeString("GLSL.std.450")...)
	b.emitTo(&b.imports, opExtInstImport, words...)
	return b.glslImport
}

// MemoryModel records the logical GLSL450 memory model.
func (b *Builder) MemoryModel() {
	b.emitTo(&b.modes, opMemoryModel, 0 /* Logical */, 1 /* GLSL450 */)
}

// EntryPoint records the entry point with its interface ids.
func (b *Builder) EntryPoint(model uint32, fn ID, name string, iface []ID) {
	words := []uint32{model, uint32(fn)}
	words = append(words, encodeString(name)...)
	for _, id := range iface {
		words = append(words, uint32(id))
	}
	b.emitTo(&b.modes, opEntryPoint, words...)
}

// ExecutionMode records one execution mode.
func (b *Builder) ExecutionMode(fn ID, mode uint32, literals ...uint32) {
	words := append([]uint32{uint32(fn), mode}, literals...)
	b.emitTo(&b.modes, opExecutionMode, words...)
}

// Decorate records an OpDecorate.
func (b *Builder) Decorate(target ID, decoration uint32, literals ...uint32) {
	words := append([]uint32{uint32(target), decoration}, literals...)
	b.emitTo(&b.decorations, opDecorate, words...)
}

// MemberDecorate records an OpMemberDecorate.
func (b *Builder) MemberDecorate(target ID, member, decoration uint32, literals ...uint32) {
	words := append([]uint32{uint32(target), member, decoration}, literals...)
	b.emitTo(&b.decorations, opMemberDecorate, words...)
}

// Type constructors, cached by shape.

func (b *Builder) TypeVoid() ID  { return b.typ(typeKey{opTypeVoid, 0, 0}, opTypeVoid) }
func (b *Builder) TypeBool() ID  { return b.typ(typeKey{opTypeBool, 0, 0}, opTypeBool) }
func (b *Builder) TypeFloat() ID { return b.typ(typeKey{opTypeFloat, 32, 0}, opTypeFloat, 32) }

func (b *Builder) TypeInt(signed bool) ID {
	s := uint32(0)
	if signed {
		s = 1
	}
	return b.typ(typeKey{opTypeInt, 32, s}, opTypeInt, 32, s)
}

func (b *Builder) TypeVector(component ID, count uint32) ID {
	return b.typ(typeKey{opTypeVector, uint32(component), count},
		opTypeVector, uint32(component), count)
}

func (b *Builder) TypePointer(storageClass uint32, pointee ID) ID {
	return b.typ(typeKey{opTypePointer, storageClass, uint32(pointee)},
		opTypePointer, storageClass, uint32(pointee))
}

func (b *Builder) TypeFunction(ret ID) ID {
	return b.typ(typeKey{opTypeFunction, uint32(ret), 0}, opTypeFunction, uint32(ret))
}

func (b *Builder) typ(key typeKey, opcode uint16, operands ...uint32) ID {
	if id, ok := b.typeCache[key]; ok {
		return id
	}
	id := b.alloc()
	words := append([]uint32{uint32(id)}, operands...)
	b.emitTo(&b.types, opcode, words...)
	b.typeCache[key] = id
	return id
}

// Constant interns a 32-bit scalar constant.
func (b *Builder) Constant(typ ID, value uint32) ID {
	key := constKey{typ, value}
	if id, ok := b.constCache[key]; ok {
		return id
	}
	id := b.alloc()
	b.emitTo(&b.types, opConstant, uint32(typ), uint32(id), value)
	b.constCache[key] = id
	return id
}

// ConstantBool interns true/false.
func (b *Builder) ConstantBool(v bool) ID {
	key := constKey{b.TypeBool(), map[bool]uint32{false: 0, true: 0xB001}[v]}
	if id, ok := b.constCache[key]; ok {
		return id
	}
	id := b.alloc()
	if v {
		b.emitTo(&b.types, opConstantTrue, uint32(b.TypeBool()), uint32(id))
	} else {
		b.emitTo(&b.types, opConstantFalse, uint32(b.TypeBool()), uint32(id))
	}
	b.constCache[key] = id
	return id
}

// GlobalVariable declares a module-scope variable.
func (b *Builder) GlobalVariable(ptrType ID, storageClass uint32) ID {
	id := b.alloc()
	b.emitTo(&b.types, opVariable, uint32(ptrType), uint32(id), storageClass)
	return id
}

// Body appends one instruction to the function body.
func (b *Builder) Body(opcode uint16, operands ...uint32) {
	b.emitTo(&b.functions, opcode, operands...)
}

// BodyResult appends a result-producing instruction and returns its id.
// The result type goes first, per the binary form.
func (b *Builder) BodyResult(opcode uint16, resultType ID, operands ...uint32) ID {
	id := b.alloc()
	words := append([]uint32{uint32(resultType), uint32(id)}, operands...)
	b.emitTo(&b.functions, opcode, words...)
	return id
}

// ExtInst appends a GLSL.std.450 call.
func (b *Builder) ExtInst(resultType ID, inst uint32, args ...ID) ID {
	operands := []uint32{uint32(b.ImportGLSL()), inst}
	for _, a := range args {
		operands = append(operands, uint32(a))
	}
	return b.BodyResult(opExtInst, resultType, operands...)
}

// Serialize produces the binary module.
func (b *Builder) Serialize() []byte {
	header := []uint32{
		0x07230203, // magic
		0x00010000, // version 1.0
		0,          // generator
		uint32(b.nextID),
		0, // schema
	}
	words := header
	words = append(words, b.capabilities...)
	words = append(words, b.imports...)
	words = append(words, b.modes...)
	words = append(words, b.decorations...)
	words = append(words, b.types...)
	words = append(words, b.functions...)

	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// encodeString packs a nul-terminated UTF-8 literal into words.
func encodeString(s string) []uint32 {
	raw := append([]byte(s), 0)
	for len(raw)%4 != 0 {
		raw = append(raw, 0)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words
}
