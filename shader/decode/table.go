package decode

// encoding matches the top 16 bits of an instruction word against
// value under mask. Entries with narrower masks ignore selector bits
// that live inside the opcode field (comparison ops, MUFU function).
type encoding struct {
	value uint16
	mask  uint16
	name  string
	emit  func(b *builder, pc uint32, i Inst)
}

var opcodeTable = []encoding{
	// Control flow is handled by the CFG pass; the entries exist so the
	// linear scan can classify terminators and unknown-opcode reporting
	// stays accurate.
	{0xE240, 0xFFF0, "BRA", nil},
	{0xE290, 0xFFF0, "SSY", nil},
	{0xE300, 0xFFF0, "EXIT", nil},
	{0xF0F8, 0xFFF8, "SYNC", nil},

	{0x5C58, 0xFFF8, "FADD_R", (*builder).fadd},
	{0x4C58, 0xFFF8, "FADD_C", (*builder).fadd},
	{0x3858, 0xFFF8, "FADD_I", (*builder).fadd},
	{0x5C68, 0xFFF8, "FMUL_R", (*builder).fmul},
	{0x4C68, 0xFFF8, "FMUL_C", (*builder).fmul},
	{0x3868, 0xFFF8, "FMUL_I", (*builder).fmul},
	{0x59A0, 0xFFE0, "FFMA_R", (*builder).ffma},
	{0x49A0, 0xFFE0, "FFMA_C", (*builder).ffma},
	{0x5C60, 0xFFF8, "FMNMX_R", (*builder).fmnmx},
	{0x4C60, 0xFFF8, "FMNMX_C", (*builder).fmnmx},
	{0x5080, 0xFFC0, "MUFU", (*builder).mufu},

	{0x5C98, 0xFFF8, "MOV_R", (*builder).mov},
	{0x4C98, 0xFFF8, "MOV_C", (*builder).mov},
	{0x3898, 0xFFF8, "MOV_I", (*builder).mov},
	{0x0100, 0xFFF0, "MOV32I", (*builder).mov32i},

	{0x5C10, 0xFFF8, "IADD_R", (*builder).iadd},
	{0x4C10, 0xFFF8, "IADD_C", (*builder).iadd},
	{0x3810, 0xFFF8, "IADD_I", (*builder).iadd},
	{0x5C18, 0xFFF8, "ISCADD_R", (*builder).iscadd},
	{0x3818, 0xFFF8, "ISCADD_I", (*builder).iscadd},
	{0x5C48, 0xFFF8, "SHL_R", (*builder).shl},
	{0x3848, 0xFFF8, "SHL_I", (*builder).shl},
	{0x5C28, 0xFFF8, "SHR_R", (*builder).shr},
	{0x3828, 0xFFF8, "SHR_I", (*builder).shr},
	{0x5C40, 0xFFF8, "LOP_R", (*builder).lop},
	{0x3840, 0xFFF8, "LOP_I", (*builder).lop},
	{0x5BE0, 0xFFE0, "LOP3_LUT", (*builder).lop3},

	{0x5BB0, 0xFFF0, "FSETP_R", (*builder).fsetp},
	{0x4BB0, 0xFFF0, "FSETP_C", (*builder).fsetp},
	{0x36B0, 0xFFF0, "FSETP_I", (*builder).fsetp},
	{0x5B60, 0xFFF0, "ISETP_R", (*builder).isetp},
	{0x4B60, 0xFFF0, "ISETP_C", (*builder).isetp},
	{0x3660, 0xFFF0, "ISETP_I", (*builder).isetp},

	{0x5CB0, 0xFFF8, "F2I", (*builder).f2i},
	{0x5CB8, 0xFFF8, "I2F", (*builder).i2f},

	{0xF0C8, 0xFFF8, "S2R", (*builder).s2r},
	{0xE000, 0xFF00, "IPA", (*builder).ipa},
	{0xEFD8, 0xFFF8, "LD_A", (*builder).lda},
	{0xEFF0, 0xFFF8, "ST_A", (*builder).sta},
	{0xEFA0, 0xFFF8, "AL2P", (*builder).al2p},
	{0xEED0, 0xFFF8, "LDG", (*builder).ldg},
	{0xEED8, 0xFFF8, "STG", (*builder).stg},
	{0xEF90, 0xFFF8, "LDC", (*builder).ldc},

	{0xC000, 0xFC00, "TEX", (*builder).tex},
	{0xD800, 0xFC00, "TEXS", (*builder).texs},

	{0xFBE0, 0xFFE0, "OUT", (*builder).out},
	{0xF0A8, 0xFFF8, "BAR", (*builder).bar},
	{0xEF98, 0xFFF8, "MEMBAR", (*builder).membar},
	{0x50D8, 0xFFF8, "VOTE", (*builder).vote},
	{0xEF10, 0xFFF8, "SHFL", (*builder).shfl},
	{0xED00, 0xFF00, "ATOM", (*builder).atom},
}

// lookup finds the table entry matching an instruction word.
func lookup(i Inst) *encoding {
	op := i.Opcode()
	for idx := range opcodeTable {
		e := &opcodeTable[idx]
		if op&e.mask == e.value {
			return e
		}
	}
	return nil
}

// Terminator opcode classes, shared by the scanner and the translator.
func isBRA(i Inst) bool  { return i.Opcode()&0xFFF0 == 0xE240 }
func isSSY(i Inst) bool  { return i.Opcode()&0xFFF0 == 0xE290 }
func isEXIT(i Inst) bool { return i.Opcode()&0xFFF0 == 0xE300 }
func isSYNC(i Inst) bool { return i.Opcode()&0xFFF8 == 0xF0F8 }
