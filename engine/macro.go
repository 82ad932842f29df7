package engine

import (
	"errors"
	"fmt"
)

// Macro interpreter errors.
var (
	// ErrMacroBadOpcode aborts the running macro; later macros proceed.
	ErrMacroBadOpcode = errors.New("engine: bad macro opcode")

	// ErrMacroBranchInDelaySlot is a hard error in the guest program.
	ErrMacroBranchInDelaySlot = errors.New("engine: macro branch inside delay slot")

	// ErrMacroParamUnderrun means a macro fetched more parameters than the
	// call supplied.
	ErrMacroParamUnderrun = errors.New("engine: macro fetched past last parameter")

	// ErrMacroParamsUnconsumed means a macro exited without consuming every
	// supplied parameter.
	ErrMacroParamsUnconsumed = errors.New("engine: macro exited with unconsumed parameters")
)

// MacroMemoryWords is the size of the macro code RAM in 32-bit words
// (128 KiB).
const MacroMemoryWords = 0x20000 / 4

// MacroHost is the register-file surface visible to macro programs.
type MacroHost interface {
	// MacroRead reads a register value from the Maxwell register file.
	MacroRead(reg uint32) uint32
	// MacroSend writes (method, value) into the Maxwell register file.
	MacroSend(method, value uint32)
}

// macro operations (opcode bits 0-2).
const (
	macroOpALU = iota
	macroOpAddImmediate
	macroOpExtractInsert
	macroOpExtractShiftLeftImmediate
	macroOpExtractShiftLeftRegister
	macroOpRead
	macroOpUnused
	macroOpBranch
)

// macro result operations (opcode bits 4-6).
const (
	macroResultIgnoreAndFetch = iota
	macroResultMove
	macroResultMoveAndSetMethod
	macroResultFetchAndSend
	macroResultMoveAndSend
	macroResultFetchAndSetMethod
	macroResultMoveAndSetMethodFetchAndSend
	macroResultMoveAndSetMethodSend
)

// macro ALU operations (opcode bits 17-21).
const (
	macroALUAdd = iota
	macroALUAddWithCarry
	macroALUSubtract
	macroALUSubtractWithBorrow
	macroALUXor    = 8
	macroALUOr     = 9
	macroALUAnd    = 10
	macroALUAndNot = 11
	macroALUNand   = 12
)

// macroOpcode is one 32-bit macro instruction, decoded lazily through
// accessors to keep the bit layout in one place.
type macroOpcode uint32

func (op macroOpcode) operation() uint32   { return uint32(op) & 0x7 }
func (op macroOpcode) isExit() bool        { return uint32(op)&(1<<7) != 0 }
func (op macroOpcode) resultOp() uint32    { return (uint32(op) >> 4) & 0x7 }
func (op macroOpcode) dst() uint32         { return (uint32(op) >> 8) & 0x7 }
func (op macroOpcode) srcA() uint32        { return (uint32(op) >> 11) & 0x7 }
func (op macroOpcode) srcB() uint32        { return (uint32(op) >> 14) & 0x7 }
func (op macroOpcode) aluOp() uint32       { return (uint32(op) >> 17) & 0x1F }
func (op macroOpcode) bfSrcBit() uint32    { return (uint32(op) >> 17) & 0x1F }
func (op macroOpcode) bfSize() uint32      { return (uint32(op) >> 22) & 0x1F }
func (op macroOpcode) bfDstBit() uint32    { return (uint32(op) >> 27) & 0x1F }
func (op macroOpcode) bfMask() uint32      { return (1 << op.bfSize()) - 1 }
func (op macroOpcode) branchNotZero() bool { return uint32(op)&(1<<4) != 0 }
func (op macroOpcode) branchAnnul() bool   { return uint32(op)&(1<<5) != 0 }

// immediate returns the sign-extended 18-bit immediate (bits 14-31).
func (op macroOpcode) immediate() int32 {
	return int32(uint32(op)) >> 14
}

// MacroEngine executes GPU macros: small register-indirect programs that
// expand into register writes and method sends. It is an explicit state
// machine; the branch delay slot lives in delayedPC rather than in any
// coroutine trickery.
type MacroEngine struct {
	host MacroHost

	memory [MacroMemoryWords]uint32

	// Execution state, valid only inside Execute.
	regs          [8]uint32
	pc            uint32
	delayedPC     *uint32
	carry         bool
	methodAddress uint32 // {address:12, increment:6 at bit 12}
	params        []uint32
	paramNext     int
}

// NewMacroEngine creates an interpreter bound to a register file.
func NewMacroEngine(host MacroHost) *MacroEngine {
	return &MacroEngine{host: host}
}

// Upload stores a code word at the given word offset in macro memory.
func (m *MacroEngine) Upload(offset uint32, word uint32) {
	m.memory[offset%MacroMemoryWords] = word
}

// Execute runs the macro at the given word offset with the call's
// parameters. r1 is seeded with parameters[0]; the macro must consume
// every parameter before exiting.
func (m *MacroEngine) Execute(offset uint32, params []uint32) error {
	m.regs = [8]uint32{}
	m.pc = offset
	m.delayedPC = nil
	m.carry = false
	m.methodAddress = 0
	m.params = params
	m.paramNext = 0

	if len(params) > 0 {
		m.regs[1] = params[0]
		m.paramNext = 1
	}

	for {
		done, err := m.step(false)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	if m.paramNext != len(m.params) {
		return fmt.Errorf("%w: consumed %d of %d", ErrMacroParamsUnconsumed, m.paramNext, len(m.params))
	}
	return nil
}

// step executes one instruction. Returns done=true after the delay slot of
// an exiting instruction has run. The pending branch target is applied
// right after fetch, so the instruction at the old pc runs as the delay
// slot and then control transfers.
func (m *MacroEngine) step(inDelaySlot bool) (done bool, err error) {
	base := m.pc
	op := macroOpcode(m.memory[m.pc%MacroMemoryWords])
	m.pc++
	if m.delayedPC != nil {
		m.pc = *m.delayedPC
		m.delayedPC = nil
		inDelaySlot = true
	}

	switch op.operation() {
	case macroOpALU:
		result, aluErr := m.alu(op.aluOp(), m.reg(op.srcA()), m.reg(op.srcB()))
		if aluErr != nil {
			return false, aluErr
		}
		if err := m.processResult(op, result); err != nil {
			return false, err
		}

	case macroOpAddImmediate:
		result := uint32(int32(m.reg(op.srcA())) + op.immediate())
		if err := m.processResult(op, result); err != nil {
			return false, err
		}

	case macroOpExtractInsert:
		base := m.reg(op.srcA())
		src := (m.reg(op.srcB()) >> op.bfSrcBit()) & op.bfMask()
		base &^= op.bfMask() << op.bfDstBit()
		base |= src << op.bfDstBit()
		if err := m.processResult(op, base); err != nil {
			return false, err
		}

	case macroOpExtractShiftLeftImmediate:
		shift := m.reg(op.srcA()) & 31
		result := ((m.reg(op.srcB()) >> shift) & op.bfMask()) << op.bfDstBit()
		if err := m.processResult(op, result); err != nil {
			return false, err
		}

	case macroOpExtractShiftLeftRegister:
		shift := m.reg(op.srcA()) & 31
		result := ((m.reg(op.srcB()) >> op.bfSrcBit()) & op.bfMask()) << shift
		if err := m.processResult(op, result); err != nil {
			return false, err
		}

	case macroOpRead:
		reg := uint32(int32(m.reg(op.srcA())) + op.immediate())
		if err := m.processResult(op, m.host.MacroRead(reg)); err != nil {
			return false, err
		}

	case macroOpBranch:
		if inDelaySlot {
			return false, ErrMacroBranchInDelaySlot
		}
		value := m.reg(op.srcA())
		taken := value != 0
		if !op.branchNotZero() {
			taken = value == 0
		}
		if taken {
			target := uint32(int32(base) + op.immediate())
			if op.branchAnnul() {
				// Annulled branch skips the delay slot entirely.
				m.pc = target
			} else {
				t := target
				m.delayedPC = &t
			}
		}

	default:
		return false, fmt.Errorf("%w: %#x at pc %#x", ErrMacroBadOpcode, uint32(op), base)
	}

	if op.isExit() && op.operation() != macroOpBranch {
		// Exit executes its delay slot before stopping.
		if _, err := m.step(true); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (m *MacroEngine) reg(i uint32) uint32 {
	return m.regs[i&7] // r0 reads as 0 because writes to it are dropped
}

func (m *MacroEngine) setReg(i uint32, v uint32) {
	if i&7 == 0 {
		return // r0 is hard-wired to zero
	}
	m.regs[i&7] = v
}

func (m *MacroEngine) alu(op, a, b uint32) (uint32, error) {
	switch op {
	case macroALUAdd:
		r := uint64(a) + uint64(b)
		m.carry = r > 0xFFFFFFFF
		return uint32(r), nil
	case macroALUAddWithCarry:
		r := uint64(a) + uint64(b)
		if m.carry {
			r++
		}
		m.carry = r > 0xFFFFFFFF
		return uint32(r), nil
	case macroALUSubtract:
		r := uint64(a) - uint64(b)
		m.carry = r < 0x100000000
		return uint32(r), nil
	case macroALUSubtractWithBorrow:
		r := uint64(a) - uint64(b)
		if !m.carry {
			r--
		}
		m.carry = r < 0x100000000
		return uint32(r), nil
	case macroALUXor:
		return a ^ b, nil
	case macroALUOr:
		return a | b, nil
	case macroALUAnd:
		return a & b, nil
	case macroALUAndNot:
		return a &^ b, nil
	case macroALUNand:
		return ^(a & b), nil
	default:
		return 0, fmt.Errorf("%w: alu op %d", ErrMacroBadOpcode, op)
	}
}

func (m *MacroEngine) fetchParameter() (uint32, error) {
	if m.paramNext >= len(m.params) {
		return 0, ErrMacroParamUnderrun
	}
	v := m.params[m.paramNext]
	m.paramNext++
	return v, nil
}

// send writes (method_address, value) to the register file and advances
// the method address by its increment field.
func (m *MacroEngine) send(value uint32) {
	address := m.methodAddress & 0xFFF
	increment := (m.methodAddress >> 12) & 0x3F
	m.host.MacroSend(address, value)
	m.methodAddress = (m.methodAddress &^ 0xFFF) | ((address + increment) & 0xFFF)
}

func (m *MacroEngine) processResult(op macroOpcode, result uint32) error {
	switch op.resultOp() {
	case macroResultIgnoreAndFetch:
		p, err := m.fetchParameter()
		if err != nil {
			return err
		}
		m.setReg(op.dst(), p)
	case macroResultMove:
		m.setReg(op.dst(), result)
	case macroResultMoveAndSetMethod:
		m.setReg(op.dst(), result)
		m.methodAddress = result
	case macroResultFetchAndSend:
		p, err := m.fetchParameter()
		if err != nil {
			return err
		}
		m.setReg(op.dst(), p)
		m.send(result)
	case macroResultMoveAndSend:
		m.setReg(op.dst(), result)
		m.send(result)
	case macroResultFetchAndSetMethod:
		p, err := m.fetchParameter()
		if err != nil {
			return err
		}
		m.setReg(op.dst(), p)
		m.methodAddress = result
	case macroResultMoveAndSetMethodFetchAndSend:
		m.setReg(op.dst(), result)
		m.methodAddress = result
		p, err := m.fetchParameter()
		if err != nil {
			return err
		}
		m.send(p)
	case macroResultMoveAndSetMethodSend:
		m.setReg(op.dst(), result)
		m.methodAddress = result
		m.send((result >> 12) & 0x3F)
	}
	return nil
}
