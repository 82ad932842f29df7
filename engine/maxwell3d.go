package engine

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kentjhall/mizu-sub009/mem"
)

// ShadowRAMControl selects how register writes interact with the shadow
// copy of the register image.
type ShadowRAMControl uint32

// Shadow RAM modes.
const (
	// ShadowTrack writes both the image and the shadow copy.
	ShadowTrack ShadowRAMControl = 0
	// ShadowTrackFiltered tracks, but skips transient data-path registers.
	ShadowTrackFiltered ShadowRAMControl = 1
	// ShadowPassthrough writes the image only.
	ShadowPassthrough ShadowRAMControl = 2
	// ShadowReplay substitutes the shadow value for the incoming one.
	ShadowReplay ShadowRAMControl = 3
)

// Processor receives the operations a method write can trigger. The
// rasterizer facade implements it; engines never touch the host GPU
// directly.
type Processor interface {
	// Draw handles a VERTEX_END_GL trigger.
	Draw(instanced bool)
	// Clear handles a CLEAR_BUFFERS trigger.
	Clear(flags ClearFlags)
	// QueryCounter serves a counter query; the implementation writes the
	// stamp at addr once the host count is available.
	QueryCounter(addr mem.GpuAddr, q QueryGet, payload uint32)
	// SignalSyncPoint increments a guest sync point after the host GPU
	// catches up.
	SignalSyncPoint(id uint32)
}

// Maxwell3D is the 3D engine register file and method dispatcher. All
// methods are driven from the rasterizer thread; the dirty bitset is the
// only state shared with other threads.
type Maxwell3D struct {
	Regs  Registers
	Dirty *DirtyState

	memory    *mem.Manager
	processor Processor
	macro     *MacroEngine
	log       *slog.Logger

	shadowMode ShadowRAMControl

	// Macro call state.
	macroPositions [0x80]uint32
	macroBindIndex int
	executingMacro uint32
	macroParams    []uint32
	uploadAddress  uint32 // macro code upload cursor, in words

	// Inline data upload cursor, in words from the destination address.
	uploadOffset uint32

	// Bound constant buffers per stage and slot; written by CB_BIND,
	// consumed at draw time.
	BoundConstBuffers [NumUploadStages][NumStageCbufs]ConstBuffer

	// Count of draw/clear/dispatch commands issued since creation; the
	// query cache uses it to decide whether a flush must be injected.
	QueuedCommands uint64

	warnedMu sync.Mutex
	warned   map[uint32]struct{}

	ticks func() uint64
}

// NewMaxwell3D creates the 3D engine. A nil logger disables logging.
func NewMaxwell3D(memory *mem.Manager, processor Processor, log *slog.Logger) *Maxwell3D {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Maxwell3D{
		Dirty:     NewDirtyState(),
		memory:    memory,
		processor: processor,
		log:       log,
		warned:    make(map[uint32]struct{}),
		ticks: func() uint64 {
			return uint64(time.Now().UnixNano())
		},
	}
	m.macro = NewMacroEngine(m)
	return m
}

// Write processes a single (method, value) pair from the command stream.
func (m *Maxwell3D) Write(method uint32, value uint32) {
	m.CallMethod(method, value, true)
}

// WriteMulti processes a burst of values for one method. Constant-buffer
// data and macro parameters take burst-specific paths; everything else
// degrades to repeated single writes.
func (m *Maxwell3D) WriteMulti(method uint32, values []uint32) {
	switch {
	case method >= RegCBDataBase && method < RegCBDataBase+RegCBDataCount:
		m.processCBDataBurst(values)
	default:
		for i, v := range values {
			m.CallMethod(method, v, i == len(values)-1)
		}
	}
}

// CallMethod is Write with explicit burst-tail information, needed by the
// macro call window: a macro executes once the last parameter of the
// command-buffer entry has arrived.
func (m *Maxwell3D) CallMethod(method, value uint32, lastCall bool) {
	if method >= MacroMethodBase {
		m.callMacroMethod(method, value, lastCall)
		return
	}

	value = m.applyShadow(method, value)
	m.Regs.Image[method] = value
	m.Dirty.MarkRegister(int(method))

	switch method {
	case RegMacroUploadAddress:
		m.uploadAddress = value
	case RegMacroData:
		m.macro.Upload(m.uploadAddress, value)
		m.uploadAddress++
	case RegMacroBindEntry:
		m.macroPositions[m.macroBindIndex%len(m.macroPositions)] = value
		m.macroBindIndex++
	case RegShadowRAMControl:
		m.shadowMode = ShadowRAMControl(value)
	case RegFirmwareCall4:
		// Firmware call 4 is only used to set the syncpoint payload
		// scratch; observed guest drivers expect MME scratch reg 4 == 1.
		m.Regs.Image[RegCBDataBase+4] = 1
	case RegUploadExec:
		m.uploadOffset = 0
	case RegUploadData:
		m.processInlineData(value)
	case RegSyncInfo:
		m.processor.SignalSyncPoint(value & 0xFFF)
	case RegCBPos:
		// Cursor moved explicitly; nothing else to do.
	case RegQueryGet:
		m.processQueryGet(value)
	case RegCounterReset:
		// Counter resets affect only host query objects; dirty tracking
		// on the register is enough for the query cache to observe it.
	case RegDrawEnd:
		m.QueuedCommands++
		m.processor.Draw(m.Regs.InstanceNext() || m.Regs.InstanceCont())
	case RegClearBuffers:
		m.QueuedCommands++
		m.processor.Clear(DecodeClearBuffers(value))
	default:
		switch {
		case method >= RegCBDataBase && method < RegCBDataBase+RegCBDataCount:
			m.processCBData(value)
		case m.isCBBindMethod(method):
			m.processCBBind(int(method-RegCBBindBase) / RegCBBindStride)
		}
	}
}

// Read returns a register value; macros and the query path use it.
func (m *Maxwell3D) Read(method uint32) uint32 {
	if method >= RegCount {
		m.warnUnknownMethod(method)
		return 0
	}
	return m.Regs.Image[method]
}

// MacroRead implements MacroHost.
func (m *Maxwell3D) MacroRead(reg uint32) uint32 { return m.Read(reg) }

// MacroSend implements MacroHost.
func (m *Maxwell3D) MacroSend(method, value uint32) {
	m.CallMethod(method, value, true)
}

// SetTickSource overrides the timestamp source used by query releases.
func (m *Maxwell3D) SetTickSource(f func() uint64) { m.ticks = f }

func (m *Maxwell3D) applyShadow(method, value uint32) uint32 {
	switch m.shadowMode {
	case ShadowTrack:
		m.Regs.Shadow[method] = value
	case ShadowTrackFiltered:
		if !isShadowFiltered(method) {
			m.Regs.Shadow[method] = value
		}
	case ShadowReplay:
		return m.Regs.Shadow[method]
	}
	return value
}

// isShadowFiltered excludes transient data-path registers from shadow
// tracking: replaying them would re-trigger their side effects.
func isShadowFiltered(method uint32) bool {
	switch method {
	case RegMacroUploadAddress, RegMacroData, RegMacroBindEntry,
		RegUploadExec, RegUploadData:
		return true
	}
	return method >= RegCBDataBase && method < RegCBDataBase+RegCBDataCount
}

func (m *Maxwell3D) callMacroMethod(method, value uint32, lastCall bool) {
	if m.executingMacro == 0 {
		if method%2 != 0 {
			m.log.Warn("engine: macro call started on a parameter method",
				"method", method)
		}
		m.executingMacro = method
		m.macroParams = m.macroParams[:0]
	}
	m.macroParams = append(m.macroParams, value)
	if !lastCall {
		return
	}
	entry := (m.executingMacro - MacroMethodBase) >> 1
	offset := m.macroPositions[entry%uint32(len(m.macroPositions))]
	params := make([]uint32, len(m.macroParams))
	copy(params, m.macroParams)
	m.executingMacro = 0
	m.macroParams = m.macroParams[:0]
	if err := m.macro.Execute(offset, params); err != nil {
		// A broken macro aborts only itself; the stream continues.
		m.log.Warn("engine: macro aborted", "entry", entry, "err", err)
	}
}

func (m *Maxwell3D) isCBBindMethod(method uint32) bool {
	if method < RegCBBindBase {
		return false
	}
	off := method - RegCBBindBase
	return off%RegCBBindStride == 0 && off/RegCBBindStride < NumUploadStages
}

// processCBData uploads one word at the constant-buffer cursor and
// advances it.
func (m *Maxwell3D) processCBData(value uint32) {
	addr := m.Regs.Addr64(RegCBAddressHigh) + mem.GpuAddr(m.Regs.Image[RegCBPos])
	m.memory.Write32(addr, value)
	m.Regs.Image[RegCBPos] += 4
	m.Dirty.Mark(FlagConstBuffers)
}

// processCBDataBurst uploads contiguous words starting at the cursor.
func (m *Maxwell3D) processCBDataBurst(values []uint32) {
	addr := m.Regs.Addr64(RegCBAddressHigh) + mem.GpuAddr(m.Regs.Image[RegCBPos])
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		buf[4*i] = byte(v)
		buf[4*i+1] = byte(v >> 8)
		buf[4*i+2] = byte(v >> 16)
		buf[4*i+3] = byte(v >> 24)
	}
	m.memory.WriteBlock(addr, buf)
	m.Regs.Image[RegCBPos] += uint32(4 * len(values))
	m.Dirty.Mark(FlagConstBuffers)
}

// processCBBind latches the current CB address/size into the stage's slot.
func (m *Maxwell3D) processCBBind(stage int) {
	bind := m.Regs.Image[RegCBBindBase+stage*RegCBBindStride]
	valid := bind&1 != 0
	index := (bind >> 4) & 0x1F
	if index >= NumStageCbufs {
		m.log.Warn("engine: const buffer bind index out of range",
			"stage", stage, "index", index)
		return
	}
	m.BoundConstBuffers[stage][index] = ConstBuffer{
		Address: m.Regs.Addr64(RegCBAddressHigh),
		Size:    m.Regs.Image[RegCBSize],
		Enabled: valid,
	}
	m.Dirty.Mark(FlagConstBuffers)
}

// processInlineData writes one uploaded word to the destination cursor.
func (m *Maxwell3D) processInlineData(value uint32) {
	dst := m.Regs.Addr64(RegUploadDstAddressHigh) + mem.GpuAddr(m.uploadOffset*4)
	m.memory.Write32(dst, value)
	m.uploadOffset++
}

// processQueryGet performs the operation encoded in a QUERY_GET write.
func (m *Maxwell3D) processQueryGet(value uint32) {
	q := DecodeQueryGet(value)
	addr := m.Regs.QueryAddress()
	payload := m.Regs.QuerySequence()

	switch q.Operation {
	case QueryOpRelease:
		m.WriteQueryStamp(addr, q, uint64(payload))
	case QueryOpAcquire:
		// Acquire blocks the macro FIFO on a semaphore in real hardware;
		// command processing here is already synchronous.
	case QueryOpCounter:
		if q.Select == QuerySelectZero {
			m.WriteQueryStamp(addr, q, 0)
			return
		}
		m.processor.QueryCounter(addr, q, payload)
	case QueryOpTrap:
		m.processor.SignalSyncPoint(payload & 0xFFF)
	}
}

// WriteQueryStamp emits the 4-byte short stamp or the 16-byte
// value+timestamp long form. The query cache calls back into it once a
// deferred counter result lands.
func (m *Maxwell3D) WriteQueryStamp(addr mem.GpuAddr, q QueryGet, value uint64) {
	if q.ShortQuery {
		m.memory.Write32(addr, uint32(value))
		return
	}
	m.memory.Write64(addr, value)
	m.memory.Write64(addr+8, m.ticks())
}

func (m *Maxwell3D) warnUnknownMethod(method uint32) {
	m.warnedMu.Lock()
	_, seen := m.warned[method]
	if !seen {
		m.warned[method] = struct{}{}
	}
	m.warnedMu.Unlock()
	if !seen {
		m.log.Warn("engine: unknown method", "method", method)
	}
}
