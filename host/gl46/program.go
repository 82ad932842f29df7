//go:build cgo

package gl46

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/all-core/gl"

	"github.com/kentjhall/mizu-sub009/host"
)

// Assembly program targets (NV_gpu_program5, NV_compute_program5).
const (
	vertexProgramNV   = 0x8620
	tessCtrlProgramNV = 0x891E
	tessEvalProgramNV = 0x891F
	geometryProgramNV = 0x8C26
	fragmentProgramNV = 0x8870
	computeProgramNV  = 0x90FC

	programErrorStringARB = 0x8874
	programFormatASCIIARB = 0x8875
)

func glslStage(stage host.ShaderType) uint32 {
	switch stage {
	case host.ShaderVertex:
		return gl.VERTEX_SHADER
	case host.ShaderTessControl:
		return gl.TESS_CONTROL_SHADER
	case host.ShaderTessEval:
		return gl.TESS_EVALUATION_SHADER
	case host.ShaderGeometry:
		return gl.GEOMETRY_SHADER
	case host.ShaderFragment:
		return gl.FRAGMENT_SHADER
	case host.ShaderCompute:
		return gl.COMPUTE_SHADER
	}
	return 0
}

func glslStageBit(stage host.ShaderType) uint32 {
	switch stage {
	case host.ShaderVertex:
		return gl.VERTEX_SHADER_BIT
	case host.ShaderTessControl:
		return gl.TESS_CONTROL_SHADER_BIT
	case host.ShaderTessEval:
		return gl.TESS_EVALUATION_SHADER_BIT
	case host.ShaderGeometry:
		return gl.GEOMETRY_SHADER_BIT
	case host.ShaderFragment:
		return gl.FRAGMENT_SHADER_BIT
	case host.ShaderCompute:
		return gl.COMPUTE_SHADER_BIT
	}
	return 0
}

func asmTarget(stage host.ShaderType) uint32 {
	switch stage {
	case host.ShaderVertex:
		return vertexProgramNV
	case host.ShaderTessControl:
		return tessCtrlProgramNV
	case host.ShaderTessEval:
		return tessEvalProgramNV
	case host.ShaderGeometry:
		return geometryProgramNV
	case host.ShaderFragment:
		return fragmentProgramNV
	case host.ShaderCompute:
		return computeProgramNV
	}
	return 0
}

type program struct {
	stage host.ShaderType
	lang  host.ProgramLanguage
	// GLSL and SPIR-V use a program object; GLASM uses an assembly
	// program name plus its target enum.
	id     uint32
	target uint32
}

// CompileProgram implements host.Device.
func (d *Device) CompileProgram(stage host.ShaderType, lang host.ProgramLanguage, source []byte) (host.Program, error) {
	switch lang {
	case host.LanguageGLSL:
		return d.compileGLSL(stage, source)
	case host.LanguageGLASM:
		return d.compileGLASM(stage, source)
	case host.LanguageSPIRV:
		return d.compileSPIRV(stage, source)
	}
	return nil, fmt.Errorf("gl46: unknown program language %d", lang)
}

func (d *Device) compileGLSL(stage host.ShaderType, source []byte) (host.Program, error) {
	src, free := gl.Strs(string(source) + "\x00")
	id := gl.CreateShaderProgramv(glslStage(stage), 1, src)
	free()
	if id == 0 {
		return nil, fmt.Errorf("gl46: CreateShaderProgramv failed for %s", stage)
	}
	var linked int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &linked)
	if linked == 0 {
		logText := programInfoLog(id)
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("gl46: %s program link failed: %s", stage, logText)
	}
	return &program{stage: stage, lang: host.LanguageGLSL, id: id}, nil
}

func (d *Device) compileGLASM(stage host.ShaderType, source []byte) (host.Program, error) {
	target := asmTarget(stage)
	var id uint32
	gl.GenProgramsARB(1, &id)
	gl.BindProgramARB(target, id)
	gl.ProgramStringARB(target, programFormatASCIIARB, int32(len(source)), gl.Ptr(source))
	if gl.GetError() != gl.NO_ERROR {
		msg := gl.GoStr(gl.GetString(programErrorStringARB))
		gl.DeleteProgramsARB(1, &id)
		return nil, fmt.Errorf("gl46: %s assembly program rejected: %s", stage, msg)
	}
	return &program{stage: stage, lang: host.LanguageGLASM, id: id, target: target}, nil
}

func (d *Device) compileSPIRV(stage host.ShaderType, binary []byte) (host.Program, error) {
	shader := gl.CreateShader(glslStage(stage))
	gl.ShaderBinary(1, &shader, gl.SHADER_BINARY_FORMAT_SPIR_V, gl.Ptr(binary), int32(len(binary)))
	entry := gl.Str("main\x00")
	gl.SpecializeShader(shader, entry, 0, nil, nil)
	var compiled int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &compiled)
	if compiled == 0 {
		gl.DeleteShader(shader)
		return nil, fmt.Errorf("gl46: %s SPIR-V specialization failed", stage)
	}
	id := gl.CreateProgram()
	gl.ProgramParameteri(id, gl.PROGRAM_SEPARABLE, gl.TRUE)
	gl.AttachShader(id, shader)
	gl.LinkProgram(id)
	gl.DeleteShader(shader)
	var linked int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &linked)
	if linked == 0 {
		logText := programInfoLog(id)
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("gl46: %s SPIR-V link failed: %s", stage, logText)
	}
	return &program{stage: stage, lang: host.LanguageSPIRV, id: id}, nil
}

// LoadProgramBinary implements host.Device.
func (d *Device) LoadProgramBinary(stage host.ShaderType, format uint32, data []byte) (host.Program, error) {
	id := gl.CreateProgram()
	gl.ProgramParameteri(id, gl.PROGRAM_SEPARABLE, gl.TRUE)
	gl.ProgramBinary(id, format, gl.Ptr(data), int32(len(data)))
	var linked int32
	gl.GetProgramiv(id, gl.LINK_STATUS, &linked)
	if linked == 0 {
		gl.DeleteProgram(id)
		return nil, fmt.Errorf("gl46: stale program binary for %s", stage)
	}
	return &program{stage: stage, lang: host.LanguageGLSL, id: id}, nil
}

func programInfoLog(id uint32) string {
	var length int32
	gl.GetProgramiv(id, gl.INFO_LOG_LENGTH, &length)
	if length <= 0 {
		return "(no info log)"
	}
	buf := strings.Repeat("\x00", int(length)+1)
	gl.GetProgramInfoLog(id, length, nil, gl.Str(buf))
	return strings.TrimRight(buf, "\x00")
}

func (p *program) Language() host.ProgramLanguage { return p.lang }
func (p *program) Stage() host.ShaderType         { return p.stage }

// Binary retrieves the driver blob. Assembly programs have no binary
// form; their source is cached instead.
func (p *program) Binary() (uint32, []byte, bool) {
	if p.lang == host.LanguageGLASM {
		return 0, nil, false
	}
	var size int32
	gl.GetProgramiv(p.id, gl.PROGRAM_BINARY_LENGTH, &size)
	if size <= 0 {
		return 0, nil, false
	}
	data := make([]byte, size)
	var format uint32
	var written int32
	gl.GetProgramBinary(p.id, size, &written, &format, gl.Ptr(data))
	return format, data[:written], true
}

func (p *program) Delete() {
	if p.lang == host.LanguageGLASM {
		gl.DeleteProgramsARB(1, &p.id)
	} else {
		gl.DeleteProgram(p.id)
	}
	p.id = 0
}

type pipeline struct {
	id       uint32 // GLSL pipeline object, 0 for assembly pipelines
	assembly []*program
}

// CreatePipeline implements host.Device. A pipeline is homogeneous: all
// GLSL/SPIR-V or all assembly.
func (d *Device) CreatePipeline(programs []host.Program) (host.Pipeline, error) {
	if len(programs) == 0 {
		return nil, fmt.Errorf("gl46: empty pipeline")
	}
	if programs[0].Language() == host.LanguageGLASM {
		p := &pipeline{}
		for _, prog := range programs {
			p.assembly = append(p.assembly, prog.(*program))
		}
		return p, nil
	}
	p := &pipeline{}
	gl.CreateProgramPipelines(1, &p.id)
	for _, prog := range programs {
		gp := prog.(*program)
		gl.UseProgramStages(p.id, glslStageBit(gp.stage), gp.id)
	}
	return p, nil
}

func (p *pipeline) Delete() {
	if p.id != 0 {
		gl.DeleteProgramPipelines(1, &p.id)
		p.id = 0
	}
}

// BindPipeline implements host.Device.
func (d *Device) BindPipeline(pl host.Pipeline) {
	p := pl.(*pipeline)
	if p.id != 0 {
		d.disableAssemblyTargets()
		gl.BindProgramPipeline(p.id)
		return
	}
	gl.BindProgramPipeline(0)
	bound := map[uint32]bool{}
	for _, prog := range p.assembly {
		gl.Enable(prog.target)
		gl.BindProgramARB(prog.target, prog.id)
		bound[prog.target] = true
	}
	for _, target := range []uint32{
		vertexProgramNV, tessCtrlProgramNV, tessEvalProgramNV,
		geometryProgramNV, fragmentProgramNV,
	} {
		if !bound[target] {
			gl.Disable(target)
		}
	}
}

func (d *Device) disableAssemblyTargets() {
	if !d.caps.HasAssemblyShaders {
		return
	}
	for _, target := range []uint32{
		vertexProgramNV, tessCtrlProgramNV, tessEvalProgramNV,
		geometryProgramNV, fragmentProgramNV,
	} {
		gl.Disable(target)
	}
}

// SetStorageDescriptor implements host.Device. The descriptor occupies
// one local parameter: {addr_lo, addr_hi, size, 0}. Only meaningful for
// assembly pipelines on drivers with NV_shader_buffer_load.
func (d *Device) SetStorageDescriptor(stage host.ShaderType, slot uint32, gpuAddress, length uint64) {
	params := [4]uint32{
		uint32(gpuAddress),
		uint32(gpuAddress >> 32),
		uint32(length),
		0,
	}
	gl.ProgramLocalParametersI4uivNV(asmTarget(stage), slot, 1, &params[0])
}

// Dispatch implements host.Device.
func (d *Device) Dispatch(x, y, z uint32) {
	gl.DispatchCompute(x, y, z)
}
