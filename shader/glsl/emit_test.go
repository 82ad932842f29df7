package glsl

import (
	"strings"
	"testing"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

func exitBlock(insts ...*ir.Inst) []*ir.Block {
	return []*ir.Block{{Insts: insts, Term: ir.Branch{Kind: ir.BranchExit}}}
}

func TestEmitVertexShader(t *testing.T) {
	p := &ir.Program{
		Blocks: exitBlock(
			&ir.Inst{Op: ir.OpLoadAttribute, Dest: ir.Gpr(1), Args: []ir.Ref{ir.Attr(0x80)}},
			&ir.Inst{Op: ir.OpFAdd, Dest: ir.Gpr(2), Args: []ir.Ref{ir.Gpr(1), ir.Cbuf(3, 20)}},
			&ir.Inst{Op: ir.OpStoreAttribute, Args: []ir.Ref{ir.Attr(0x80), ir.Gpr(2)}},
		),
		Info: ir.Info{
			Stage:            ir.StageVertex,
			InputAttributes:  1 << 0,
			OutputAttributes: 1 << 0,
			ConstBuffersUsed: 1 << 3,
		},
	}
	src, err := Emit(p, Config{Precise: true})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	for _, want := range []string{
		"#version 430 core",
		"layout (std140, binding = 3) uniform cbuf_block_3",
		"layout (location = 0) in vec4 in_attr0;",
		"layout (location = 0) out vec4 out_attr0;",
		"out gl_PerVertex { vec4 gl_Position; };",
		"precise float r2 = 0.0;",
		"r2 = r1 + utof(cbuf3[1][1]);",
		"out_attr0.x = r2;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in:\n%s", want, src)
		}
	}
	if strings.Contains(src, "switch (jmp_to)") {
		t.Error("straight-line program emitted through the dispatch loop")
	}
}

func TestEmitFragmentColorPacking(t *testing.T) {
	var insts []*ir.Inst
	for r := uint16(0); r < 10; r++ {
		insts = append(insts, &ir.Inst{Op: ir.OpCopy, Dest: ir.Gpr(r), Args: []ir.Ref{ir.ImmF(0)}})
	}
	p := &ir.Program{
		Blocks: exitBlock(insts...),
		Info:   ir.Info{Stage: ir.StageFragment, UsesDepthWrite: true},
	}
	src, err := Emit(p, Config{ColorOutputs: 2})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, want := range []string{
		"layout (location = 0) out vec4 frag_color0;",
		"layout (location = 1) out vec4 frag_color1;",
		"frag_color0 = vec4(r0, r1, r2, r3);",
		"frag_color1 = vec4(r4, r5, r6, r7);",
		"gl_FragDepth = r9;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("missing %q in:\n%s", want, src)
		}
	}
}

func TestEmitFragmentDepthRegister(t *testing.T) {
	// One render target packs colors into r0..r3; depth skips a slot
	// and reads r5.
	var insts []*ir.Inst
	for r := uint16(0); r < 6; r++ {
		insts = append(insts, &ir.Inst{Op: ir.OpCopy, Dest: ir.Gpr(r), Args: []ir.Ref{ir.ImmF(0)}})
	}
	p := &ir.Program{
		Blocks: exitBlock(insts...),
		Info:   ir.Info{Stage: ir.StageFragment, UsesDepthWrite: true},
	}
	src, err := Emit(p, Config{ColorOutputs: 1})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(src, "gl_FragDepth = r5;") {
		t.Errorf("depth must read r5 with one color target:\n%s", src)
	}
	if strings.Contains(src, "gl_FragDepth = r4;") {
		t.Errorf("depth read the register adjacent to the color block:\n%s", src)
	}
}

func TestEmitPredicatedAssignment(t *testing.T) {
	p := &ir.Program{
		Blocks: exitBlock(&ir.Inst{
			Op:       ir.OpFAdd,
			Dest:     ir.Gpr(2),
			Args:     []ir.Ref{ir.Gpr(1), ir.Gpr(1)},
			ExecPred: ir.Pred(3, true),
		}),
		Info: ir.Info{Stage: ir.StageVertex},
	}
	src, err := Emit(p, Config{})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(src, "if (!p3) { r2 = r1 + r1; }") {
		t.Errorf("predicated assignment missing in:\n%s", src)
	}
}

func TestEmitXfbQualifiers(t *testing.T) {
	p := &ir.Program{
		Blocks: exitBlock(&ir.Inst{Op: ir.OpStoreAttribute, Args: []ir.Ref{ir.Attr(0x80), ir.Gpr(0)}}),
		Info:   ir.Info{Stage: ir.StageVertex, OutputAttributes: 1 << 0},
	}
	src, err := Emit(p, Config{Xfb: []XfbVarying{{Location: 0, Buffer: 0, Offset: 0, Stride: 16}}})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := "layout (location = 0, xfb_buffer = 0, xfb_offset = 0, xfb_stride = 16) out vec4 out_attr0;"
	if !strings.Contains(src, want) {
		t.Errorf("missing %q in:\n%s", want, src)
	}
}

func TestEmitComponentIndexingWorkaround(t *testing.T) {
	p := &ir.Program{
		Blocks: exitBlock(&ir.Inst{
			Op:   ir.OpLoadConstant,
			Dest: ir.Gpr(0),
			Args: []ir.Ref{ir.ImmU(1), ir.ImmU(0), ir.Gpr(4)},
		}),
		Info: ir.Info{Stage: ir.StageVertex, ConstBuffersUsed: 1 << 1},
	}
	src, err := Emit(p, Config{ComponentIndexingWorkaround: true})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if strings.Contains(src, ") & 3u]") {
		t.Errorf("dynamic component index not lowered:\n%s", src)
	}
	if !strings.Contains(src, "? ") {
		t.Errorf("if-ladder missing:\n%s", src)
	}
}
