package texture

import (
	"testing"

	"github.com/kentjhall/mizu-sub009/host"
)

func TestTICRoundTrip(t *testing.T) {
	want := TICEntry{
		Format:          TexFmtA8R8G8B8,
		RType:           ComponentUNorm,
		GType:           ComponentUNorm,
		BType:           ComponentUNorm,
		AType:           ComponentUNorm,
		Swizzle:         [4]host.SwizzleSource{host.SwizzleR, host.SwizzleG, host.SwizzleB, host.SwizzleA},
		Address:         0x1_2345_0000,
		Target:          TIC2D,
		BlockHeightLog2: 4,
		Width:           1920,
		Height:          1080,
		Depth:           1,
		MaxLevel:        3,
	}
	got := DecodeTIC(EncodeTIC(want))
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestTICPitchLayout(t *testing.T) {
	e := TICEntry{Format: TexFmtR8, Pitch: true, Width: 64, Height: 64, Depth: 1, Target: TIC2D,
		RType: ComponentUNorm, GType: ComponentUNorm, BType: ComponentUNorm, AType: ComponentUNorm}
	if got := DecodeTIC(EncodeTIC(e)); !got.Pitch {
		t.Error("pitch flag lost in round trip")
	}
}

func TestDecodeTSC(t *testing.T) {
	var w [8]uint32
	// Wrap: U mirror, V clamp-edge, W repeat; depth compare LEqual.
	w[0] = 1 | 2<<3 | 0<<6 | 1<<9 | uint32(host.CompareLEqual)<<10 | 2<<20
	// Linear mag, linear min, trilinear mips.
	w[1] = 2 | 2<<4 | 3<<6
	w[2] = 0x100 | 0xC00<<12 // min LOD 1.0, max LOD 12.0
	e := DecodeTSC(w)

	if e.WrapU != host.WrapMirror || e.WrapV != host.WrapClampEdge || e.WrapW != host.WrapRepeat {
		t.Errorf("wrap = %v/%v/%v", e.WrapU, e.WrapV, e.WrapW)
	}
	if !e.DepthCompare || e.CompareFunc != host.CompareLEqual {
		t.Errorf("compare = %v/%v", e.DepthCompare, e.CompareFunc)
	}
	if !e.MagLinear || !e.MinLinear || !e.MipLinear || !e.MipEnabled {
		t.Errorf("filters = %+v", e)
	}
	if e.Anisotropy != 4 {
		t.Errorf("anisotropy = %v, want 4", e.Anisotropy)
	}
	if e.MinLOD != 1 || e.MaxLOD != 12 {
		t.Errorf("lod = %v..%v", e.MinLOD, e.MaxLOD)
	}
}

func TestTSCSamplerDesc(t *testing.T) {
	e := TSCEntry{MagLinear: true, WrapU: host.WrapClampBorder, BorderColor: [4]float32{1, 0, 0, 1}}
	d := e.SamplerDesc()
	if !d.MagLinear || d.WrapU != host.WrapClampBorder || d.BorderColor[0] != 1 {
		t.Errorf("desc = %+v", d)
	}
}
