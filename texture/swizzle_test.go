package texture

import (
	"bytes"
	"testing"
)

func TestGobOffsetCoversGob(t *testing.T) {
	// Every (x, y) inside one GOB must map to a distinct offset in
	// [0, 512).
	seen := map[uint32]bool{}
	for y := uint32(0); y < gobHeight; y++ {
		for x := uint32(0); x < gobWidthBytes; x++ {
			o := gobOffset(x, y)
			if o >= gobSize {
				t.Fatalf("offset %d out of range at (%d,%d)", o, x, y)
			}
			if seen[o] {
				t.Fatalf("offset %d duplicated at (%d,%d)", o, x, y)
			}
			seen[o] = true
		}
	}
}

func TestSwizzleRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name            string
		widthBytes      uint32
		height          uint32
		blockHeightLog2 uint32
	}{
		{"one gob", 64, 8, 0},
		{"wide", 256, 8, 0},
		{"tall block", 64, 64, 4},
		{"unaligned", 100, 30, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			linear := make([]byte, tc.widthBytes*tc.height)
			for i := range linear {
				linear[i] = byte(i * 7)
			}
			tiled := make([]byte, BlockLinearSize(tc.widthBytes, tc.height, tc.blockHeightLog2))
			SwizzleLevel(tiled, linear, tc.widthBytes, tc.height, tc.blockHeightLog2)

			back := make([]byte, len(linear))
			UnswizzleLevel(back, tiled, tc.widthBytes, tc.height, tc.blockHeightLog2)
			if !bytes.Equal(linear, back) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestAdjustBlockHeightShrinksForSmallMips(t *testing.T) {
	if got := adjustBlockHeight(8, 4); got != 1 {
		t.Errorf("8-row level: block height = %d, want 1", got)
	}
	if got := adjustBlockHeight(1024, 4); got != 16 {
		t.Errorf("1024-row level: block height = %d, want 16", got)
	}
}
