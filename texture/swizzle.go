package texture

// Block-linear layout: the image is tiled into GOBs of 64 bytes by 8
// rows, stacked vertically into blocks of 1<<blockHeightLog2 GOBs.
// Within a GOB, bytes interleave in a fixed pattern that keeps 2D
// neighborhoods close in memory.
const (
	gobWidthBytes = 64
	gobHeight     = 8
	gobSize       = gobWidthBytes * gobHeight
)

// gobOffset returns the byte offset of (x, y) inside its GOB, with x in
// bytes.
func gobOffset(x, y uint32) uint32 {
	return ((x % 64) / 32 * 256) +
		((y % 8) / 2 * 64) +
		((x % 32) / 16 * 32) +
		(y % 2 * 16) +
		(x % 16)
}

// blockLinearOffset computes the byte offset of (x, y) in a
// block-linear image. x is in bytes; rowBlocks is the image width in
// whole GOBs; blockHeight is GOBs per block.
func blockLinearOffset(x, y, rowBlocks, blockHeight uint32) uint32 {
	blockY := y / (gobHeight * blockHeight)
	gobInBlockY := (y / gobHeight) % blockHeight
	blockX := x / gobWidthBytes

	block := blockY*rowBlocks + blockX
	return block*gobSize*blockHeight + gobInBlockY*gobSize + gobOffset(x, y)
}

// UnswizzleLevel converts one block-linear mip level into a tightly
// packed linear image. widthBytes is the row length in bytes after
// format block compression is applied; height is in block rows.
func UnswizzleLevel(dst, src []byte, widthBytes, height, blockHeightLog2 uint32) {
	copyLevel(dst, src, widthBytes, height, blockHeightLog2, true)
}

// SwizzleLevel is the inverse transform, used by downloads.
func SwizzleLevel(dst, src []byte, widthBytes, height, blockHeightLog2 uint32) {
	copyLevel(src, dst, widthBytes, height, blockHeightLog2, false)
}

func copyLevel(linear, tiled []byte, widthBytes, height, blockHeightLog2 uint32, toLinear bool) {
	blockHeight := adjustBlockHeight(height, blockHeightLog2)
	rowBlocks := (widthBytes + gobWidthBytes - 1) / gobWidthBytes

	for y := uint32(0); y < height; y++ {
		lineBase := y * widthBytes
		for x := uint32(0); x < widthBytes; x++ {
			t := blockLinearOffset(x, y, rowBlocks, blockHeight)
			l := lineBase + x
			if int(t) >= len(tiled) || int(l) >= len(linear) {
				continue
			}
			if toLinear {
				linear[l] = tiled[t]
			} else {
				tiled[t] = linear[l]
			}
		}
	}
}

// adjustBlockHeight shrinks the block height for small mips the way the
// hardware does, so a 16-row level is not padded to a 16-GOB block.
func adjustBlockHeight(height, blockHeightLog2 uint32) uint32 {
	bh := uint32(1) << blockHeightLog2
	for bh > 1 && (height+gobHeight-1)/gobHeight <= bh/2 {
		bh /= 2
	}
	return bh
}

// BlockLinearSize returns the byte size of a block-linear level,
// including the padding to whole blocks.
func BlockLinearSize(widthBytes, height, blockHeightLog2 uint32) uint32 {
	blockHeight := adjustBlockHeight(height, blockHeightLog2)
	rowBlocks := (widthBytes + gobWidthBytes - 1) / gobWidthBytes
	blockRows := (height + gobHeight*blockHeight - 1) / (gobHeight * blockHeight)
	return rowBlocks * blockRows * gobSize * blockHeight
}
