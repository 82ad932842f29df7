package shader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

func TestDiskCacheTransferableRoundTrip(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskCache(root, 0x0100_0000_0000_CAFE, "test-driver", nil)
	require.NoError(t, err)

	recs := []TransferableRecord{
		{Hash: 0x1111, Stage: ir.StageVertex, Code: []uint64{1, 2, 3}},
		{Hash: 0x2222, Stage: ir.StageFragment, Code: []uint64{4, 5}},
	}
	for _, rec := range recs {
		require.NoError(t, d.AppendTransferable(rec))
	}
	// Duplicate hashes are skipped.
	require.NoError(t, d.AppendTransferable(recs[0]))

	d2, err := NewDiskCache(root, 0x0100_0000_0000_CAFE, "test-driver", nil)
	require.NoError(t, err)
	got, err := d2.LoadTransferable()
	require.NoError(t, err)
	require.Equal(t, recs, got)

	// The file lands under the zero-padded title id.
	_, err = os.Stat(filepath.Join(root, "010000000000cafe", "opengl.bin"))
	require.NoError(t, err)
}

func TestDiskCachePrecompiledRoundTrip(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskCache(root, 1, "NVIDIA 535.0", nil)
	require.NoError(t, err)

	rec := PrecompiledRecord{
		Hash:   0xABCD,
		Stage:  ir.StageVertex,
		Format: 0x8740,
		Binary: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	require.NoError(t, d.AppendPrecompiled(rec))

	got, err := d.LoadPrecompiled()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec, got[0])
}

func TestDiskCachePrecompiledDriverMismatch(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskCache(root, 1, "NVIDIA 535.0", nil)
	require.NoError(t, err)
	require.NoError(t, d.AppendPrecompiled(PrecompiledRecord{Hash: 1, Binary: []byte{1}}))
	require.NoError(t, d.AppendTransferable(TransferableRecord{Hash: 1, Code: []uint64{1}}))

	// A driver change invalidates precompiled binaries only.
	d2, err := NewDiskCache(root, 1, "NVIDIA 545.0", nil)
	require.NoError(t, err)
	pre, err := d2.LoadPrecompiled()
	require.NoError(t, err)
	require.Empty(t, pre)

	trans, err := d2.LoadTransferable()
	require.NoError(t, err)
	require.Len(t, trans, 1)

	_, err = os.Stat(d2.precompiledPath())
	require.True(t, os.IsNotExist(err))
}

func TestDiskCacheTransferableVersionMismatch(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskCache(root, 1, "drv", nil)
	require.NoError(t, err)
	require.NoError(t, d.AppendTransferable(TransferableRecord{Hash: 1, Code: []uint64{1}}))
	require.NoError(t, d.AppendPrecompiled(PrecompiledRecord{Hash: 1, Binary: []byte{1}}))

	// Corrupt the version field.
	path := d.transferablePath()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[4] = transferableVersion + 1
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	d2, err := NewDiskCache(root, 1, "drv", nil)
	require.NoError(t, err)
	recs, err := d2.LoadTransferable()
	require.NoError(t, err)
	require.Empty(t, recs)

	// Both files are gone: stale transferable data drags the
	// precompiled binaries with it.
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(d2.precompiledPath())
	require.True(t, os.IsNotExist(err))
}
