package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kentjhall/mizu-sub009/shader/ir"
)

// Transferable records are portable across drivers and GPU models; the
// precompiled file holds driver binaries and dies on any mismatch.
const (
	transferableMagic   = 0x54435447 // "GTCT"
	transferableVersion = 5

	precompiledMagic = 0x50435447 // "GTCP"
)

// TransferableRecord is one guest program image worth recompiling on
// the next cold start.
type TransferableRecord struct {
	Hash  uint64
	Stage ir.Stage
	Code  []uint64
}

// PrecompiledRecord is one driver-format program binary.
type PrecompiledRecord struct {
	Hash   uint64
	Stage  ir.Stage
	Format uint32
	Binary []byte
}

// DiskCache persists shader builds under <root>/<title_id>/.
type DiskCache struct {
	root    string
	titleID uint64
	log     *slog.Logger

	// driverTag invalidates precompiled binaries when the driver
	// changes. Typically GL_VENDOR + GL_VERSION.
	driverTag string

	mu   sync.Mutex
	seen map[uint64]struct{}
}

// NewDiskCache opens (creating if needed) the cache directory for one
// title. logger may be nil.
func NewDiskCache(root string, titleID uint64, driverTag string, logger *slog.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dir := filepath.Join(root, fmt.Sprintf("%016x", titleID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shader disk cache: %w", err)
	}
	return &DiskCache{
		root:      root,
		titleID:   titleID,
		log:       logger,
		driverTag: driverTag,
		seen:      map[uint64]struct{}{},
	}, nil
}

func (d *DiskCache) dir() string {
	return filepath.Join(d.root, fmt.Sprintf("%016x", d.titleID))
}

func (d *DiskCache) transferablePath() string { return filepath.Join(d.dir(), "opengl.bin") }
func (d *DiskCache) precompiledPath() string  { return filepath.Join(d.dir(), "opengl_precompiled.bin") }

// LoadTransferable reads all records, tolerating a missing file. A
// magic or version mismatch discards the whole file; its contents would
// have been produced by an incompatible build.
func (d *DiskCache) LoadTransferable() ([]TransferableRecord, error) {
	f, err := os.Open(d.transferablePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header struct {
		Magic   uint32
		Version uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != transferableMagic || header.Version != transferableVersion {
		d.log.Info("transferable cache version mismatch, discarding",
			"have", header.Version, "want", transferableVersion)
		f.Close()
		os.Remove(d.transferablePath())
		d.InvalidatePrecompiled()
		return nil, nil
	}

	var records []TransferableRecord
	for {
		var rec struct {
			Hash    uint64
			Stage   uint8
			CodeLen uint32
		}
		if err := binary.Read(f, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return records, err
		}
		code := make([]uint64, rec.CodeLen)
		if err := binary.Read(f, binary.LittleEndian, code); err != nil {
			return records, err
		}
		records = append(records, TransferableRecord{
			Hash:  rec.Hash,
			Stage: ir.Stage(rec.Stage),
			Code:  code,
		})
		d.mu.Lock()
		d.seen[rec.Hash] = struct{}{}
		d.mu.Unlock()
	}
	return records, nil
}

// AppendTransferable adds one record, skipping hashes already stored.
func (d *DiskCache) AppendTransferable(rec TransferableRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[rec.Hash]; ok {
		return nil
	}

	fresh := false
	if _, err := os.Stat(d.transferablePath()); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(d.transferablePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if fresh {
		header := struct {
			Magic   uint32
			Version uint32
		}{transferableMagic, transferableVersion}
		if err := binary.Write(f, binary.LittleEndian, header); err != nil {
			return err
		}
	}
	head := struct {
		Hash    uint64
		Stage   uint8
		CodeLen uint32
	}{rec.Hash, uint8(rec.Stage), uint32(len(rec.Code))}
	if err := binary.Write(f, binary.LittleEndian, head); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, rec.Code); err != nil {
		return err
	}
	d.seen[rec.Hash] = struct{}{}
	return nil
}

// LoadPrecompiled reads driver binaries. A stale driver tag returns
// nothing and removes the file; the transferable records still allow a
// full rebuild.
func (d *DiskCache) LoadPrecompiled() ([]PrecompiledRecord, error) {
	f, err := os.Open(d.precompiledPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header struct {
		Magic  uint32
		TagLen uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	tag := make([]byte, header.TagLen)
	if header.Magic == precompiledMagic {
		if _, err := io.ReadFull(f, tag); err != nil {
			return nil, err
		}
	}
	if header.Magic != precompiledMagic || string(tag) != d.driverTag {
		d.log.Info("precompiled cache stale, discarding")
		f.Close()
		d.InvalidatePrecompiled()
		return nil, nil
	}

	var records []PrecompiledRecord
	for {
		var rec struct {
			Hash   uint64
			Stage  uint8
			Format uint32
			BinLen uint32
		}
		if err := binary.Read(f, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return records, err
		}
		bin := make([]byte, rec.BinLen)
		if _, err := io.ReadFull(f, bin); err != nil {
			return records, err
		}
		records = append(records, PrecompiledRecord{
			Hash:   rec.Hash,
			Stage:  ir.Stage(rec.Stage),
			Format: rec.Format,
			Binary: bin,
		})
	}
	return records, nil
}

// AppendPrecompiled adds one driver binary.
func (d *DiskCache) AppendPrecompiled(rec PrecompiledRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := false
	if _, err := os.Stat(d.precompiledPath()); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(d.precompiledPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if fresh {
		header := struct {
			Magic  uint32
			TagLen uint32
		}{precompiledMagic, uint32(len(d.driverTag))}
		if err := binary.Write(f, binary.LittleEndian, header); err != nil {
			return err
		}
		if _, err := f.Write([]byte(d.driverTag)); err != nil {
			return err
		}
	}
	head := struct {
		Hash   uint64
		Stage  uint8
		Format uint32
		BinLen uint32
	}{rec.Hash, uint8(rec.Stage), rec.Format, uint32(len(rec.Binary))}
	if err := binary.Write(f, binary.LittleEndian, head); err != nil {
		return err
	}
	_, err = f.Write(rec.Binary)
	return err
}

// InvalidatePrecompiled removes the driver binary file only. Used when
// the driver rejects a stored binary.
func (d *DiskCache) InvalidatePrecompiled() {
	if err := os.Remove(d.precompiledPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.log.Warn("precompiled cache remove failed", "err", err)
	}
}
