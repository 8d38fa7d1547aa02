// Package blockdev defines the sector-addressed device abstraction
// every layer above it (APM, volume sets, MFS) reads and writes
// through. Grounded on the teacher's BlockDevice interface
// (apfs/pkg/container, ReadBlock/WriteBlock/GetBlockSize) generalized
// from fixed-size APFS blocks to 512-byte sectors addressed by a
// uint64 sector number.
package blockdev

import (
	"io"
	"os"

	"github.com/thessio/mfstools-go/internal/types"
)

// Device is anything sector-addressable that backup/restore and the
// MFS layers can read from and, where writable, write to.
type Device interface {
	// ReadSectors reads count sectors starting at sector into a
	// freshly allocated buffer.
	ReadSectors(sector uint64, count uint32) ([]byte, error)
	// WriteSectors writes data (a multiple of types.SectorSize bytes)
	// starting at sector.
	WriteSectors(sector uint64, data []byte) error
	// SectorCount reports the device's total size in sectors.
	SectorCount() uint64
	// Close releases any underlying resources.
	Close() error
}

// FileDevice is a Device backed by an *os.File (a raw disk, partition
// node, or disk image), addressed relative to a fixed byte offset so
// a single open file can serve both a whole-disk device and a single
// partition sliced out of it.
type FileDevice struct {
	f       *os.File
	offset  int64
	sectors uint64
	owned   bool
}

// OpenFile opens path for the given flags and wraps it as a Device
// covering the whole file.
func OpenFile(path string, writable bool) (*FileDevice, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{
		f:       f,
		sectors: uint64(st.Size()) / types.SectorSize,
		owned:   true,
	}, nil
}

// NewFileDevice wraps an already-open file, covering the byte range
// [offset, offset+sectors*SectorSize). The caller retains ownership of
// f and must close it itself; Close on the returned Device is a no-op.
func NewFileDevice(f *os.File, offset int64, sectors uint64) *FileDevice {
	return &FileDevice{f: f, offset: offset, sectors: sectors}
}

func (d *FileDevice) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	buf := make([]byte, uint64(count)*types.SectorSize)
	off := d.offset + int64(sector)*types.SectorSize
	if _, err := io.ReadFull(io.NewSectionReader(d.f, off, int64(len(buf))), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *FileDevice) WriteSectors(sector uint64, data []byte) error {
	off := d.offset + int64(sector)*types.SectorSize
	_, err := d.f.WriteAt(data, off)
	return err
}

func (d *FileDevice) SectorCount() uint64 { return d.sectors }

func (d *FileDevice) Close() error {
	if d.owned {
		return d.f.Close()
	}
	return nil
}

// MemDevice is an in-memory Device, the production/test counterpart
// of the teacher's MockBlockDevice — a sparse sector map rather than a
// fully allocated buffer, matching how internal/volumeset's memwrite
// overlay is shaped (see SPEC_FULL.md §4.2).
type MemDevice struct {
	Sectors map[uint64][]byte
	Total   uint64
}

// NewMemDevice returns an empty in-memory device of the given sector
// count.
func NewMemDevice(totalSectors uint64) *MemDevice {
	return &MemDevice{Sectors: make(map[uint64][]byte), Total: totalSectors}
}

func (d *MemDevice) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	buf := make([]byte, uint64(count)*types.SectorSize)
	for i := uint32(0); i < count; i++ {
		if s, ok := d.Sectors[sector+uint64(i)]; ok {
			copy(buf[uint64(i)*types.SectorSize:], s)
		}
	}
	return buf, nil
}

func (d *MemDevice) WriteSectors(sector uint64, data []byte) error {
	n := uint32(len(data) / types.SectorSize)
	for i := uint32(0); i < n; i++ {
		sec := make([]byte, types.SectorSize)
		copy(sec, data[uint64(i)*types.SectorSize:uint64(i+1)*types.SectorSize])
		d.Sectors[sector+uint64(i)] = sec
	}
	return nil
}

func (d *MemDevice) SectorCount() uint64 { return d.Total }
func (d *MemDevice) Close() error        { return nil }
