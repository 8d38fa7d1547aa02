// Package mfs opens a volume set and loads its volume header,
// detecting byte order and 32- vs 64-bit variant along the way, and
// exposes the sticky error channel the rest of the stack reports
// through.
//
// Grounded on original_source/lib/mfs.c (mfs_init/mfs_reinit's
// load-header-then-load-zonemaps sequencing) and
// original_source/lib/volume.c's mfs_load_volume_header (primary
// checksum check, fallback to the backup copy at the last sector).
package mfs

import (
	"fmt"

	"github.com/thessio/mfstools-go/internal/crc"
	"github.com/thessio/mfstools-go/internal/endian"
	"github.com/thessio/mfstools-go/internal/errors"
	"github.com/thessio/mfstools-go/internal/types"
	"github.com/thessio/mfstools-go/internal/volumeset"
)

// AccessMode selects whether Open/Reinit requests read-only or
// read-write access, mirroring the O_RDONLY/O_RDWR restriction in
// mfs_init.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

// Handle is an open MFS volume set: the flattened sector space plus
// its parsed, validated volume header.
type Handle struct {
	VolumeSet *volumeset.VolumeSet
	header    types.VolumeHeader
	magicFirst bool
	order      endian.Order
	mode       AccessMode

	lastErr *errors.Error
}

// Open loads the volume header off vs (already populated with its
// first member) and widens it into a Handle. vs must have at least
// one member.
func Open(vs *volumeset.VolumeSet, mode AccessMode) (*Handle, error) {
	h := &Handle{VolumeSet: vs, mode: mode}
	if err := h.loadVolumeHeader(); err != nil {
		return nil, h.setErr(err)
	}
	return h, nil
}

// Reinit closes nothing itself (VolumeSet ownership stays with the
// caller) but re-reads the volume header under a new access mode,
// mirroring mfs_reinit's cleanup-then-init shape minus the process-wide
// global state the C version relied on.
func (h *Handle) Reinit(mode AccessMode) error {
	h.mode = mode
	h.lastErr = nil
	return h.setErr(h.loadVolumeHeader())
}

// detectOrderAndWidth inspects sector 0 of the first member to decide
// the MFS word order and v32-vs-v64 variant, per mfs.h's "state then
// magic" / "magic then state" ordering note and the MFS_MAGIC_64BIT
// high bit.
func detectOrderAndWidth(sector0 []byte) (order endian.Order, wide bool, magicFirst bool, ok bool) {
	tryOrder := func(o endian.Order) (bool, bool, bool) {
		buf := append([]byte(nil), sector0...)
		if o == endian.LittleEndian {
			endian.SwapBytes(buf)
		}
		w0 := beUint32(buf[0:4])
		w1 := beUint32(buf[4:8])
		if w1 == types.MfsMagicOK && w0 == 0 {
			return true, false, false // state-then-magic, magic at offset 4
		}
		if w0 == types.MfsMagicOK && w1 == 0 {
			return true, false, true // magic-then-state, magic at offset 0
		}
		if w1&^types.Mfs64BitBit == types.MfsMagicOK && w0 == 0 {
			return true, true, false
		}
		if w0&^types.Mfs64BitBit == types.MfsMagicOK && w1 == 0 {
			return true, true, true
		}
		return false, false, false
	}

	if okB, wideB, mf := tryOrder(endian.BigEndian); okB {
		return endian.BigEndian, wideB, mf, true
	}
	if okL, wideL, mf := tryOrder(endian.LittleEndian); okL {
		return endian.LittleEndian, wideL, mf, true
	}
	return endian.BigEndian, false, false, false
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (h *Handle) loadVolumeHeader() error {
	raw, err := h.VolumeSet.ReadSectors(0, 1)
	if err != nil {
		return errors.E(errors.Io, "mfs.loadVolumeHeader", err)
	}

	order, wide, magicFirst, ok := detectOrderAndWidth(raw)
	if !ok {
		return errors.E(errors.FormatMismatch, "mfs.loadVolumeHeader", nil, "no MFS magic found")
	}
	h.order = order
	h.magicFirst = magicFirst

	hdr := parseHeader(raw, wide, magicFirst)
	if checkHeaderCrc(hdr, wide, magicFirst) {
		h.header = hdr
		return nil
	}

	// Primary corrupt: fall back to the backup copy at the last
	// sector of the first volume, per mfs_load_volume_header.
	backupSector := h.VolumeSet.VolumeSize(0) - 1
	raw2, err := h.VolumeSet.ReadSectors(backupSector, 1)
	if err != nil {
		return errors.E(errors.Io, "mfs.loadVolumeHeader", err, "backup header read")
	}
	hdr2 := parseHeader(raw2, wide, magicFirst)
	if !checkHeaderCrc(hdr2, wide, magicFirst) {
		return errors.E(errors.Corrupt, "mfs.loadVolumeHeader", nil, "primary and backup volume headers both corrupt")
	}
	h.header = hdr2
	return nil
}

func parseHeader(raw []byte, wide, magicFirst bool) types.VolumeHeader {
	if wide {
		v := types.ParseVolumeHeaderV64(raw, magicFirst)
		return types.VolumeHeader{Wide: true, V64: &v}
	}
	v := types.ParseVolumeHeaderV32(raw, magicFirst)
	return types.VolumeHeader{Wide: false, V32: &v}
}

func checkHeaderCrc(hdr types.VolumeHeader, wide, magicFirst bool) bool {
	buf := hdr.Bytes(magicFirst)
	size := types.VolumeHeaderV32Size
	if wide {
		size = types.VolumeHeaderV64Size
	}
	const off = 8 // Checksum field offset in both variants
	return crc.Check(buf[:size], off)
}

// VolumeHeader returns the currently loaded, validated volume header.
func (h *Handle) VolumeHeader() types.VolumeHeader { return h.header }

// Is64Bit reports whether this volume uses the 64-bit header/extent
// layout.
func (h *Handle) Is64Bit() bool { return h.header.Wide }

// Order returns the volume's on-disk word order.
func (h *Handle) Order() endian.Order { return h.order }

// WriteVolumeHeader writes both copies of the volume header (sector 0
// and the last sector of the first volume), recomputing the checksum
// first.
func (h *Handle) WriteVolumeHeader(hdr types.VolumeHeader) error {
	if h.mode != ReadWrite {
		return h.setErr(errors.E(errors.Io, "mfs.WriteVolumeHeader", nil, "handle is read-only"))
	}
	buf := hdr.Bytes(h.magicFirst)
	size := types.VolumeHeaderV32Size
	if hdr.Wide {
		size = types.VolumeHeaderV64Size
	}
	crc.Update(buf[:size], 8)

	if err := h.VolumeSet.WriteSectors(0, buf); err != nil {
		return h.setErr(errors.E(errors.Io, "mfs.WriteVolumeHeader", err, "primary"))
	}
	backupSector := h.VolumeSet.VolumeSize(0) - 1
	if err := h.VolumeSet.WriteSectors(backupSector, buf); err != nil {
		return h.setErr(errors.E(errors.Io, "mfs.WriteVolumeHeader", err, "backup"))
	}
	h.header = parseHeader(buf, hdr.Wide, h.magicFirst)
	return nil
}

// InodeCount approximates the volume's inode count as half the
// Inode-zone's total sector count, per spec.md §4.3. Once zone maps
// are loaded, prefer (*zonemap.Map).Totals(types.ZoneTypeInode).Size/2,
// which reflects the real inode zone rather than this estimate.
func (h *Handle) InodeCount(inodeZoneSectors uint64) uint64 {
	return inodeZoneSectors / 2
}

// --- sticky error channel, mirroring mfs_handle's perror/strerror/has_error/clearerror ---

func (h *Handle) setErr(err error) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if as, ok := err.(*errors.Error); ok {
		e = as
	} else {
		e = errors.E(errors.Other, "mfs", err)
	}
	h.lastErr = e
	return e
}

// HasError reports whether an error is pending on the handle.
func (h *Handle) HasError() bool { return h.lastErr != nil }

// Strerror returns the pending error's message, or "" if none.
func (h *Handle) Strerror() string {
	if h.lastErr == nil {
		return ""
	}
	return h.lastErr.Error()
}

// Perror returns the pending error's message prefixed with prefix (or
// prefix alone when no error is pending), mirroring the C tool's
// perror() convention.
func (h *Handle) Perror(prefix string) string {
	if h.lastErr == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, h.lastErr.Error())
}

// ClearError drops the pending error.
func (h *Handle) ClearError() { h.lastErr = nil }
