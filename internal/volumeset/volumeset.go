// Package volumeset presents a list of underlying block devices
// (TiVo partitions, each possibly on a different physical disk) as a
// single flat sector space, the way the MFS layer above expects.
//
// Grounded on original_source/lib/volume.c (mfs_add_volume,
// mfs_get_volume, mfs_volume_size, mfs_volume_set_size,
// mfs_load_volume_header's partition-list walk) and
// original_source/lib/readwrite.c (tivo_partition_read/write's
// boundary check and data_swab-on-the-way-in/out pattern).
package volumeset

import (
	"strings"

	"github.com/thessio/mfstools-go/internal/blockdev"
	"github.com/thessio/mfstools-go/internal/endian"
	"github.com/thessio/mfstools-go/internal/errors"
	"github.com/thessio/mfstools-go/internal/types"
)

// MfsPartitionRound is the sector-count granularity every member is
// truncated to, per MFS_PARTITION_ROUND in the original header set.
const MfsPartitionRound = 1024

// Member is one partition making up the volume set.
type Member struct {
	Dev      blockdev.Device
	Start    uint64 // first sector of this member within the flat space
	Sectors  uint64
	Order    endian.Order // this member's own on-disk word order
	ReadOnly bool
}

// VolumeSet is the flat concatenation of its members' sector spaces,
// plus an optional in-memory write overlay (EnableOverlay); no caller
// in this repository enables it.
type VolumeSet struct {
	members []*Member
	overlay map[uint64][]byte // sector -> 512 bytes, takes priority over members
}

// New returns an empty volume set.
func New() *VolumeSet {
	return &VolumeSet{}
}

// AddMember appends dev to the set, truncating its sector count down
// to a multiple of MfsPartitionRound as the original tool does.
func (vs *VolumeSet) AddMember(dev blockdev.Device, order endian.Order, readOnly bool) *Member {
	sectors := dev.SectorCount() &^ (MfsPartitionRound - 1)
	start := uint64(0)
	for _, m := range vs.members {
		start = m.Start + m.Sectors
	}
	m := &Member{Dev: dev, Start: start, Sectors: sectors, Order: order, ReadOnly: readOnly}
	vs.members = append(vs.members, m)
	return m
}

// Members returns the set's members in flat-space order.
func (vs *VolumeSet) Members() []*Member {
	out := make([]*Member, len(vs.members))
	copy(out, vs.members)
	return out
}

// TotalSectors is the sum of every member's sector count.
func (vs *VolumeSet) TotalSectors() uint64 {
	var total uint64
	for _, m := range vs.members {
		total += m.Sectors
	}
	return total
}

// VolumeSize returns the sector count of the member starting exactly
// at the given flat-space sector, or 0 if none does.
func (vs *VolumeSet) VolumeSize(sector uint64) uint64 {
	for _, m := range vs.members {
		if m.Start == sector {
			return m.Sectors
		}
	}
	return 0
}

// memberFor locates the member owning a flat-space sector.
func (vs *VolumeSet) memberFor(sector uint64) *Member {
	for _, m := range vs.members {
		if m.Start <= sector && sector < m.Start+m.Sectors {
			return m
		}
	}
	return nil
}

// EnableOverlay turns on the in-memory write overlay: subsequent
// WriteSectors calls land in the overlay instead of the underlying
// member, and ReadSectors prefers the overlay over the member.
func (vs *VolumeSet) EnableOverlay() {
	if vs.overlay == nil {
		vs.overlay = make(map[uint64][]byte)
	}
}

// DiscardOverlay drops every pending overlay write without persisting
// them to the underlying members.
func (vs *VolumeSet) DiscardOverlay() {
	vs.overlay = nil
}

// CommitOverlay writes every pending overlay sector to its underlying
// member and clears the overlay.
func (vs *VolumeSet) CommitOverlay() error {
	if vs.overlay == nil {
		return nil
	}
	for sector, data := range vs.overlay {
		if err := vs.writeThrough(sector, data); err != nil {
			return err
		}
	}
	vs.overlay = nil
	return nil
}

// ReadSectors reads count sectors starting at the flat-space sector
// number, rejecting reads that cross a member boundary exactly as
// tivo_partition_read does.
func (vs *VolumeSet) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	m := vs.memberFor(sector)
	if m == nil {
		return nil, errors.E(errors.Io, "volumeset.ReadSectors", nil, sector)
	}
	if sector+uint64(count) > m.Start+m.Sectors {
		return nil, errors.E(errors.Io, "volumeset.ReadSectors", nil, "read crosses volume boundary", sector)
	}

	out := make([]byte, uint64(count)*types.SectorSize)
	remaining := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		sec := sector + uint64(i)
		if vs.overlay != nil {
			if data, ok := vs.overlay[sec]; ok {
				copy(out[uint64(i)*types.SectorSize:], data)
				continue
			}
		}
		remaining = append(remaining, sec)
	}
	if uint32(len(remaining)) == count { // no overlay coverage, one bulk read
		raw, err := m.Dev.ReadSectors(sector-m.Start, count)
		if err != nil {
			return nil, errors.E(errors.Io, "volumeset.ReadSectors", err, sector)
		}
		if m.Order == endian.LittleEndian {
			endian.SwapBytes(raw)
		}
		return raw, nil
	}
	for _, sec := range remaining {
		raw, err := m.Dev.ReadSectors(sec-m.Start, 1)
		if err != nil {
			return nil, errors.E(errors.Io, "volumeset.ReadSectors", err, sec)
		}
		if m.Order == endian.LittleEndian {
			endian.SwapBytes(raw)
		}
		copy(out[(sec-sector)*types.SectorSize:], raw)
	}
	return out, nil
}

// WriteSectors writes data (a multiple of types.SectorSize bytes)
// starting at the flat-space sector, rejecting writes that cross a
// member boundary. When the overlay is enabled, writes land there
// instead of the underlying member (per spec.md §9's "swap into a
// local copy, never mutate the caller's buffer" decision: a copy is
// always taken before any byte-swap is applied).
func (vs *VolumeSet) WriteSectors(sector uint64, data []byte) error {
	count := uint32(len(data) / types.SectorSize)
	m := vs.memberFor(sector)
	if m == nil {
		return errors.E(errors.Io, "volumeset.WriteSectors", nil, sector)
	}
	if sector+uint64(count) > m.Start+m.Sectors {
		return errors.E(errors.Io, "volumeset.WriteSectors", nil, "write crosses volume boundary", sector)
	}
	if m.ReadOnly {
		return errors.E(errors.Io, "volumeset.WriteSectors", nil, "volume is read-only")
	}

	if vs.overlay != nil {
		for i := uint32(0); i < count; i++ {
			sec := sector + uint64(i)
			cp := make([]byte, types.SectorSize)
			copy(cp, data[uint64(i)*types.SectorSize:uint64(i+1)*types.SectorSize])
			vs.overlay[sec] = cp
		}
		return nil
	}
	return vs.writeThrough(sector, data)
}

func (vs *VolumeSet) writeThrough(sector uint64, data []byte) error {
	m := vs.memberFor(sector)
	if m == nil {
		return errors.E(errors.Io, "volumeset.writeThrough", nil, sector)
	}
	cp := append([]byte(nil), data...)
	if m.Order == endian.LittleEndian {
		endian.SwapBytes(cp)
	}
	if err := m.Dev.WriteSectors(sector-m.Start, cp); err != nil {
		return errors.E(errors.Io, "volumeset.writeThrough", err, sector)
	}
	return nil
}

// SplitPartitionList parses the space-separated device-name list
// stored in a volume header's PartitionList field, as
// mfs_load_volume_header does with strcspn/strspn.
func SplitPartitionList(raw []byte) []string {
	s := types.PartitionListString(raw)
	return strings.Fields(s)
}

// JoinPartitionList re-serializes a device-name list the way it is
// stored on disk: space separated, NUL padded to fit dst.
func JoinPartitionList(dst []byte, names []string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, []byte(strings.Join(names, " ")))
}
