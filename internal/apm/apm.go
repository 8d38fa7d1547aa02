// Package apm reads and writes Apple Partition Maps in the TiVo
// dialect: a boot-block signature in sector 0 followed by a run of
// partition entries starting at sector 1, each entry occupying one
// 512-byte sector, in either the 32-bit or 64-bit ("big partition")
// layout.
//
// Grounded on original_source/lib/macpart.c (table read, byte-swap
// detection via signature) and original_source/include/macpart.h
// (entry layouts, magic constants).
package apm

import (
	"fmt"

	"github.com/thessio/mfstools-go/internal/blockdev"
	"github.com/thessio/mfstools-go/internal/endian"
	"github.com/thessio/mfstools-go/internal/errors"
	"github.com/thessio/mfstools-go/internal/types"
)

// Partition is a decoded entry, widened to the caller's convenience
// regardless of which on-disk variant (32- or 64-bit) it came from.
type Partition struct {
	Index      int // 1-based, matching device node partition numbering
	StartBlock uint64
	BlockCount uint64
	Name       string
	Type       string
	Status     uint32
}

// PartitionTable is an open Apple Partition Map.
type PartitionTable struct {
	dev     blockdev.Device
	order   endian.Order
	wide    bool // true once any entry used the TIVO_BIGPARTITION signature
	entries []Partition
}

// Open reads the partition table off dev. It inspects the boot-block
// signature in sector 0 to decide whether the device's word order
// matches the host's expectation or needs byte-swapping, exactly as
// tivo_read_partition_table does.
func Open(dev blockdev.Device) (*PartitionTable, error) {
	boot, err := dev.ReadSectors(0, 1)
	if err != nil {
		return nil, errors.E(errors.Io, "apm.Open", err)
	}
	order, ok := detectBootOrder(boot)
	if !ok {
		return nil, errors.E(errors.NotATarget, "apm.Open", nil, "no APM boot signature")
	}

	pt := &PartitionTable{dev: dev, order: order}
	maxSec := uint32(1)
	for sec := uint32(1); sec <= maxSec && len(pt.entries) < 256; sec++ {
		raw, err := dev.ReadSectors(uint64(sec), 1)
		if err != nil {
			return nil, errors.E(errors.Io, "apm.Open", err, sec)
		}
		if order == endian.LittleEndian {
			endian.SwapBytes(raw)
		}
		sig := beUint16(raw[0:2])
		switch sig {
		case types.APMMagic:
			e := types.ParseAPMEntry(raw)
			if sec == 1 {
				maxSec = e.MapCount
			}
			pt.entries = append(pt.entries, Partition{
				Index: len(pt.entries) + 1, StartBlock: uint64(e.StartBlock),
				BlockCount: uint64(e.BlockCount), Name: e.NameString(),
				Type: e.TypeString(), Status: e.Status,
			})
		case types.BigAPMMagic:
			e := types.ParseBigAPMEntry(raw)
			pt.wide = true
			if sec == 1 {
				maxSec = e.MapCount
			}
			pt.entries = append(pt.entries, Partition{
				Index: len(pt.entries) + 1, StartBlock: e.StartBlock,
				BlockCount: e.BlockCount, Name: e.NameString(),
				Type: e.TypeString(), Status: e.Status,
			})
		default:
			sec = maxSec // stop: not a partition entry, no more follow
		}
	}
	if len(pt.entries) == 0 {
		return nil, errors.E(errors.NotATarget, "apm.Open", nil, "empty partition map")
	}
	return pt, nil
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

// detectBootOrder inspects sector 0's boot-block signature and
// reports the device's word order, mirroring the
// TIVO_BOOT_MAGIC/TIVO_BOOT_AMIGC comparison in tivo_read_partition_table.
func detectBootOrder(boot []byte) (endian.Order, bool) {
	sig := beUint16(boot[0:2])
	switch sig {
	case types.BootMagic:
		return endian.BigEndian, true
	case types.BootMagicSwab:
		return endian.LittleEndian, true
	default:
		return endian.BigEndian, false
	}
}

// IsWide reports whether the table uses the 64-bit "big partition"
// entry layout.
func (pt *PartitionTable) IsWide() bool { return pt.wide }

// Count returns the number of partitions in the table.
func (pt *PartitionTable) Count() int { return len(pt.entries) }

// Partition returns the n'th partition, 1-based.
func (pt *PartitionTable) Partition(n int) (Partition, error) {
	if n < 1 || n > len(pt.entries) {
		return Partition{}, errors.E(errors.NotATarget, "apm.Partition", nil, n)
	}
	return pt.entries[n-1], nil
}

// All returns every partition, in on-disk order.
func (pt *PartitionTable) All() []Partition {
	out := make([]Partition, len(pt.entries))
	copy(out, pt.entries)
	return out
}

// TotalFree sums the free space between and after recognized
// partitions, relative to the device's total sector count.
func (pt *PartitionTable) TotalFree() uint64 {
	total := pt.dev.SectorCount()
	used := uint64(0)
	for _, p := range pt.entries {
		used += p.BlockCount
	}
	if total <= used {
		return 0
	}
	return total - used
}

// Rename sets partition n's name field and persists the change.
func (pt *PartitionTable) Rename(n int, name string) error {
	if n < 1 || n > len(pt.entries) {
		return errors.E(errors.NotATarget, "apm.Rename", nil, n)
	}
	p := &pt.entries[n-1]
	p.Name = name
	return pt.writeEntry(n, *p)
}

// Add appends a new partition of the given size (in sectors)
// immediately after the last partition's used range, provided enough
// free space exists. It returns the new partition's 1-based index.
func (pt *PartitionTable) Add(sectors uint64, name, ptype string) (int, error) {
	if len(pt.entries) >= 256 {
		return 0, errors.E(errors.TooManyPartitions, "apm.Add", nil)
	}
	if sectors > pt.TotalFree() {
		return 0, errors.E(errors.OutOfSpace, "apm.Add", nil, sectors)
	}
	last := pt.entries[len(pt.entries)-1]
	start := last.StartBlock + last.BlockCount
	idx := len(pt.entries) + 1
	p := Partition{Index: idx, StartBlock: start, BlockCount: sectors, Name: name, Type: ptype}
	pt.entries = append(pt.entries, p)
	for i := range pt.entries {
		pt.entries[i].Index = i + 1
	}
	return idx, pt.writeAll()
}

func (pt *PartitionTable) writeEntry(n int, p Partition) error {
	if pt.wide {
		e := types.BigAPMEntry{Signature: types.BigAPMMagic, MapCount: uint32(len(pt.entries)),
			StartBlock: p.StartBlock, BlockCount: p.BlockCount, Status: p.Status}
		e.SetName(p.Name)
		e.SetType(p.Type)
		return pt.writeRaw(n, e.Bytes())
	}
	e := types.APMEntry{Signature: types.APMMagic, MapCount: uint32(len(pt.entries)),
		StartBlock: uint32(p.StartBlock), BlockCount: uint32(p.BlockCount), Status: p.Status}
	e.SetName(p.Name)
	e.SetType(p.Type)
	return pt.writeRaw(n, e.Bytes())
}

func (pt *PartitionTable) writeAll() error {
	for i, p := range pt.entries {
		if err := pt.writeEntry(i+1, p); err != nil {
			return err
		}
	}
	return nil
}

func (pt *PartitionTable) writeRaw(n int, data []byte) error {
	if pt.order == endian.LittleEndian {
		endian.SwapBytes(data)
	}
	if err := pt.dev.WriteSectors(uint64(n), data); err != nil {
		return errors.E(errors.Io, "apm.writeRaw", err, n)
	}
	return nil
}

// ReadBootSector returns the raw, un-swapped boot sector.
func (pt *PartitionTable) ReadBootSector() ([]byte, error) {
	data, err := pt.dev.ReadSectors(0, 1)
	if err != nil {
		return nil, errors.E(errors.Io, "apm.ReadBootSector", err)
	}
	return data, nil
}

// WriteBootSector writes a new boot sector verbatim (the caller is
// responsible for the magic byte order it wants on disk).
func (pt *PartitionTable) WriteBootSector(data []byte) error {
	if len(data) != types.SectorSize {
		return fmt.Errorf("apm: boot sector must be %d bytes, got %d", types.SectorSize, len(data))
	}
	return pt.dev.WriteSectors(0, data)
}
