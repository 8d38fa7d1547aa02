// Package types holds the on-disk record layouts for the APM,
// MFS volume header, zone maps, inodes, and transaction log, plus the
// parse/serialize methods for each. Field offsets are grounded on
// original_source/include/macpart.h, mfs.h, zonemap.h, fsid.h, log.h.
package types

import "encoding/binary"

// SectorSize is the fixed sector size of the whole stack.
const SectorSize = 512

// APM magic signatures. The first of each pair is the device's native
// (big-endian-on-device) encoding; the second is the same bytes
// observed byte-swapped, which flags a little-endian-on-device volume.
const (
	APMMagic       uint16 = 0x504d // "PM"
	APMMagicSwab   uint16 = 0x4d50
	BootMagic      uint16 = 0x1492
	BootMagicSwab  uint16 = 0x9214
	BigAPMMagic    uint16 = 0x504e
	BigAPMMagicSwab uint16 = 0x4e50
)

// APMEntrySize is the on-disk size of one 32-bit APM entry (sector 0's
// boot-block signature lives in the same-sized sector 0, but partition
// entries proper start at sector 1).
const APMEntrySize = 512

// APMEntry is one 32-bit Apple Partition Map entry (struct
// mac_partition in macpart.h).
type APMEntry struct {
	Signature  uint16
	Reserved   uint16
	MapCount   uint32
	StartBlock uint32
	BlockCount uint32
	Name       [32]byte
	Type       [32]byte
	DataStart  uint32
	DataCount  uint32
	Status     uint32
}

// ParseAPMEntry decodes one 512-byte sector as a 32-bit APM entry. The
// caller is responsible for byte-swapping data first if the table's
// signature indicated a swapped device.
func ParseAPMEntry(data []byte) APMEntry {
	var e APMEntry
	e.Signature = binary.BigEndian.Uint16(data[0:2])
	e.Reserved = binary.BigEndian.Uint16(data[2:4])
	e.MapCount = binary.BigEndian.Uint32(data[4:8])
	e.StartBlock = binary.BigEndian.Uint32(data[8:12])
	e.BlockCount = binary.BigEndian.Uint32(data[12:16])
	copy(e.Name[:], data[16:48])
	copy(e.Type[:], data[48:80])
	e.DataStart = binary.BigEndian.Uint32(data[80:84])
	e.DataCount = binary.BigEndian.Uint32(data[84:88])
	e.Status = binary.BigEndian.Uint32(data[88:92])
	return e
}

// Bytes serializes the entry back into a 512-byte sector.
func (e APMEntry) Bytes() []byte {
	data := make([]byte, APMEntrySize)
	binary.BigEndian.PutUint16(data[0:2], e.Signature)
	binary.BigEndian.PutUint16(data[2:4], e.Reserved)
	binary.BigEndian.PutUint32(data[4:8], e.MapCount)
	binary.BigEndian.PutUint32(data[8:12], e.StartBlock)
	binary.BigEndian.PutUint32(data[12:16], e.BlockCount)
	copy(data[16:48], e.Name[:])
	copy(data[48:80], e.Type[:])
	binary.BigEndian.PutUint32(data[80:84], e.DataStart)
	binary.BigEndian.PutUint32(data[84:88], e.DataCount)
	binary.BigEndian.PutUint32(data[88:92], e.Status)
	return data
}

// NameString returns the NUL-terminated Name field as a Go string.
func (e APMEntry) NameString() string { return cstr(e.Name[:]) }

// TypeString returns the NUL-terminated Type field as a Go string.
func (e APMEntry) TypeString() string { return cstr(e.Type[:]) }

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func setCString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n
}

// SetName stores s into the Name field, NUL-padded/truncated to fit.
func (e *APMEntry) SetName(s string) { setCString(e.Name[:], s) }

// SetType stores s into the Type field, NUL-padded/truncated to fit.
func (e *APMEntry) SetType(s string) { setCString(e.Type[:], s) }

// BigAPMEntry is one 64-bit "big partition" Apple Partition Map entry,
// used once a volume set's partitions no longer fit 32-bit LBAs.
// Grounded on struct tivo_bigpartition in macpart.h.
type BigAPMEntry struct {
	Signature  uint16
	Reserved   uint16
	MapCount   uint32
	StartBlock uint64
	BlockCount uint64
	Name       [32]byte
	Type       [32]byte
	DataStart  uint64
	DataCount  uint64
	BootStart  uint64
	BootSize   uint64
	BootLoad   uint64
	BootLoad2  uint64
	BootEntry  uint64
	BootEntry2 uint64
	BootCksum  uint32
	Status     uint32
	Processor  [16]byte
}

// BigAPMEntrySize is the on-disk size of the defined portion of a
// big-partition entry; the remaining bytes of its 512-byte sector are
// unused padding.
const BigAPMEntrySize = 176

// ParseBigAPMEntry decodes one 512-byte sector as a 64-bit entry. The
// caller is responsible for byte-swapping data first if the table's
// signature indicated a swapped device.
func ParseBigAPMEntry(data []byte) BigAPMEntry {
	var e BigAPMEntry
	e.Signature = binary.BigEndian.Uint16(data[0:2])
	e.Reserved = binary.BigEndian.Uint16(data[2:4])
	e.MapCount = binary.BigEndian.Uint32(data[4:8])
	e.StartBlock = binary.BigEndian.Uint64(data[8:16])
	e.BlockCount = binary.BigEndian.Uint64(data[16:24])
	copy(e.Name[:], data[24:56])
	copy(e.Type[:], data[56:88])
	e.DataStart = binary.BigEndian.Uint64(data[88:96])
	e.DataCount = binary.BigEndian.Uint64(data[96:104])
	e.BootStart = binary.BigEndian.Uint64(data[104:112])
	e.BootSize = binary.BigEndian.Uint64(data[112:120])
	e.BootLoad = binary.BigEndian.Uint64(data[120:128])
	e.BootLoad2 = binary.BigEndian.Uint64(data[128:136])
	e.BootEntry = binary.BigEndian.Uint64(data[136:144])
	e.BootEntry2 = binary.BigEndian.Uint64(data[144:152])
	e.BootCksum = binary.BigEndian.Uint32(data[152:156])
	e.Status = binary.BigEndian.Uint32(data[156:160])
	copy(e.Processor[:], data[160:176])
	return e
}

// Bytes serializes the entry back into a 512-byte sector.
func (e BigAPMEntry) Bytes() []byte {
	data := make([]byte, APMEntrySize)
	binary.BigEndian.PutUint16(data[0:2], e.Signature)
	binary.BigEndian.PutUint16(data[2:4], e.Reserved)
	binary.BigEndian.PutUint32(data[4:8], e.MapCount)
	binary.BigEndian.PutUint64(data[8:16], e.StartBlock)
	binary.BigEndian.PutUint64(data[16:24], e.BlockCount)
	copy(data[24:56], e.Name[:])
	copy(data[56:88], e.Type[:])
	binary.BigEndian.PutUint64(data[88:96], e.DataStart)
	binary.BigEndian.PutUint64(data[96:104], e.DataCount)
	binary.BigEndian.PutUint64(data[104:112], e.BootStart)
	binary.BigEndian.PutUint64(data[112:120], e.BootSize)
	binary.BigEndian.PutUint64(data[120:128], e.BootLoad)
	binary.BigEndian.PutUint64(data[128:136], e.BootLoad2)
	binary.BigEndian.PutUint64(data[136:144], e.BootEntry)
	binary.BigEndian.PutUint64(data[144:152], e.BootEntry2)
	binary.BigEndian.PutUint32(data[152:156], e.BootCksum)
	binary.BigEndian.PutUint32(data[156:160], e.Status)
	copy(data[160:176], e.Processor[:])
	return data
}

// NameString returns the NUL-terminated Name field as a Go string.
func (e BigAPMEntry) NameString() string { return cstr(e.Name[:]) }

// TypeString returns the NUL-terminated Type field as a Go string.
func (e BigAPMEntry) TypeString() string { return cstr(e.Type[:]) }

// SetName stores s into the Name field, NUL-padded/truncated to fit.
func (e *BigAPMEntry) SetName(s string) { setCString(e.Name[:], s) }

// SetType stores s into the Type field, NUL-padded/truncated to fit.
func (e *BigAPMEntry) SetType(s string) { setCString(e.Type[:], s) }
