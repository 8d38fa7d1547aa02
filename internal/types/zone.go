package types

import "encoding/binary"

// Zone type tags. Grounded on zone_type_e in
// original_source/include/zonemap.h.
const (
	ZoneTypeInode       uint32 = 0
	ZoneTypeApplication uint32 = 1
	ZoneTypeMedia       uint32 = 2
	ZoneTypeMax         uint32 = 3
)

// ZoneHeaderSize is the fixed size of the header that precedes every
// zone map's fsmem-pointer table and bitmap data.
const ZoneHeaderSize = 72

// ZoneHeader is the fixed header at the start of each zone map.
// Grounded on zone_header_s in original_source/include/zonemap.h.
type ZoneHeader struct {
	Sector   uint32
	SBackup  uint32
	Length   uint32 // sectors this zone map occupies
	Next     ZoneMapPtr32
	Type     uint32
	LogStamp uint32
	Checksum uint32
	First    uint32 // first sector of the region this zone describes
	Last     uint32 // last sector of that region
	Size     uint32 // sectors described (last - first + 1)
	Min      uint32 // minimum allocation unit, in sectors
	Free     uint32 // free sectors within this zone
	Zero     uint32 // always zero
	Num      uint32 // number of hierarchical bitmap tables that follow
}

// ParseZoneHeader decodes the fixed 72-byte header from the front of
// a zone map.
func ParseZoneHeader(data []byte) ZoneHeader {
	var z ZoneHeader
	z.Sector = binary.BigEndian.Uint32(data[0:4])
	z.SBackup = binary.BigEndian.Uint32(data[4:8])
	z.Length = binary.BigEndian.Uint32(data[8:12])
	z.Next = parseZoneMapPtr32(data[12:32])
	z.Type = binary.BigEndian.Uint32(data[32:36])
	z.LogStamp = binary.BigEndian.Uint32(data[36:40])
	z.Checksum = binary.BigEndian.Uint32(data[40:44])
	z.First = binary.BigEndian.Uint32(data[44:48])
	z.Last = binary.BigEndian.Uint32(data[48:52])
	z.Size = binary.BigEndian.Uint32(data[52:56])
	z.Min = binary.BigEndian.Uint32(data[56:60])
	z.Free = binary.BigEndian.Uint32(data[60:64])
	z.Zero = binary.BigEndian.Uint32(data[64:68])
	z.Num = binary.BigEndian.Uint32(data[68:72])
	return z
}

// Bytes serializes the header back into its 72-byte slot.
func (z ZoneHeader) Bytes() []byte {
	data := make([]byte, ZoneHeaderSize)
	binary.BigEndian.PutUint32(data[0:4], z.Sector)
	binary.BigEndian.PutUint32(data[4:8], z.SBackup)
	binary.BigEndian.PutUint32(data[8:12], z.Length)
	copy(data[12:32], z.Next.bytes())
	binary.BigEndian.PutUint32(data[32:36], z.Type)
	binary.BigEndian.PutUint32(data[36:40], z.LogStamp)
	binary.BigEndian.PutUint32(data[40:44], z.Checksum)
	binary.BigEndian.PutUint32(data[44:48], z.First)
	binary.BigEndian.PutUint32(data[48:52], z.Last)
	binary.BigEndian.PutUint32(data[52:56], z.Size)
	binary.BigEndian.PutUint32(data[56:60], z.Min)
	binary.BigEndian.PutUint32(data[60:64], z.Free)
	binary.BigEndian.PutUint32(data[64:68], z.Zero)
	binary.BigEndian.PutUint32(data[68:72], z.Num)
	return data
}

// IsEndOfChain reports whether this pointer terminates a zone map
// chain: a zero sector, or the 0xdeadbeef backup sentinel, either one
// ends the walk (mfs_load_zone_maps's "while (ptr->sector &&
// ptr->sbackup != 0xdeadbeef)").
func (p ZoneMapPtr32) IsEndOfChain() bool { return p.Sector == 0 || p.SBackup == 0xdeadbeef }
func (p ZoneMapPtr64) IsEndOfChain() bool { return p.Sector == 0 || p.SBackup == 0xdeadbeef }

// Widen lifts a 32-bit zone map pointer to the width-independent form.
// zone_header.next stays a 32-bit zone_map_ptr even on 64-bit volumes,
// per original_source/include/zonemap.h, so this is the only widening
// a zone chain walk needs.
func (p ZoneMapPtr32) Widen() ZonePtr {
	return ZonePtr{uint64(p.Sector), uint64(p.SBackup), uint64(p.Length), uint64(p.Size), uint64(p.Min)}
}

// NarrowZoneMapPtr32 truncates a widened zone map pointer back to the
// 32-bit on-disk form used by zone_header.next.
func NarrowZoneMapPtr32(p ZonePtr) ZoneMapPtr32 {
	return ZoneMapPtr32{
		Sector:  uint32(p.Sector),
		SBackup: uint32(p.SBackup),
		Length:  uint32(p.Length),
		Size:    uint32(p.Size),
		Min:     uint32(p.Min),
	}
}

// BitmapHeaderSize is the fixed size of one hierarchical bitmap
// table's header, preceding its bit words.
const BitmapHeaderSize = 16

// BitmapHeader precedes each level of a zone's hierarchical
// free-space bitmap. Grounded on bitmap_header_s in zonemap.h.
type BitmapHeader struct {
	NBits       uint32 // bits in this table, including padding to a power of 2
	FreeBlocks  uint32 // set only when the table's bit count is odd (see zonemap.c)
	Last        uint32
	NInts       uint32 // 32-bit words of bitmap data following this header
}

// ParseBitmapHeader decodes one 16-byte bitmap table header.
func ParseBitmapHeader(data []byte) BitmapHeader {
	return BitmapHeader{
		NBits:      binary.BigEndian.Uint32(data[0:4]),
		FreeBlocks: binary.BigEndian.Uint32(data[4:8]),
		Last:       binary.BigEndian.Uint32(data[8:12]),
		NInts:      binary.BigEndian.Uint32(data[12:16]),
	}
}

// Bytes serializes the header.
func (b BitmapHeader) Bytes() []byte {
	data := make([]byte, BitmapHeaderSize)
	binary.BigEndian.PutUint32(data[0:4], b.NBits)
	binary.BigEndian.PutUint32(data[4:8], b.FreeBlocks)
	binary.BigEndian.PutUint32(data[8:12], b.Last)
	binary.BigEndian.PutUint32(data[12:16], b.NInts)
	return data
}
