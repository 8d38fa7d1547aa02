package zonemap

import "github.com/thessio/mfstools-go/internal/types"

// level is one tier of a zone's hierarchical free-space bitmap: a
// buddy-style table where level 0 is the finest grain (one bit per
// Min-sized allocation unit) and each subsequent level doubles its
// block size while halving its bit count, down to a single bit at the
// coarsest level representing the whole zone.
//
// bits aliases a window directly into the owning zone's raw sector
// buffer, so mutating a bit here is visible in the buffer a Commit
// writes back out — there is no separate marshal step for bit data,
// only for the small bitmap_header fields (nbits/freeblocks/last/nints)
// that rarely change after creation.
type level struct {
	header    types.BitmapHeader
	bits      []byte // physical byte window, see tblintsBytes
	blockSize uint32 // allocation units represented by one bit at this level
}

// tblints is the physical word count backing a table of nbits bits.
// Grounded on mfs_new_zone_map_size / mfs_new_zone_map's curofs
// stepping in original_source/lib/zonemap.c: "every bitmap with 8 or
// more bits takes 1 int more than needed", i.e. (nbits+57)/32 words
// rather than the (nbits+31)/32 the nbits/nints header fields alone
// would suggest. Both Create and Load use this same derivation so the
// two stay consistent with each other.
func tblints(nbits uint32) uint32 { return (nbits + 57) / 32 }

func (l *level) test(bit uint32) bool {
	byteIdx := bit / 8
	pos := 7 - (bit % 8)
	return l.bits[byteIdx]&(1<<pos) != 0
}

func (l *level) setBit(bit uint32) {
	byteIdx := bit / 8
	pos := 7 - (bit % 8)
	l.bits[byteIdx] |= 1 << pos
}

func (l *level) clearBit(bit uint32) {
	byteIdx := bit / 8
	pos := 7 - (bit % 8)
	l.bits[byteIdx] &^= 1 << pos
}

// findFree returns the index of any set (free) bit in the level, or
// ok=false if the level is fully allocated.
func (l *level) findFree() (bit uint32, ok bool) {
	for i, b := range l.bits {
		if b == 0 {
			continue
		}
		for pos := 0; pos < 8; pos++ {
			if b&(1<<(7-pos)) != 0 {
				return uint32(i*8 + pos), true
			}
		}
	}
	return 0, false
}

// prevPow2 returns the largest power of two <= n (n > 0).
func prevPow2(n uint32) uint32 {
	p := uint32(1)
	for p*2 <= n {
		p *= 2
	}
	return p
}

// log2Floor returns floor(log2(n)) for n > 0.
func log2Floor(n uint32) uint32 {
	var l uint32
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// levelCount computes num = ceil(log2(blocks))+1, the number of
// hierarchical bitmap tables a zone of the given allocation-unit count
// needs. Grounded on mfs_new_zone_map_size/mfs_new_zone_map's identical
// "order" loop.
func levelCount(blocks uint32) uint32 {
	order := uint32(0)
	for (uint32(1) << order) < blocks {
		order++
	}
	return order + 1
}

// zoneMapSize returns the byte size a brand new zone map needs for the
// given allocation-unit count, mirroring mfs_new_zone_map_size exactly
// (including its header ptr-table overhead and per-level padding
// quirk), before rounding up to a sector multiple.
func zoneMapSize(blocks uint32) int {
	num := levelCount(blocks)
	size := types.ZoneHeaderSize + 4
	size += int(num) * (types.BitmapHeaderSize + 4) // fsmem pointer table, 4 bytes/level
	for order := int(num) - 1; order >= 0; order-- {
		bits := uint32(1) << uint32(order)
		size += int(tblints(bits)) * 4
	}
	return size
}
