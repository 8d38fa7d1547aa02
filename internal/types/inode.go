package types

import "encoding/binary"

// INodeChained marks inode_flags when this inode's fsid hash slot
// continues into the next inode sector. Grounded on INODE_CHAINED in
// original_source/include/fsid.h.
const INodeChained uint32 = 0x80000000

// InodeSig is the expected value of the inode's sig field.
const InodeSig uint32 = 0x91231ebc

// fsid_type tags (original_source/include/fsid.h fsid_type_e).
const (
	FsidTypeNone   uint32 = 0
	FsidTypeFile   uint32 = 1
	FsidTypeStream uint32 = 2
	FsidTypeDir    uint32 = 4
	FsidTypeDb     uint32 = 8
)

// InodeHeaderSize is the fixed portion of an inode record, grounded on
// mfs_inode in original_source/include/fsid.h. The rest of the 512-byte
// sector holds either Extents (NumBlocks > 0) or raw inline data
// (NumBlocks == 0).
const InodeHeaderSize = 60

// Extent is one (sector, count) run of an inode's data blocks.
type Extent struct {
	Sector uint32
	Count  uint32
}

// ExtentSize is the on-disk size of one Extent.
const ExtentSize = 8

// MaxExtentsPerSector is how many Extent entries fit after the inode
// header within a single 512-byte sector.
const MaxExtentsPerSector = (SectorSize - InodeHeaderSize) / ExtentSize

// MaxInlineData is how many bytes of small-file data fit directly in
// an inode sector when NumBlocks is 0.
const MaxInlineData = SectorSize - InodeHeaderSize

// Inode is one 512-byte MFS inode record.
type Inode struct {
	FSID         uint32
	Refcount     uint32
	Unk1         uint32
	Unk2         uint32
	InodeNum     uint32
	Unk3         uint32
	Size         uint32
	BlockSize    uint32
	BlockUsed    uint32
	LastModified uint32
	Type         uint8
	Unk6         uint8
	Beef         uint16
	Sig          uint32
	Checksum     uint32
	Flags        uint32
	NumBlocks    uint32

	// Extents holds NumBlocks entries when NumBlocks > 0.
	Extents []Extent
	// InlineData holds the remaining sector bytes verbatim when
	// NumBlocks == 0 — the in-inode small-data path.
	InlineData []byte
}

// Chained reports whether this inode's fsid hash chain continues.
func (n Inode) Chained() bool { return n.Flags&INodeChained != 0 }

// ParseInode decodes a 512-byte sector as an inode record.
func ParseInode(data []byte) Inode {
	var n Inode
	n.FSID = binary.BigEndian.Uint32(data[0:4])
	n.Refcount = binary.BigEndian.Uint32(data[4:8])
	n.Unk1 = binary.BigEndian.Uint32(data[8:12])
	n.Unk2 = binary.BigEndian.Uint32(data[12:16])
	n.InodeNum = binary.BigEndian.Uint32(data[16:20])
	n.Unk3 = binary.BigEndian.Uint32(data[20:24])
	n.Size = binary.BigEndian.Uint32(data[24:28])
	n.BlockSize = binary.BigEndian.Uint32(data[28:32])
	n.BlockUsed = binary.BigEndian.Uint32(data[32:36])
	n.LastModified = binary.BigEndian.Uint32(data[36:40])
	n.Type = data[40]
	n.Unk6 = data[41]
	n.Beef = binary.BigEndian.Uint16(data[42:44])
	n.Sig = binary.BigEndian.Uint32(data[44:48])
	n.Checksum = binary.BigEndian.Uint32(data[48:52])
	n.Flags = binary.BigEndian.Uint32(data[52:56])
	n.NumBlocks = binary.BigEndian.Uint32(data[56:60])

	rest := data[InodeHeaderSize:SectorSize]
	if n.NumBlocks == 0 {
		n.InlineData = append([]byte(nil), rest...)
		return n
	}
	count := int(n.NumBlocks)
	if count > MaxExtentsPerSector {
		count = MaxExtentsPerSector
	}
	n.Extents = make([]Extent, count)
	for i := 0; i < count; i++ {
		off := i * ExtentSize
		n.Extents[i] = Extent{
			Sector: binary.BigEndian.Uint32(rest[off : off+4]),
			Count:  binary.BigEndian.Uint32(rest[off+4 : off+8]),
		}
	}
	return n
}

// Bytes serializes the inode back into a 512-byte sector.
func (n Inode) Bytes() []byte {
	data := make([]byte, SectorSize)
	binary.BigEndian.PutUint32(data[0:4], n.FSID)
	binary.BigEndian.PutUint32(data[4:8], n.Refcount)
	binary.BigEndian.PutUint32(data[8:12], n.Unk1)
	binary.BigEndian.PutUint32(data[12:16], n.Unk2)
	binary.BigEndian.PutUint32(data[16:20], n.InodeNum)
	binary.BigEndian.PutUint32(data[20:24], n.Unk3)
	binary.BigEndian.PutUint32(data[24:28], n.Size)
	binary.BigEndian.PutUint32(data[28:32], n.BlockSize)
	binary.BigEndian.PutUint32(data[32:36], n.BlockUsed)
	binary.BigEndian.PutUint32(data[36:40], n.LastModified)
	data[40] = n.Type
	data[41] = n.Unk6
	binary.BigEndian.PutUint16(data[42:44], n.Beef)
	binary.BigEndian.PutUint32(data[44:48], n.Sig)
	binary.BigEndian.PutUint32(data[48:52], n.Checksum)
	binary.BigEndian.PutUint32(data[52:56], n.Flags)
	binary.BigEndian.PutUint32(data[56:60], n.NumBlocks)

	rest := data[InodeHeaderSize:SectorSize]
	if n.NumBlocks == 0 {
		copy(rest, n.InlineData)
		return data
	}
	for i, e := range n.Extents {
		off := i * ExtentSize
		if off+ExtentSize > len(rest) {
			break
		}
		binary.BigEndian.PutUint32(rest[off:off+4], e.Sector)
		binary.BigEndian.PutUint32(rest[off+4:off+8], e.Count)
	}
	return data
}

// HashSlot returns the zero-based inode-table slot an fsid hashes to,
// given the total number of inodes in the table. Grounded on
// mfs_read_inode_by_fsid in original_source/lib/inode.c: "(fsid *
// MFS_FSID_HASH) & (mfs_inode_count() - 1)". The mask (not a modulo)
// is carried over as-is — it equals a modulo only when inodeCount is a
// power of two; zonemap.Create does not round a zone's size to one.
func HashSlot(fsid, inodeCount uint32) uint32 {
	const mfsFsidHash = 0x106d9
	return (fsid * mfsFsidHash) & (inodeCount - 1)
}
