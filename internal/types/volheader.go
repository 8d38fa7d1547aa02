package types

import "encoding/binary"

// MFS volume header magic constants. Grounded on
// original_source/include/mfs.h.
const (
	MfsMagicOK   uint32 = 0xABBAFEED
	Mfs64BitBit  uint32 = 0x40000000
)

// ZoneMapPtr32 is the 32-bit zone-map link record embedded in a v32
// volume header and chained between zone headers.
type ZoneMapPtr32 struct {
	Sector  uint32
	SBackup uint32
	Length  uint32
	Size    uint32
	Min     uint32
}

// ZoneMapPtr64 is the 64-bit counterpart used by v64 volumes.
type ZoneMapPtr64 struct {
	Sector  uint64
	SBackup uint64
	Length  uint64
	Size    uint64
	Min     uint64
}

func parseZoneMapPtr32(data []byte) ZoneMapPtr32 {
	return ZoneMapPtr32{
		Sector:  binary.BigEndian.Uint32(data[0:4]),
		SBackup: binary.BigEndian.Uint32(data[4:8]),
		Length:  binary.BigEndian.Uint32(data[8:12]),
		Size:    binary.BigEndian.Uint32(data[12:16]),
		Min:     binary.BigEndian.Uint32(data[16:20]),
	}
}

func (p ZoneMapPtr32) bytes() []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint32(b[0:4], p.Sector)
	binary.BigEndian.PutUint32(b[4:8], p.SBackup)
	binary.BigEndian.PutUint32(b[8:12], p.Length)
	binary.BigEndian.PutUint32(b[12:16], p.Size)
	binary.BigEndian.PutUint32(b[16:20], p.Min)
	return b
}

func parseZoneMapPtr64(data []byte) ZoneMapPtr64 {
	return ZoneMapPtr64{
		Sector:  binary.BigEndian.Uint64(data[0:8]),
		SBackup: binary.BigEndian.Uint64(data[8:16]),
		Length:  binary.BigEndian.Uint64(data[16:24]),
		Size:    binary.BigEndian.Uint64(data[24:32]),
		Min:     binary.BigEndian.Uint64(data[32:40]),
	}
}

func (p ZoneMapPtr64) bytes() []byte {
	b := make([]byte, 40)
	binary.BigEndian.PutUint64(b[0:8], p.Sector)
	binary.BigEndian.PutUint64(b[8:16], p.SBackup)
	binary.BigEndian.PutUint64(b[16:24], p.Length)
	binary.BigEndian.PutUint64(b[24:32], p.Size)
	binary.BigEndian.PutUint64(b[32:40], p.Min)
	return b
}

// VolumeHeaderV32 is the 32-bit MFS volume header. Two copies of this
// live in a volume set: sector 0 of the first volume, and the last
// sector of the first volume. Grounded on volume_header_32_s in
// original_source/include/mfs.h; offset-named reserved fields (off0c,
// off14, ...) are carried forward because their purpose was never
// documented upstream and no SPEC_FULL.md operation depends on them.
type VolumeHeaderV32 struct {
	State          uint32 // expected 0
	Magic          uint32 // MfsMagicOK, high bit set is impossible for v32
	Checksum       uint32
	Reserved0C     uint32
	RootFSID       uint32
	Reserved14     uint32
	FirstPartSize  uint32 // sectors of first partition / 1024
	Reserved1C     uint32
	Reserved20     uint32
	PartitionList  [128]byte
	TotalSectors   uint32
	ReservedA8     uint32
	LogStart       uint32
	LogNSectors    uint32
	VolHdrLogStamp uint32
	UnkStart       uint32
	UnkSectors     uint32
	UnkStamp       uint32
	ZoneMap        ZoneMapPtr32
	NextFSID       uint32
	BootCycles     uint32
	BootSecs       uint32
	ReservedE4     uint32
}

// VolumeHeaderV32Size is the portion of sector 0 occupied by the
// structure above (the rest of the 512-byte sector is padding that
// participates in the checksum but carries no defined fields).
const VolumeHeaderV32Size = 232

// ParseVolumeHeaderV32 decodes a 512-byte sector. magicFirst selects
// which of the header's first two words is the magic vs. the state —
// the original format stores them in opposite order depending on
// whether the volume is Premiere-era (state, then magic) or
// Roamio-era (magic, then state); see original_source/include/util.h.
func ParseVolumeHeaderV32(data []byte, magicFirst bool) VolumeHeaderV32 {
	var h VolumeHeaderV32
	w0 := binary.BigEndian.Uint32(data[0:4])
	w1 := binary.BigEndian.Uint32(data[4:8])
	if magicFirst {
		h.Magic, h.State = w0, w1
	} else {
		h.State, h.Magic = w0, w1
	}
	h.Checksum = binary.BigEndian.Uint32(data[8:12])
	h.Reserved0C = binary.BigEndian.Uint32(data[12:16])
	h.RootFSID = binary.BigEndian.Uint32(data[16:20])
	h.Reserved14 = binary.BigEndian.Uint32(data[20:24])
	h.FirstPartSize = binary.BigEndian.Uint32(data[24:28])
	h.Reserved1C = binary.BigEndian.Uint32(data[28:32])
	h.Reserved20 = binary.BigEndian.Uint32(data[32:36])
	copy(h.PartitionList[:], data[36:164])
	h.TotalSectors = binary.BigEndian.Uint32(data[164:168])
	h.ReservedA8 = binary.BigEndian.Uint32(data[168:172])
	h.LogStart = binary.BigEndian.Uint32(data[172:176])
	h.LogNSectors = binary.BigEndian.Uint32(data[176:180])
	h.VolHdrLogStamp = binary.BigEndian.Uint32(data[180:184])
	h.UnkStart = binary.BigEndian.Uint32(data[184:188])
	h.UnkSectors = binary.BigEndian.Uint32(data[188:192])
	h.UnkStamp = binary.BigEndian.Uint32(data[192:196])
	h.ZoneMap = parseZoneMapPtr32(data[196:216])
	h.NextFSID = binary.BigEndian.Uint32(data[216:220])
	h.BootCycles = binary.BigEndian.Uint32(data[220:224])
	h.BootSecs = binary.BigEndian.Uint32(data[224:228])
	h.ReservedE4 = binary.BigEndian.Uint32(data[228:232])
	return h
}

// Bytes serializes the header into a 512-byte sector (zero padded).
// magicFirst mirrors the parse-time parameter.
func (h VolumeHeaderV32) Bytes(magicFirst bool) []byte {
	data := make([]byte, SectorSize)
	if magicFirst {
		binary.BigEndian.PutUint32(data[0:4], h.Magic)
		binary.BigEndian.PutUint32(data[4:8], h.State)
	} else {
		binary.BigEndian.PutUint32(data[0:4], h.State)
		binary.BigEndian.PutUint32(data[4:8], h.Magic)
	}
	binary.BigEndian.PutUint32(data[8:12], h.Checksum)
	binary.BigEndian.PutUint32(data[12:16], h.Reserved0C)
	binary.BigEndian.PutUint32(data[16:20], h.RootFSID)
	binary.BigEndian.PutUint32(data[20:24], h.Reserved14)
	binary.BigEndian.PutUint32(data[24:28], h.FirstPartSize)
	binary.BigEndian.PutUint32(data[28:32], h.Reserved1C)
	binary.BigEndian.PutUint32(data[32:36], h.Reserved20)
	copy(data[36:164], h.PartitionList[:])
	binary.BigEndian.PutUint32(data[164:168], h.TotalSectors)
	binary.BigEndian.PutUint32(data[168:172], h.ReservedA8)
	binary.BigEndian.PutUint32(data[172:176], h.LogStart)
	binary.BigEndian.PutUint32(data[176:180], h.LogNSectors)
	binary.BigEndian.PutUint32(data[180:184], h.VolHdrLogStamp)
	binary.BigEndian.PutUint32(data[184:188], h.UnkStart)
	binary.BigEndian.PutUint32(data[188:192], h.UnkSectors)
	binary.BigEndian.PutUint32(data[192:196], h.UnkStamp)
	copy(data[196:216], h.ZoneMap.bytes())
	binary.BigEndian.PutUint32(data[216:220], h.NextFSID)
	binary.BigEndian.PutUint32(data[220:224], h.BootCycles)
	binary.BigEndian.PutUint32(data[224:228], h.BootSecs)
	binary.BigEndian.PutUint32(data[228:232], h.ReservedE4)
	return data
}

// VolumeHeaderV64 is the 64-bit MFS volume header used once a volume
// set outgrows 32-bit sector addressing. Grounded on
// volume_header_64_s in original_source/include/mfs.h.
type VolumeHeaderV64 struct {
	State          uint32
	Magic          uint32
	Checksum       uint32
	Reserved0C     uint32
	RootFSID       uint32
	Reserved14     uint32
	FirstPartSize  uint32
	Reserved1C     uint32
	Reserved20     uint32
	PartitionList  [132]byte
	TotalSectors   uint64
	LogStart       uint64
	VolHdrLogStamp uint64 // treated as 64-bit throughout; see DESIGN.md Open Question #3
	UnkStart       uint64
	ReservedC8     uint32
	UnkStamp       uint32
	ZoneMap        ZoneMapPtr64
	UnkNSectors    uint32
	LogNSectors    uint32
	Reserved100    uint32
	NextFSID       uint32
	BootCycles     uint32
	BootSecs       uint32
	Reserved110    uint32
	Reserved114    uint32
}

// ParseVolumeHeaderV64 decodes a 512-byte sector. See
// ParseVolumeHeaderV32 for magicFirst.
func ParseVolumeHeaderV64(data []byte, magicFirst bool) VolumeHeaderV64 {
	var h VolumeHeaderV64
	w0 := binary.BigEndian.Uint32(data[0:4])
	w1 := binary.BigEndian.Uint32(data[4:8])
	if magicFirst {
		h.Magic, h.State = w0, w1
	} else {
		h.State, h.Magic = w0, w1
	}
	h.Checksum = binary.BigEndian.Uint32(data[8:12])
	h.Reserved0C = binary.BigEndian.Uint32(data[12:16])
	h.RootFSID = binary.BigEndian.Uint32(data[16:20])
	h.Reserved14 = binary.BigEndian.Uint32(data[20:24])
	h.FirstPartSize = binary.BigEndian.Uint32(data[24:28])
	h.Reserved1C = binary.BigEndian.Uint32(data[28:32])
	h.Reserved20 = binary.BigEndian.Uint32(data[32:36])
	copy(h.PartitionList[:], data[36:168])
	h.TotalSectors = binary.BigEndian.Uint64(data[168:176])
	h.LogStart = binary.BigEndian.Uint64(data[176:184])
	h.VolHdrLogStamp = binary.BigEndian.Uint64(data[184:192])
	h.UnkStart = binary.BigEndian.Uint64(data[192:200])
	h.ReservedC8 = binary.BigEndian.Uint32(data[200:204])
	h.UnkStamp = binary.BigEndian.Uint32(data[204:208])
	h.ZoneMap = parseZoneMapPtr64(data[208:248])
	h.UnkNSectors = binary.BigEndian.Uint32(data[248:252])
	h.LogNSectors = binary.BigEndian.Uint32(data[252:256])
	h.Reserved100 = binary.BigEndian.Uint32(data[256:260])
	h.NextFSID = binary.BigEndian.Uint32(data[260:264])
	h.BootCycles = binary.BigEndian.Uint32(data[264:268])
	h.BootSecs = binary.BigEndian.Uint32(data[268:272])
	h.Reserved110 = binary.BigEndian.Uint32(data[272:276])
	h.Reserved114 = binary.BigEndian.Uint32(data[276:280])
	return h
}

// VolumeHeaderV64Size is the defined portion of the v64 header.
const VolumeHeaderV64Size = 280

// Bytes serializes the header into a 512-byte sector (zero padded).
func (h VolumeHeaderV64) Bytes(magicFirst bool) []byte {
	data := make([]byte, SectorSize)
	if magicFirst {
		binary.BigEndian.PutUint32(data[0:4], h.Magic)
		binary.BigEndian.PutUint32(data[4:8], h.State)
	} else {
		binary.BigEndian.PutUint32(data[0:4], h.State)
		binary.BigEndian.PutUint32(data[4:8], h.Magic)
	}
	binary.BigEndian.PutUint32(data[8:12], h.Checksum)
	binary.BigEndian.PutUint32(data[12:16], h.Reserved0C)
	binary.BigEndian.PutUint32(data[16:20], h.RootFSID)
	binary.BigEndian.PutUint32(data[20:24], h.Reserved14)
	binary.BigEndian.PutUint32(data[24:28], h.FirstPartSize)
	binary.BigEndian.PutUint32(data[28:32], h.Reserved1C)
	binary.BigEndian.PutUint32(data[32:36], h.Reserved20)
	copy(data[36:168], h.PartitionList[:])
	binary.BigEndian.PutUint64(data[168:176], h.TotalSectors)
	binary.BigEndian.PutUint64(data[176:184], h.LogStart)
	binary.BigEndian.PutUint64(data[184:192], h.VolHdrLogStamp)
	binary.BigEndian.PutUint64(data[192:200], h.UnkStart)
	binary.BigEndian.PutUint32(data[200:204], h.ReservedC8)
	binary.BigEndian.PutUint32(data[204:208], h.UnkStamp)
	copy(data[208:248], h.ZoneMap.bytes())
	binary.BigEndian.PutUint32(data[248:252], h.UnkNSectors)
	binary.BigEndian.PutUint32(data[252:256], h.LogNSectors)
	binary.BigEndian.PutUint32(data[256:260], h.Reserved100)
	binary.BigEndian.PutUint32(data[260:264], h.NextFSID)
	binary.BigEndian.PutUint32(data[264:268], h.BootCycles)
	binary.BigEndian.PutUint32(data[268:272], h.BootSecs)
	binary.BigEndian.PutUint32(data[272:276], h.Reserved110)
	binary.BigEndian.PutUint32(data[276:280], h.Reserved114)
	return data
}

// PartitionListString returns the space-separated volume name list.
func PartitionListString(b []byte) string { return cstr(b) }

// VolumeHeader is the v32/v64 volume header sum type: exactly one of
// V32 or V64 is non-nil. Per Design Notes §9, this is a Go sum type
// rather than a C-style union, with widening accessors so callers
// rarely need to branch on Wide themselves.
type VolumeHeader struct {
	Wide bool
	V32  *VolumeHeaderV32
	V64  *VolumeHeaderV64
}

// TotalSectors returns the volume set's total sector count, widened
// to 64 bits regardless of variant.
func (h VolumeHeader) TotalSectors() uint64 {
	if h.Wide {
		return h.V64.TotalSectors
	}
	return uint64(h.V32.TotalSectors)
}

// LogStart returns the transaction log's starting sector.
func (h VolumeHeader) LogStart() uint64 {
	if h.Wide {
		return h.V64.LogStart
	}
	return uint64(h.V32.LogStart)
}

// LogNSectors returns the transaction log's sector count.
func (h VolumeHeader) LogNSectors() uint32 {
	if h.Wide {
		return h.V64.LogNSectors
	}
	return h.V32.LogNSectors
}

// VolHdrLogStamp returns the header's own log stamp, widened to 64
// bits (see DESIGN.md Open Question #3).
func (h VolumeHeader) VolHdrLogStamp() uint64 {
	if h.Wide {
		return h.V64.VolHdrLogStamp
	}
	return uint64(h.V32.VolHdrLogStamp)
}

// RootFSID returns the root directory's fsid.
func (h VolumeHeader) RootFSID() uint32 {
	if h.Wide {
		return h.V64.RootFSID
	}
	return h.V32.RootFSID
}

// NextFSID returns the next-fsid-to-allocate counter.
func (h VolumeHeader) NextFSID() uint32 {
	if h.Wide {
		return h.V64.NextFSID
	}
	return h.V32.NextFSID
}

// Checksum returns the header's stored checksum field.
func (h VolumeHeader) Checksum() uint32 {
	if h.Wide {
		return h.V64.Checksum
	}
	return h.V32.Checksum
}

// PartitionList returns the raw, NUL-padded device-name list field.
func (h VolumeHeader) PartitionList() []byte {
	if h.Wide {
		return h.V64.PartitionList[:]
	}
	return h.V32.PartitionList[:]
}

// ZoneMapSector returns the sector of the volume's first zone header.
func (h VolumeHeader) ZoneMapSector() uint64 {
	if h.Wide {
		return h.V64.ZoneMap.Sector
	}
	return uint64(h.V32.ZoneMap.Sector)
}

// ZonePtr is a byte-order-independent, width-independent zone map link:
// the widened form of ZoneMapPtr32/ZoneMapPtr64 used once callers no
// longer need to care which volume variant produced it.
type ZonePtr struct {
	Sector, SBackup, Length, Size, Min uint64
}

// IsEndOfChain mirrors ZoneMapPtr32/64.IsEndOfChain on the widened form.
func (p ZonePtr) IsEndOfChain() bool { return p.Sector == 0 || p.SBackup == 0xdeadbeef }

// ZoneMap returns the volume header's first zone map pointer, widened.
func (h VolumeHeader) ZoneMap() ZonePtr {
	if h.Wide {
		z := h.V64.ZoneMap
		return ZonePtr{z.Sector, z.SBackup, z.Length, z.Size, z.Min}
	}
	z := h.V32.ZoneMap
	return ZonePtr{uint64(z.Sector), uint64(z.SBackup), uint64(z.Length), uint64(z.Size), uint64(z.Min)}
}

// Magic returns the magic field, which should equal MfsMagicOK once
// State() reads back as 0.
func (h VolumeHeader) Magic() uint32 {
	if h.Wide {
		return h.V64.Magic
	}
	return h.V32.Magic
}

// State returns the header's state field, expected to be 0 for a
// cleanly unmounted volume.
func (h VolumeHeader) State() uint32 {
	if h.Wide {
		return h.V64.State
	}
	return h.V32.State
}

// Bytes serializes the header back into a 512-byte sector.
func (h VolumeHeader) Bytes(magicFirst bool) []byte {
	if h.Wide {
		return h.V64.Bytes(magicFirst)
	}
	return h.V32.Bytes(magicFirst)
}
