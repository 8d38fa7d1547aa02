package types

import "encoding/binary"

// Transaction log entry types. Grounded on log_trans_types_e in
// original_source/include/log.h.
const (
	LogTransMapUpdate   uint32 = 0
	LogTransInodeUpdate uint32 = 1
	LogTransCommit      uint32 = 2
	LogTransFsSync      uint32 = 4
)

// LogHdrSize is the size of the ring-buffer sector header that
// precedes each log sector (log_hdr_s).
const LogHdrSize = 16

// LogHdr is the per-sector header of the transaction log ring buffer.
type LogHdr struct {
	LogStamp uint32
	Crc      uint32
	First    uint32
	Size     uint32
}

// ParseLogHdr decodes a LogHdr from the front of a log sector.
func ParseLogHdr(data []byte) LogHdr {
	return LogHdr{
		LogStamp: binary.BigEndian.Uint32(data[0:4]),
		Crc:      binary.BigEndian.Uint32(data[4:8]),
		First:    binary.BigEndian.Uint32(data[8:12]),
		Size:     binary.BigEndian.Uint32(data[12:16]),
	}
}

// Bytes serializes the header.
func (h LogHdr) Bytes() []byte {
	data := make([]byte, LogHdrSize)
	binary.BigEndian.PutUint32(data[0:4], h.LogStamp)
	binary.BigEndian.PutUint32(data[4:8], h.Crc)
	binary.BigEndian.PutUint32(data[8:12], h.First)
	binary.BigEndian.PutUint32(data[12:16], h.Size)
	return data
}

// LogEntrySize is the size of the common log_entry_s header shared by
// every transaction log record.
const LogEntrySize = 26

// LogEntry is the common header of every transaction log record.
type LogEntry struct {
	Length    uint16
	Unk1      uint32
	TransMaj  uint32
	TransMin  uint32
	Inode     uint32
	TransType uint32
	Unk2      uint32
}

// ParseLogEntry decodes the common 26-byte record header.
func ParseLogEntry(data []byte) LogEntry {
	return LogEntry{
		Length:    binary.BigEndian.Uint16(data[0:2]),
		Unk1:      binary.BigEndian.Uint32(data[2:6]),
		TransMaj:  binary.BigEndian.Uint32(data[6:10]),
		TransMin:  binary.BigEndian.Uint32(data[10:14]),
		Inode:     binary.BigEndian.Uint32(data[14:18]),
		TransType: binary.BigEndian.Uint32(data[18:22]),
		Unk2:      binary.BigEndian.Uint32(data[22:26]),
	}
}

func (e LogEntry) bytes() []byte {
	data := make([]byte, LogEntrySize)
	binary.BigEndian.PutUint16(data[0:2], e.Length)
	binary.BigEndian.PutUint32(data[2:6], e.Unk1)
	binary.BigEndian.PutUint32(data[6:10], e.TransMaj)
	binary.BigEndian.PutUint32(data[10:14], e.TransMin)
	binary.BigEndian.PutUint32(data[14:18], e.Inode)
	binary.BigEndian.PutUint32(data[18:22], e.TransType)
	binary.BigEndian.PutUint32(data[22:26], e.Unk2)
	return data
}

// LogMapUpdateSize is the fixed size of a log_map_update_s record.
const LogMapUpdateSize = LogEntrySize + 16

// LogMapUpdate is a zone-map transaction log record (allocate/free a
// run of sectors within a zone).
type LogMapUpdate struct {
	Log    LogEntry
	Remove uint32
	Sector uint32
	Size   uint32
	Unk    uint32
}

// ParseLogMapUpdate decodes a log_map_update_s record.
func ParseLogMapUpdate(data []byte) LogMapUpdate {
	return LogMapUpdate{
		Log:    ParseLogEntry(data[0:LogEntrySize]),
		Remove: binary.BigEndian.Uint32(data[26:30]),
		Sector: binary.BigEndian.Uint32(data[30:34]),
		Size:   binary.BigEndian.Uint32(data[34:38]),
		Unk:    binary.BigEndian.Uint32(data[38:42]),
	}
}

// Bytes serializes the record.
func (u LogMapUpdate) Bytes() []byte {
	data := make([]byte, LogMapUpdateSize)
	copy(data[0:26], u.Log.bytes())
	binary.BigEndian.PutUint32(data[26:30], u.Remove)
	binary.BigEndian.PutUint32(data[30:34], u.Sector)
	binary.BigEndian.PutUint32(data[34:38], u.Size)
	binary.BigEndian.PutUint32(data[38:42], u.Unk)
	return data
}

// LogInodeUpdateHeaderSize is the fixed portion of a
// log_inode_update_s record, before its trailing datablocks/data.
const LogInodeUpdateHeaderSize = LogEntrySize + 52

// LogInodeUpdate is an inode transaction log record, mirroring
// mfs_inode's layout with an additional log_entry header and a
// dbsize field in place of numblocks.
type LogInodeUpdate struct {
	Log          LogEntry
	FSID         uint32
	Refcount     uint32
	TransMaj     uint32
	TransMin     uint32
	Inode        uint32
	Unk3         uint32
	Size         uint32
	BlockSize    uint32
	BlockUsed    uint32
	LastModified uint32
	Type         uint8
	Unk6         uint8
	Beef         uint16
	Unk2         uint32
	DbSize       uint32

	// Extents holds DbSize entries when the inode update describes an
	// extent list; InlineData holds raw bytes when it describes
	// in-inode data instead (same duality as Inode).
	Extents    []Extent
	InlineData []byte
}

// ParseLogInodeUpdate decodes a log_inode_update_s record. trailing is
// the remaining record bytes after the fixed header, sized by the
// caller from the record's Log.Length.
func ParseLogInodeUpdate(data []byte) LogInodeUpdate {
	var u LogInodeUpdate
	u.Log = ParseLogEntry(data[0:LogEntrySize])
	b := data[LogEntrySize:]
	u.FSID = binary.BigEndian.Uint32(b[0:4])
	u.Refcount = binary.BigEndian.Uint32(b[4:8])
	u.TransMaj = binary.BigEndian.Uint32(b[8:12])
	u.TransMin = binary.BigEndian.Uint32(b[12:16])
	u.Inode = binary.BigEndian.Uint32(b[16:20])
	u.Unk3 = binary.BigEndian.Uint32(b[20:24])
	u.Size = binary.BigEndian.Uint32(b[24:28])
	u.BlockSize = binary.BigEndian.Uint32(b[28:32])
	u.BlockUsed = binary.BigEndian.Uint32(b[32:36])
	u.LastModified = binary.BigEndian.Uint32(b[36:40])
	u.Type = b[40]
	u.Unk6 = b[41]
	u.Beef = binary.BigEndian.Uint16(b[42:44])
	u.Unk2 = binary.BigEndian.Uint32(b[44:48])
	u.DbSize = binary.BigEndian.Uint32(b[48:52])

	rest := b[52:]
	if u.DbSize == 0 {
		u.InlineData = append([]byte(nil), rest...)
		return u
	}
	count := int(u.DbSize)
	if count*ExtentSize > len(rest) {
		count = len(rest) / ExtentSize
	}
	u.Extents = make([]Extent, count)
	for i := 0; i < count; i++ {
		off := i * ExtentSize
		u.Extents[i] = Extent{
			Sector: binary.BigEndian.Uint32(rest[off : off+4]),
			Count:  binary.BigEndian.Uint32(rest[off+4 : off+8]),
		}
	}
	return u
}

// Bytes serializes the record, including its trailing extents or
// inline data.
func (u LogInodeUpdate) Bytes() []byte {
	tail := len(u.InlineData)
	if u.DbSize != 0 {
		tail = len(u.Extents) * ExtentSize
	}
	data := make([]byte, LogInodeUpdateHeaderSize+tail)
	copy(data[0:LogEntrySize], u.Log.bytes())
	b := data[LogEntrySize:]
	binary.BigEndian.PutUint32(b[0:4], u.FSID)
	binary.BigEndian.PutUint32(b[4:8], u.Refcount)
	binary.BigEndian.PutUint32(b[8:12], u.TransMaj)
	binary.BigEndian.PutUint32(b[12:16], u.TransMin)
	binary.BigEndian.PutUint32(b[16:20], u.Inode)
	binary.BigEndian.PutUint32(b[20:24], u.Unk3)
	binary.BigEndian.PutUint32(b[24:28], u.Size)
	binary.BigEndian.PutUint32(b[28:32], u.BlockSize)
	binary.BigEndian.PutUint32(b[32:36], u.BlockUsed)
	binary.BigEndian.PutUint32(b[36:40], u.LastModified)
	b[40] = u.Type
	b[41] = u.Unk6
	binary.BigEndian.PutUint16(b[42:44], u.Beef)
	binary.BigEndian.PutUint32(b[44:48], u.Unk2)
	binary.BigEndian.PutUint32(b[48:52], u.DbSize)

	rest := b[52:]
	if u.DbSize == 0 {
		copy(rest, u.InlineData)
		return data
	}
	for i, e := range u.Extents {
		off := i * ExtentSize
		binary.BigEndian.PutUint32(rest[off:off+4], e.Sector)
		binary.BigEndian.PutUint32(rest[off+4:off+8], e.Count)
	}
	return data
}
