// Package translog implements the transaction log: a small ring buffer
// of sectors recording redo entries for in-flight zone map and inode
// mutations, so a crash mid-write can be detected (and, given a replay
// step built on top of these primitives, rolled forward) rather than
// silently corrupting the volume.
//
// Grounded on original_source/lib/log.c, small enough in the original
// (under 1.3kB) to port directly rather than loosely adapt.
package translog

import (
	"github.com/thessio/mfstools-go/internal/crc"
	"github.com/thessio/mfstools-go/internal/errors"
	"github.com/thessio/mfstools-go/internal/mfs"
	"github.com/thessio/mfstools-go/internal/types"
)

// crcOffset is the Crc field's byte offset within a log_hdr sector.
const crcOffset = 4

// Ring is the transaction log's ring buffer: lognsectors consecutive
// sectors starting at logstart, addressed by logstamp modulo its size.
type Ring struct {
	handle *mfs.Handle
}

// Open binds a Ring to an already-open volume handle.
func Open(h *mfs.Handle) *Ring {
	return &Ring{handle: h}
}

// LastSync returns the volume header's own logstamp: the last
// transaction the live filesystem structures are known to be
// consistent through, per mfs_log_last_sync.
func (r *Ring) LastSync() uint32 {
	return uint32(r.handle.VolumeHeader().VolHdrLogStamp())
}

func (r *Ring) slot(logstamp uint32) uint64 {
	hdr := r.handle.VolumeHeader()
	n := hdr.LogNSectors()
	if n == 0 {
		return hdr.LogStart()
	}
	return uint64(logstamp%n) + hdr.LogStart()
}

// Read loads the ring slot a logstamp maps to. ok is false with a nil
// error when the sector's own stamp doesn't match the one requested —
// mfs_log_read's "this logstamp was never written (or was since
// overwritten by ring wraparound)" case, which is not a failure.
func (r *Ring) Read(logstamp uint32) (hdr types.LogHdr, raw []byte, ok bool, err error) {
	raw, err = r.handle.VolumeSet.ReadSectors(r.slot(logstamp), 1)
	if err != nil {
		return types.LogHdr{}, nil, false, errors.E(errors.Io, "translog.Read", err, logstamp)
	}
	hdr = types.ParseLogHdr(raw)
	if hdr.LogStamp != logstamp {
		return types.LogHdr{}, nil, false, nil
	}
	if !crc.Check(raw, crcOffset) {
		return types.LogHdr{}, nil, false, errors.E(errors.Corrupt, "translog.Read", nil, "log sector checksum mismatch", logstamp)
	}
	return hdr, raw, true, nil
}

// Write stamps buf's checksum (overwriting whatever placeholder is
// there) and writes it to the ring slot its own LogStamp field
// selects, per mfs_log_write.
func (r *Ring) Write(buf []byte) error {
	hdr := types.ParseLogHdr(buf)
	crc.Update(buf, crcOffset)
	if err := r.handle.VolumeSet.WriteSectors(r.slot(hdr.LogStamp), buf); err != nil {
		return errors.E(errors.Io, "translog.Write", err, hdr.LogStamp)
	}
	return nil
}

// BuildSector packs one or more already-serialized log records (each
// starting with a log_entry header, e.g. from LogMapUpdate.Bytes or
// LogInodeUpdate.Bytes) into a single ring sector for the given
// logstamp, filling in the header's first/size span.
func BuildSector(logstamp uint32, records ...[]byte) []byte {
	data := make([]byte, types.SectorSize)
	off := types.LogHdrSize
	for _, rec := range records {
		copy(data[off:], rec)
		off += len(rec)
	}
	hdr := types.LogHdr{LogStamp: logstamp, First: types.LogHdrSize, Size: uint32(off - types.LogHdrSize)}
	copy(data[:types.LogHdrSize], hdr.Bytes())
	return data
}

// Records splits a validated log sector back into its individual
// serialized records, using each one's common log_entry.Length to find
// the next record's start. Malformed trailing data (a length that
// would run past the sector or the declared span) stops the scan
// rather than erroring — a torn write at the tail of the ring is exactly
// the case a transaction log exists to tolerate.
func Records(hdr types.LogHdr, raw []byte) [][]byte {
	var out [][]byte
	off := int(hdr.First)
	end := int(hdr.First + hdr.Size)
	if end > len(raw) {
		end = len(raw)
	}
	for off+types.LogEntrySize <= end {
		e := types.ParseLogEntry(raw[off : off+types.LogEntrySize])
		length := int(e.Length)
		if length < types.LogEntrySize || off+length > end {
			break
		}
		out = append(out, raw[off:off+length])
		off += length
	}
	return out
}
