// Package restore implements the RestoreConsumer: the mirror of
// internal/backup's Producer. It parses a backup stream's header and
// packed records, pauses for the caller to plan a partition layout
// (the TryDev step), then streams the boot sector, partition data, and
// MFS block data out to caller-supplied destinations, finally
// verifying the stream's running-CRC trailer.
//
// Grounded on original_source/restore/restore.c (init_restore,
// restore_next_sectors's mirrored emission order and its
// convendian32-based RF_ENDIAN handling). As with internal/backup, the
// original's push-driven restore_write state machine is re-expressed
// as pull-based io.Reader consumption — the natural Go shape for
// something that will in practice be fed by internal/compress's
// inflate pipeline, itself an io.Reader.
package restore

import (
	"encoding/binary"
	"io"

	"github.com/thessio/mfstools-go/internal/backup"
	"github.com/thessio/mfstools-go/internal/blockdev"
	"github.com/thessio/mfstools-go/internal/crc"
	"github.com/thessio/mfstools-go/internal/errors"
	"github.com/thessio/mfstools-go/internal/types"
	"github.com/thessio/mfstools-go/pkg/app"
)

// Restore flags (back_flags high word), grounded on
// original_source/include/backup.h's RF_* constants.
const (
	FlagInitialized uint32 = 0x00010000
	FlagEndian      uint32 = 0x00020000
	FlagNoMoreComp  uint32 = 0x00040000
	FlagZeroPart    uint32 = 0x00080000
	FlagBalance     uint32 = 0x00100000
	FlagNoFill      uint32 = 0x00200000
	FlagMask        uint32 = 0xffff0000
)

// HeaderInfo is the fully parsed, endian-corrected backup header: the
// result of the Begin/InfoPartitions/InfoBlocks/InfoMFSParts/InfoEnd
// states collapsed into a single parse pass.
type HeaderInfo struct {
	Head     backup.Head
	Flags    uint32
	Swapped  bool // true if the stream's magic was TBMagicSwapped
	Parts    []backup.Partition
	Blocks   []backup.Block
	MFSParts []backup.Partition
}

// PartitionDest pairs a recorded raw partition with the already-open,
// already-sized device WriteData should restore it into.
type PartitionDest struct {
	Partition backup.Partition
	Dev       blockdev.Device
}

// sectorWriteTarget is the minimal surface both blockdev.Device and
// *volumeset.VolumeSet satisfy.
type sectorWriteTarget interface {
	WriteSectors(sector uint64, data []byte) error
}

// Consumer drives one restore: ParseHeader, then (after the caller has
// run its own layout planning against HeaderInfo) WriteData, then
// VerifyTrailer.
type Consumer struct {
	ctx     *app.Context
	running *crc.Running
	header  *HeaderInfo

	totalSectors uint64
	copied       uint64
}

// NewConsumer returns a Consumer ready to parse a backup stream. ctx
// carries cancellation and progress reporting for the run, per
// SPEC_FULL §6's NewConsumer(ctx *app.Context, ...) surface; a nil ctx
// runs without either.
func NewConsumer(ctx *app.Context) *Consumer {
	return &Consumer{ctx: ctx, running: crc.NewRunning()}
}

// Header returns the header parsed by ParseHeader, or nil before that
// call completes.
func (c *Consumer) Header() *HeaderInfo { return c.header }

// swap32Block reverses the byte order of every 4-byte word in data,
// mirroring original_source/restore/restore.c's convendian32 applied
// across a whole buffer rather than one field at a time.
func swap32Block(data []byte) {
	for i := 0; i+4 <= len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = data[i+3], data[i+2], data[i+1], data[i]
	}
}

// readFold reads exactly n bytes from r, folding them into the running
// stream CRC exactly as they arrived (before any local un-swapping),
// matching the producer's CRC, which was computed over the bytes as
// emitted.
func (c *Consumer) readFold(r io.Reader, n int) ([]byte, error) {
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	c.running.Write(raw)
	return raw, nil
}

// ParseHeader reads the backup_head sector and the packed
// partition/block/mfspart records that follow it, detecting the
// TBMagic/TBMagicSwapped byte order per restore_next_sectors's switch
// on head->magic.
func (c *Consumer) ParseHeader(r io.Reader) (*HeaderInfo, error) {
	raw, err := c.readFold(r, types.SectorSize)
	if err != nil {
		return nil, errors.E(errors.Io, "restore.ParseHeader", err, "head sector")
	}

	magic := binary.BigEndian.Uint32(raw[0:4])
	var swapped bool
	switch magic {
	case backup.TBMagic:
	case backup.TBMagicSwapped:
		swapped = true
	default:
		return nil, errors.E(errors.FormatMismatch, "restore.ParseHeader", nil, "unknown backup magic")
	}

	headBytes := append([]byte(nil), raw...)
	if swapped {
		swap32Block(headBytes)
	}
	head := backup.ParseHead(headBytes)

	recCount := int(head.NParts) + int(head.NBlocks) + int(head.MFSPairs)
	recBytes := recCount * backup.PartitionRecordSize
	recSectors := (recBytes + types.SectorSize - 1) / types.SectorSize

	var recRaw []byte
	if recSectors > 0 {
		recRaw, err = c.readFold(r, recSectors*types.SectorSize)
		if err != nil {
			return nil, errors.E(errors.Io, "restore.ParseHeader", err, "packed records")
		}
	}
	recParsed := append([]byte(nil), recRaw...)
	if swapped {
		swap32Block(recParsed)
	}

	off := 0
	parts := make([]backup.Partition, head.NParts)
	for i := range parts {
		parts[i] = backup.ParsePartition(recParsed[off : off+backup.PartitionRecordSize])
		off += backup.PartitionRecordSize
	}
	blocks := make([]backup.Block, head.NBlocks)
	for i := range blocks {
		blocks[i] = backup.ParseBlock(recParsed[off : off+backup.BlockRecordSize])
		off += backup.BlockRecordSize
	}
	mfsParts := make([]backup.Partition, head.MFSPairs)
	for i := range mfsParts {
		mfsParts[i] = backup.ParsePartition(recParsed[off : off+backup.PartitionRecordSize])
		off += backup.PartitionRecordSize
	}

	info := &HeaderInfo{
		Head:     head,
		Flags:    head.Flags,
		Swapped:  swapped,
		Parts:    parts,
		Blocks:   blocks,
		MFSParts: mfsParts,
	}
	c.header = info
	return info, nil
}

// ReadBoot reads and returns the 512-byte boot sector that follows the
// header region, folding it into the running CRC.
func (c *Consumer) ReadBoot(r io.Reader) ([]byte, error) {
	boot, err := c.readFold(r, types.SectorSize)
	if err != nil {
		return nil, errors.E(errors.Io, "restore.ReadBoot", err)
	}
	return boot, nil
}

// WriteData streams the raw partition data and MFS block data that
// follow the boot sector, writing each into the caller's chosen
// destinations in the order recorded by ParseHeader. parts must align
// 1:1 with Header().Parts; vs receives every recorded Block.
func (c *Consumer) WriteData(r io.Reader, parts []PartitionDest, vs sectorWriteTarget) error {
	if c.header == nil {
		return errors.E(errors.InternalState, "restore.WriteData", nil, "header not parsed yet")
	}
	if len(parts) != len(c.header.Parts) {
		return errors.E(errors.InternalState, "restore.WriteData", nil, "partition destination count mismatch")
	}

	c.totalSectors = 0
	for _, p := range c.header.Parts {
		c.totalSectors += uint64(p.Sectors)
	}
	for _, b := range c.header.Blocks {
		c.totalSectors += uint64(b.Sectors)
	}

	for i, p := range c.header.Parts {
		if err := c.copySectors(r, parts[i].Dev, 0, uint64(p.Sectors)); err != nil {
			return errors.E(errors.Io, "restore.WriteData", err, "partition", i)
		}
	}
	for _, b := range c.header.Blocks {
		if err := c.copySectors(r, vs, uint64(b.FirstSector), uint64(b.Sectors)); err != nil {
			return errors.E(errors.Io, "restore.WriteData", err, "block", b.FirstSector)
		}
	}
	return nil
}

const copyChunkSectors = 256

func (c *Consumer) copySectors(r io.Reader, dest sectorWriteTarget, startSector, count uint64) error {
	sector := startSector
	remaining := count
	for remaining > 0 {
		if c.ctx != nil && c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		n := remaining
		if n > copyChunkSectors {
			n = copyChunkSectors
		}
		buf := make([]byte, n*types.SectorSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		c.running.Write(buf)
		if err := dest.WriteSectors(sector, buf); err != nil {
			return err
		}
		sector += n
		remaining -= n
		c.copied += n
		c.reportProgress()
	}
	return nil
}

// reportProgress notifies ctx's progress callback, if any, of how many
// of the stream's data sectors have been written so far.
func (c *Consumer) reportProgress() {
	if c.ctx == nil || c.totalSectors == 0 {
		return
	}
	percent := int(c.copied * 100 / c.totalSectors)
	if percent > 100 {
		percent = 100
	}
	c.ctx.Progress("restoring data", percent)
}

// VerifyTrailer reads the stream's final sector and confirms the
// running CRC folded over every byte read so far (header through
// trailer) equals crc.Residual, per spec.md §4.9.
func (c *Consumer) VerifyTrailer(r io.Reader) error {
	if _, err := c.readFold(r, types.SectorSize); err != nil {
		return errors.E(errors.Io, "restore.VerifyTrailer", err)
	}
	if c.running.Sum() != crc.Residual {
		return errors.E(errors.Corrupt, "restore.VerifyTrailer", nil, "backup stream CRC mismatch")
	}
	return nil
}
