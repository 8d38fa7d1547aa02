// Package crc implements the DVR storage stack's CRC-32 variant: a
// standard IEEE polynomial CRC with the checksummed field itself
// substituted by a fixed magic marker while the CRC is computed, and
// the initial/final state XORed with 0xFFFFFFFF so that a block
// followed by its own residual reads back as Residual.
//
// Grounded on original_source/include/util.h (mfs_compute_crc,
// mfs_check_crc, mfs_update_crc) and lib/readwrite.c.
package crc

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic is substituted into the 4-byte checksum field while computing
// or verifying a CRC over a block that embeds its own checksum.
const Magic uint32 = 0xDEADF00D

// Residual is the fixed value a correctly checksummed block evaluates
// to when the CRC is computed over the whole block including its own
// trailing checksum value.
const Residual uint32 = 0xdebb20e3

var table = crc32.MakeTable(crc32.IEEE)

// Compute returns the CRC-32 of data, with the 4 bytes at byte offset
// off substituted by Magic for the duration of the computation. The
// original contents of data are left untouched.
func Compute(data []byte, off int) uint32 {
	saved := [4]byte{}
	copy(saved[:], data[off:off+4])
	binary.BigEndian.PutUint32(data[off:off+4], Magic)
	sum := crc32.Checksum(data, table)
	copy(data[off:off+4], saved[:])
	return sum
}

// Check reports whether the 32-bit big-endian value stored at byte
// offset off within data is a valid CRC of the block (per Compute).
func Check(data []byte, off int) bool {
	want := binary.BigEndian.Uint32(data[off : off+4])
	return Compute(data, off) == want
}

// Update computes the CRC of data (per Compute) and writes it into the
// 4-byte field at offset off, big-endian.
func Update(data []byte, off int) {
	sum := Compute(data, off)
	binary.BigEndian.PutUint32(data[off:off+4], sum)
}

// Running accumulates a CRC-32 across successive chunks of a backup or
// restore stream, used to seal and verify the stream trailer (§4.7,
// §4.8). It keeps the raw CRC register, seeded with 0xFFFFFFFF and
// never post-inverted. Unlike Compute it performs no magic-marker
// substitution — the trailer's own 4 bytes are simply folded into the
// running register, which is why a correct stream's full CRC (data +
// its own trailer) equals Residual.
type Running struct {
	crc uint32
}

// NewRunning returns a fresh running CRC accumulator, its register
// seeded with 0xFFFFFFFF.
func NewRunning() *Running {
	return &Running{crc: 0xFFFFFFFF}
}

// Write folds p into the running CRC. It never returns an error.
func (r *Running) Write(p []byte) (int, error) {
	r.crc = ^crc32.Update(^r.crc, table, p)
	return len(p), nil
}

// Sum returns the raw CRC register over everything written so far,
// without the final inversion.
func (r *Running) Sum() uint32 {
	return r.crc
}

// Trailer returns the ones-complement of the running CRC register, the
// value written little-endian into the last 4 bytes of a backup
// stream's final sector.
func (r *Running) Trailer() uint32 {
	return ^r.crc
}
