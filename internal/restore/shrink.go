package restore

import (
	"github.com/thessio/mfstools-go/internal/inode"
	"github.com/thessio/mfstools-go/internal/types"
)

// FudgeLogRecords mirrors original_source/restore/restore.c's
// restore_fudge_log: given the decoded records from one transaction
// log sector, drops any zone-map update referencing a sector at or
// beyond newTotal, and truncates any stream inode update's extent list
// the same way ShrinkInodes truncates the live inode table, so
// replaying the log after a shrink never reaches past the restored
// volume's new size.
func FudgeLogRecords(records [][]byte, newTotal uint64) [][]byte {
	kept := make([][]byte, 0, len(records))
	for _, rec := range records {
		if len(rec) < types.LogEntrySize {
			kept = append(kept, rec)
			continue
		}
		entry := types.ParseLogEntry(rec)
		switch entry.TransType {
		case types.LogTransMapUpdate:
			if len(rec) < types.LogMapUpdateSize {
				kept = append(kept, rec)
				continue
			}
			u := types.ParseLogMapUpdate(rec)
			if uint64(u.Sector) >= newTotal {
				continue
			}
			kept = append(kept, rec)

		case types.LogTransInodeUpdate:
			if len(rec) < types.LogInodeUpdateHeaderSize {
				kept = append(kept, rec)
				continue
			}
			u := types.ParseLogInodeUpdate(rec)
			if u.Type != uint8(types.FsidTypeStream) || u.DbSize == 0 {
				kept = append(kept, rec)
				continue
			}

			filtered := u.Extents[:0:0]
			changed := false
			for _, ext := range u.Extents {
				start := uint64(ext.Sector)
				if start >= newTotal {
					changed = true
					continue
				}
				if end := start + uint64(ext.Count); end > newTotal {
					ext.Count = uint32(newTotal - start)
					changed = true
				}
				filtered = append(filtered, ext)
			}
			if !changed {
				kept = append(kept, rec)
				continue
			}
			u.Extents = filtered
			u.DbSize = uint32(len(filtered))
			kept = append(kept, u.Bytes())

		default:
			kept = append(kept, rec)
		}
	}
	return kept
}

// ShrinkInodes drops any extent (or part of an extent) at or beyond
// newTotal flat sectors from every inode in table, rewriting the
// inode's NumBlocks/Extents and its BlockUsed count to match, and
// returns how many inodes were touched.
//
// Grounded on spec.md §4.8's "Shrink fixups" step and
// original_source/restore/restore.c's final cleanup pass, which walks
// every inode after a restore to a smaller volume set and truncates
// any extent referring to space that no longer exists.
func ShrinkInodes(table *inode.Table, newTotal uint64) (touched int, err error) {
	count := table.Count()
	for i := uint32(0); i < count; i++ {
		n, rerr := table.Read(i)
		if rerr != nil {
			continue
		}
		if n.NumBlocks == 0 || len(n.Extents) == 0 {
			continue
		}

		kept := n.Extents[:0:0]
		dropped := false
		for _, ext := range n.Extents {
			start := uint64(ext.Sector)
			end := start + uint64(ext.Count)
			if start >= newTotal {
				dropped = true
				continue
			}
			if end > newTotal {
				ext.Count = uint32(newTotal - start)
				dropped = true
			}
			kept = append(kept, ext)
		}
		if !dropped {
			continue
		}

		var used uint32
		for _, ext := range kept {
			used += ext.Count
		}
		if n.BlockSize > 0 {
			n.BlockUsed = used / (n.BlockSize / types.SectorSize)
		}
		n.Extents = kept
		n.NumBlocks = uint32(len(kept))
		if err := table.Write(i, n); err != nil {
			return touched, err
		}
		touched++
	}
	return touched, nil
}
