package backup

import (
	"sort"

	"github.com/thessio/mfstools-go/internal/inode"
	"github.com/thessio/mfstools-go/internal/types"
	"github.com/thessio/mfstools-go/internal/volumeset"
)

// run is a half-open [start, end) sector interval awaiting merge.
type run struct{ start, end uint64 }

// ScanInodes walks every inode and every MFS volume member to build
// the coalesced, non-overlapping list of sector runs a backup should
// include, along with the highest sector any stream extent reached
// (used by FlagShrink) and, when FlagShrink is set, how many whole MFS
// volumes were visited (0 otherwise).
//
// Grounded on original_source/backup/backup.c's scan_inodes: stream
// inodes under the threshold contribute their extents (clipped to the
// backed-up byte count); non-stream inodes need no special handling
// because their data lives inside the whole-volume "apps" runs already
// added below. original_source's backup_add_block maintains this same
// invariant — a sorted list of non-overlapping backed-up runs — via an
// explicit linked list with in-place splits; sorting then merging a
// flat slice of runs after the fact produces the identical result and
// is the idiomatic Go shape for it.
func ScanInodes(table *inode.Table, vs *volumeset.VolumeSet, opt Options) (blocks []Block, highest uint64, nmfsVisited int, err error) {
	var runs []run
	count := table.Count()
	for i := uint32(0); i < count; i++ {
		n, rerr := table.Read(i)
		if rerr != nil {
			continue
		}
		if n.Type != uint8(types.FsidTypeStream) {
			continue
		}

		used := uint64(n.BlockSize) / types.SectorSize * uint64(n.BlockUsed)
		total := uint64(n.Size) / types.SectorSize
		eligible := used
		if opt.Flags&FlagThreshTot != 0 {
			eligible = total
		}
		if eligible == 0 || eligible >= uint64(opt.Threshold) {
			continue
		}
		remaining := used
		if opt.Flags&FlagStreamTot != 0 {
			remaining = total
		}

		for _, ext := range n.Extents {
			if remaining == 0 {
				break
			}
			c := uint64(ext.Count)
			if c > remaining {
				c = remaining
			}
			runs = append(runs, run{uint64(ext.Sector), uint64(ext.Sector) + c})
			if uint64(ext.Sector)+c > highest {
				highest = uint64(ext.Sector) + c
			}
			remaining -= c
		}
	}

	// Whole volumes: alternating "apps" (backed up wholesale) and
	// "media" (left out unless already covered by a stream extent
	// above) slots, per scan_inodes's loop3 toggle.
	var sector uint64
	backupThis := true
	for {
		sz := vs.VolumeSize(sector)
		if sz == 0 {
			break
		}
		if backupThis {
			runs = append(runs, run{sector, sector + sz})
		} else if opt.Flags&FlagShrink != 0 && sector >= highest {
			break
		}
		if opt.Flags&FlagShrink != 0 {
			nmfsVisited++
		}
		sector += sz
		backupThis = !backupThis
	}

	return mergeRuns(runs), highest, nmfsVisited, nil
}

func mergeRuns(runs []run) []Block {
	if len(runs) == 0 {
		return nil
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].start < runs[j].start })
	merged := []run{runs[0]}
	for _, r := range runs[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	blocks := make([]Block, len(merged))
	for i, r := range merged {
		blocks[i] = Block{FirstSector: uint32(r.start), Sectors: uint32(r.end - r.start)}
	}
	return blocks
}
