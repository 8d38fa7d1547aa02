package restore

import (
	"github.com/thessio/mfstools-go/internal/backup"
	"github.com/thessio/mfstools-go/internal/errors"
)

// maxPartitionsPerDrive mirrors restore.c's TryDev limit on how many
// MFS partitions a single drive's APM can carry.
const maxPartitionsPerDrive = 16

// Layout is the result of PlanLayout: which recorded MFS partitions
// (by index into HeaderInfo.MFSParts) land on each destination drive.
type Layout struct {
	DriveA []int
	DriveB []int
}

// PlanLayout is the TryDev equivalent (spec.md §4.8 step 4): given the
// MFS partitions recorded in the header and the free space available
// on one or two destination drives, find an assignment of partitions
// to drives that fits, preferring (per balance) either to minimize
// leftover space on the first drive or to leave both drives' free
// space as close to equal as possible.
//
// Grounded on original_source/restore/restore.c's restore_trydev,
// which enumerates every 2-way split of the MFS partition set by
// walking the low bits of an increasing integer mask — the same
// brute-force shape is used here, since the partition counts involved
// (a handful per drive, capped at maxPartitionsPerDrive) make the full
// 2^n enumeration cheap and exact rather than needing a heuristic.
func PlanLayout(mfsParts []backup.Partition, freeA, freeB uint64, balance bool) (Layout, error) {
	n := len(mfsParts)
	if n > 30 {
		return Layout{}, errors.E(errors.InternalState, "restore.PlanLayout", nil, "too many MFS partitions to enumerate a layout")
	}

	if freeB == 0 {
		var total uint64
		idx := make([]int, n)
		for i, p := range mfsParts {
			total += uint64(p.Sectors)
			idx[i] = i
		}
		if total > freeA || n > maxPartitionsPerDrive {
			return Layout{}, errors.E(errors.Corrupt, "restore.PlanLayout", nil, "insufficient space on destination drive")
		}
		return Layout{DriveA: idx}, nil
	}

	found := false
	var bestScore uint64
	var bestA, bestB []int
	for mask := 0; mask < (1 << uint(n)); mask++ {
		var sizeA, sizeB uint64
		var idxA, idxB []int
		for i, p := range mfsParts {
			if mask&(1<<uint(i)) != 0 {
				sizeB += uint64(p.Sectors)
				idxB = append(idxB, i)
			} else {
				sizeA += uint64(p.Sectors)
				idxA = append(idxA, i)
			}
		}
		if sizeA > freeA || sizeB > freeB {
			continue
		}
		if len(idxA) > maxPartitionsPerDrive || len(idxB) > maxPartitionsPerDrive {
			continue
		}

		var score uint64
		if balance {
			leftA, leftB := freeA-sizeA, freeB-sizeB
			if leftA > leftB {
				score = leftA - leftB
			} else {
				score = leftB - leftA
			}
		} else {
			score = freeA - sizeA
		}

		if !found || score < bestScore {
			found = true
			bestScore = score
			bestA, bestB = idxA, idxB
		}
	}

	if !found {
		return Layout{}, errors.E(errors.Corrupt, "restore.PlanLayout", nil, "no partition split fits the available drives")
	}
	return Layout{DriveA: bestA, DriveB: bestB}, nil
}
