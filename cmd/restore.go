package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thessio/mfstools-go/internal/apm"
	"github.com/thessio/mfstools-go/internal/backup"
	"github.com/thessio/mfstools-go/internal/blockdev"
	"github.com/thessio/mfstools-go/internal/compress"
	"github.com/thessio/mfstools-go/internal/endian"
	"github.com/thessio/mfstools-go/internal/inode"
	"github.com/thessio/mfstools-go/internal/mfs"
	"github.com/thessio/mfstools-go/internal/restore"
	"github.com/thessio/mfstools-go/internal/translog"
	"github.com/thessio/mfstools-go/internal/volumeset"
	"github.com/thessio/mfstools-go/internal/zonemap"
	"github.com/thessio/mfstools-go/pkg/app"
)

var (
	restoreInput      string
	restoreDriveA     string
	restoreDriveB     string
	restoreBalance    bool
	restoreDecompress bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup stream onto one or two drives",
	Long: `restore parses a backup stream's header, plans which of its MFS
partitions land on which destination drive, carves matching partitions
into each drive's partition map, then streams the partition and block
data back into place.

Examples:
  mfstools restore --input tivo.bak --drive-a /dev/sda
  mfstools restore --input tivo.bak --drive-a /dev/sda --drive-b /dev/sdb --balance`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore()
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&restoreInput, "input", "f", "-", "backup stream source (\"-\" for stdin)")
	restoreCmd.Flags().StringVar(&restoreDriveA, "drive-a", "", "first destination drive (required)")
	restoreCmd.Flags().StringVar(&restoreDriveB, "drive-b", "", "second destination drive, for splitting across two disks")
	restoreCmd.Flags().BoolVar(&restoreBalance, "balance", false, "balance free space across both drives instead of filling drive A first")
	restoreCmd.Flags().BoolVar(&restoreDecompress, "decompress", false, "force inflate, overriding the stream's own compressed flag")
	restoreCmd.MarkFlagRequired("drive-a")
}

func runRestore() error {
	ctx := newRunContext()

	var in io.Reader
	if restoreInput == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(restoreInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	devA, err := blockdev.OpenFile(restoreDriveA, true)
	if err != nil {
		return err
	}
	defer devA.Close()
	ptA, err := apm.Open(devA)
	if err != nil {
		return err
	}

	var devB *blockdev.FileDevice
	var ptB *apm.PartitionTable
	if restoreDriveB != "" {
		devB, err = blockdev.OpenFile(restoreDriveB, true)
		if err != nil {
			return err
		}
		defer devB.Close()
		ptB, err = apm.Open(devB)
		if err != nil {
			return err
		}
	}

	c := restore.NewConsumer(ctx)
	info, err := c.ParseHeader(in)
	if err != nil {
		return err
	}

	body := in
	if restoreDecompress || info.Flags&backup.FlagCompressed != 0 {
		body = compress.NewBodyDecompressor(in)
	}

	boot, err := c.ReadBoot(body)
	if err != nil {
		return err
	}

	freeB := uint64(0)
	if ptB != nil {
		freeB = ptB.TotalFree()
	}
	targetA := app.DriveTarget{DevicePath: restoreDriveA, FreeSectors: ptA.TotalFree()}
	if err := targetA.Validate(); err != nil {
		return err
	}

	layout, err := restore.PlanLayout(info.MFSParts, targetA.FreeSectors, freeB, restoreBalance)
	if err != nil {
		return err
	}

	partDests := make([]restore.PartitionDest, len(info.Parts))
	for i, p := range info.Parts {
		idx, err := ptA.Add(uint64(p.Sectors), fmt.Sprintf("raw-%d", i), "Apple_Free")
		if err != nil {
			return err
		}
		phys, err := ptA.Partition(idx)
		if err != nil {
			return err
		}
		partDests[i] = restore.PartitionDest{
			Partition: p,
			Dev:       &partitionView{dev: devA, startSector: phys.StartBlock, sectors: phys.BlockCount},
		}
	}

	vs := volumeset.New()
	if err := addMFSMembers(vs, ptA, devA, info.MFSParts, layout.DriveA); err != nil {
		return err
	}
	if ptB != nil {
		if err := addMFSMembers(vs, ptB, devB, info.MFSParts, layout.DriveB); err != nil {
			return err
		}
	}

	if err := c.WriteData(body, partDests, vs); err != nil {
		return err
	}
	if err := vs.WriteSectors(0, boot); err != nil {
		return err
	}

	if info.Flags&backup.FlagShrink != 0 {
		if err := shrinkToFit(vs); err != nil {
			return err
		}
	}

	return c.VerifyTrailer(body)
}

// shrinkToFit mirrors original_source's restore_fudge_inodes and
// restore_fudge_log: once the MFS volume set has been carved down to
// whatever drive space the layout gave it, drop inode extents and
// transaction log records that now point past the set's actual size.
func shrinkToFit(vs *volumeset.VolumeSet) error {
	handle, err := mfs.Open(vs, mfs.ReadWrite)
	if err != nil {
		return err
	}
	zones, err := zonemap.Load(vs, handle.VolumeHeader().ZoneMap())
	if err != nil {
		return err
	}
	table := inode.NewTable(handle, zones)
	newTotal := vs.TotalSectors()
	if _, err := restore.ShrinkInodes(table, newTotal); err != nil {
		return err
	}
	if err := zones.TruncateAfter(newTotal); err != nil {
		return err
	}
	return fudgeLog(handle, newTotal)
}

// fudgeLog walks every slot of the transaction log ring, rewriting any
// sector whose records restore.FudgeLogRecords had to drop or
// truncate.
func fudgeLog(handle *mfs.Handle, newTotal uint64) error {
	n := handle.VolumeHeader().LogNSectors()
	if n == 0 {
		return nil
	}
	ring := translog.Open(handle)
	last := ring.LastSync()
	for i := uint32(0); i < n; i++ {
		stamp := last - n + 1 + i
		hdr, raw, ok, err := ring.Read(stamp)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		records := translog.Records(hdr, raw)
		fudged := restore.FudgeLogRecords(records, newTotal)
		if len(fudged) == len(records) {
			continue
		}
		if err := ring.Write(translog.BuildSector(stamp, fudged...)); err != nil {
			return err
		}
	}
	return nil
}

// addMFSMembers carves a partition for each MFS part assigned to pt's
// drive (by index into mfsParts) and registers it as a volumeset
// member, in recorded order.
func addMFSMembers(vs *volumeset.VolumeSet, pt *apm.PartitionTable, dev *blockdev.FileDevice, mfsParts []backup.Partition, indices []int) error {
	order := endian.BigEndian
	if pt.IsWide() {
		order = endian.LittleEndian
	}
	for _, idx := range indices {
		p := mfsParts[idx]
		slot, err := pt.Add(uint64(p.Sectors), "MFS media", mfsPartitionType)
		if err != nil {
			return err
		}
		phys, err := pt.Partition(slot)
		if err != nil {
			return err
		}
		view := &partitionView{dev: dev, startSector: phys.StartBlock, sectors: phys.BlockCount}
		vs.AddMember(view, order, false)
	}
	return nil
}
