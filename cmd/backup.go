package cmd

import (
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
	"github.com/thessio/mfstools-go/internal/volumeset"
	"github.com/thessio/mfstools-go/internal/zonemap"
)

// mfsPartitionType is the Apple Partition Map entry type TiVo uses for
// both halves of an MFS pair.
const mfsPartitionType = "MFS"

var (
	backupOutput     string
	backupThreshold  uint32
	backupCompress   bool
	backupCompLevel  uint32
	backupMFSOnly    bool
	backupStreamTot  bool
	backupThreshTot  bool
	backupShrink     bool
)

var backupCmd = &cobra.Command{
	Use:   "backup <drive> [drive-b]",
	Short: "Stream an MFS partition pair to a backup file",
	Long: `backup opens one or two TiVo drives, locates their MFS partitions,
and streams a self-describing backup image built from the stream
inodes under --threshold plus every MFS volume's structural sectors.

Examples:
  mfstools backup /dev/sda --output tivo.bak
  mfstools backup /dev/sda /dev/sdb --output tivo.bak --compress`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(args)
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "f", "-", "backup destination (\"-\" for stdout)")
	backupCmd.Flags().Uint32Var(&backupThreshold, "threshold", 0, "stream-inode size cutoff, in sectors (0 uses the config default)")
	backupCmd.Flags().BoolVar(&backupCompress, "compress", false, "deflate the backup stream after its first sector")
	backupCmd.Flags().Uint32Var(&backupCompLevel, "level", 0, "deflate level, 1-9 (0 uses the config default)")
	backupCmd.Flags().BoolVar(&backupMFSOnly, "mfs-only", false, "back up only the MFS volume, skipping other partitions")
	backupCmd.Flags().BoolVar(&backupStreamTot, "stream-total", false, "back up each selected stream's total allocation rather than only its used blocks")
	backupCmd.Flags().BoolVar(&backupThreshTot, "thresh-total", false, "compare each stream's total allocation, rather than its used size, against --threshold")
	backupCmd.Flags().BoolVar(&backupShrink, "shrink", false, "omit media beyond the highest referenced sector, for restoring onto a smaller drive")
}

func runBackup(drivePaths []string) error {
	ctx := newRunContext()

	devices := make([]*blockdev.FileDevice, 0, len(drivePaths))
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	vs := volumeset.New()
	var rawParts []backup.PartitionSource
	var mfsParts []backup.Partition

	for _, path := range drivePaths {
		dev, err := blockdev.OpenFile(path, false)
		if err != nil {
			return err
		}
		devices = append(devices, dev)

		pt, err := apm.Open(dev)
		if err != nil {
			return err
		}

		order := endian.BigEndian
		if pt.IsWide() {
			order = endian.LittleEndian
		}

		for _, p := range pt.All() {
			view := &partitionView{dev: dev, startSector: p.StartBlock, sectors: p.BlockCount}
			if p.Type == mfsPartitionType {
				vs.AddMember(view, order, true)
				mfsParts = append(mfsParts, backup.Partition{Sectors: uint32(p.BlockCount), PartNo: uint8(p.Index)})
				continue
			}
			if backupMFSOnly {
				continue
			}
			rawParts = append(rawParts, backup.PartitionSource{
				Partition: backup.Partition{Sectors: uint32(p.BlockCount), PartNo: uint8(p.Index)},
				Dev:       view,
			})
		}
	}

	handle, err := mfs.Open(vs, mfs.ReadOnly)
	if err != nil {
		return err
	}

	zones, err := zonemap.Load(vs, handle.VolumeHeader().ZoneMap())
	if err != nil {
		return err
	}
	table := inode.NewTable(handle, zones)

	threshold := backupThreshold
	if threshold == 0 && runConfig != nil {
		threshold = runConfig.Threshold
	}

	opt := backup.Options{Threshold: threshold}
	if backupMFSOnly {
		opt.Flags |= backup.FlagMFSOnly
	}
	if backupStreamTot {
		opt.Flags |= backup.FlagStreamTot
	}
	if backupThreshTot {
		opt.Flags |= backup.FlagThreshTot
	}
	if backupShrink {
		opt.Flags |= backup.FlagShrink
	}

	blocks, _, _, err := backup.ScanInodes(table, vs, opt)
	if err != nil {
		return err
	}

	boot, err := vs.ReadSectors(0, 1)
	if err != nil {
		return err
	}

	producer, err := backup.NewProducer(ctx, rawParts, mfsParts, blocks, vs, boot, opt)
	if err != nil {
		return err
	}

	var out io.WriteCloser
	if backupOutput == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(backupOutput)
		if err != nil {
			return err
		}
		out = f
	}
	defer out.Close()

	var src io.Reader = producer
	if backupCompress {
		level := int(backupCompLevel)
		if level == 0 && runConfig != nil {
			level = int(runConfig.CompressionLevel)
		}
		src = compress.NewCompressingReader(producer, level)
	}

	_, err = io.Copy(out, src)
	return err
}

// partitionView narrows a whole-drive blockdev.Device down to one
// partition's sector range, the way FileDevice's own offset field
// narrows an *os.File; built locally because apm.PartitionTable only
// reports partition boundaries, not already-sliced Devices.
type partitionView struct {
	dev         blockdev.Device
	startSector uint64
	sectors     uint64
}

func (v *partitionView) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	return v.dev.ReadSectors(v.startSector+sector, count)
}

func (v *partitionView) WriteSectors(sector uint64, data []byte) error {
	return v.dev.WriteSectors(v.startSector+sector, data)
}

func (v *partitionView) SectorCount() uint64 { return v.sectors }

func (v *partitionView) Close() error { return nil }
