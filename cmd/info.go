package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thessio/mfstools-go/internal/apm"
	"github.com/thessio/mfstools-go/internal/blockdev"
	"github.com/thessio/mfstools-go/internal/endian"
	"github.com/thessio/mfstools-go/internal/mfs"
	"github.com/thessio/mfstools-go/internal/report"
	"github.com/thessio/mfstools-go/internal/restore"
	"github.com/thessio/mfstools-go/internal/volumeset"
	"github.com/thessio/mfstools-go/internal/zonemap"
)

var infoIsBackupFile bool

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Print a backup stream's or volume's header and zone map",
	Long: `info dumps a human-readable summary: by default the MFS volume
header and zone map found on the given drive, or (with --backup-file)
the header of a backup stream produced by the backup subcommand.

Examples:
  mfstools info /dev/sda
  mfstools info --backup-file tivo.bak`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if infoIsBackupFile {
			return runInfoBackupFile(args[0])
		}
		return runInfoVolume(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoIsBackupFile, "backup-file", false, "treat the argument as a backup stream file rather than a drive")
}

func runInfoBackupFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := newRunContext()
	c := restore.NewConsumer(ctx)
	info, err := c.ParseHeader(f)
	if err != nil {
		return err
	}
	return report.WriteBackupHead(os.Stdout, info.Head.NSectors, info.Head.NParts, info.Head.NBlocks, info.Head.MFSPairs, info.Flags)
}

func runInfoVolume(path string) error {
	dev, err := blockdev.OpenFile(path, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	pt, err := apm.Open(dev)
	if err != nil {
		return err
	}

	order := endian.BigEndian
	if pt.IsWide() {
		order = endian.LittleEndian
	}

	vs := volumeset.New()
	for _, p := range pt.All() {
		if p.Type != mfsPartitionType {
			continue
		}
		view := &partitionView{dev: dev, startSector: p.StartBlock, sectors: p.BlockCount}
		vs.AddMember(view, order, true)
	}
	if vs.TotalSectors() == 0 {
		return fmt.Errorf("no MFS partitions found on %s", path)
	}

	handle, err := mfs.Open(vs, mfs.ReadOnly)
	if err != nil {
		return err
	}
	zones, err := zonemap.Load(vs, handle.VolumeHeader().ZoneMap())
	if err != nil {
		return err
	}

	ctx := newRunContext()
	return report.WriteVolume(os.Stdout, report.VolumeSummary{
		RunID:       ctx.RunID,
		Header:      handle.VolumeHeader(),
		Zones:       zones,
		LogicalPath: path,
	})
}
