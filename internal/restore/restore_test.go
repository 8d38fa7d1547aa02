package restore

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thessio/mfstools-go/internal/backup"
	"github.com/thessio/mfstools-go/internal/types"
	"github.com/thessio/mfstools-go/pkg/app"
)

// buildStream assembles a minimal well-formed backup stream by driving
// backup.Producer, so restore tests exercise the real wire format
// rather than a hand-built fixture.
func buildStream(t *testing.T, blocks []backup.Block, vs interface {
	ReadSectors(sector uint64, count uint32) ([]byte, error)
}, boot []byte, flags uint32) []byte {
	t.Helper()
	p, err := backup.NewProducer(nil, nil, nil, blocks, vs, boot, backup.Options{Threshold: 2000, Flags: flags})
	require.NoError(t, err)
	all, err := io.ReadAll(readerFunc(p.Read))
	require.NoError(t, err)
	return all
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type memSource struct{ data []byte }

func (m *memSource) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	off := sector * types.SectorSize
	n := uint64(count) * types.SectorSize
	return m.data[off : off+n], nil
}

func (m *memSource) WriteSectors(sector uint64, data []byte) error {
	off := sector * types.SectorSize
	copy(m.data[off:], data)
	return nil
}

func TestConsumerRoundTripsProducerStream(t *testing.T) {
	boot := make([]byte, types.SectorSize)
	boot[0] = 0x11

	src := &memSource{data: make([]byte, 4*types.SectorSize)}
	for i := range src.data {
		src.data[i] = byte(i * 3)
	}
	blocks := []backup.Block{{FirstSector: 0, Sectors: 4}}

	stream := buildStream(t, blocks, src, boot, backup.FlagMFSOnly)

	r := bytes.NewReader(stream)
	c := NewConsumer(nil)

	info, err := c.ParseHeader(r)
	require.NoError(t, err)
	require.False(t, info.Swapped, "native-order stream misdetected as swapped")
	require.Len(t, info.Blocks, 1)
	require.Equal(t, uint32(4), info.Blocks[0].Sectors)
	require.NotZero(t, info.Flags&backup.FlagMFSOnly, "flags lost across header parse")

	gotBoot, err := c.ReadBoot(r)
	require.NoError(t, err)
	require.Equal(t, boot, gotBoot)

	dst := &memSource{data: make([]byte, 4*types.SectorSize)}
	require.NoError(t, c.WriteData(r, nil, dst))
	require.Equal(t, src.data, dst.data, "restored block data mismatch")

	require.NoError(t, c.VerifyTrailer(r))
}

func TestConsumerReportsProgressViaContext(t *testing.T) {
	boot := make([]byte, types.SectorSize)
	src := &memSource{data: make([]byte, 4*types.SectorSize)}
	blocks := []backup.Block{{FirstSector: 0, Sectors: 4}}
	stream := buildStream(t, blocks, src, boot, 0)

	var percents []int
	ctx := app.NewContext()
	ctx.SetProgress(func(_ string, percent int) {
		percents = append(percents, percent)
	})

	r := bytes.NewReader(stream)
	c := NewConsumer(ctx)
	_, err := c.ParseHeader(r)
	require.NoError(t, err)
	_, err = c.ReadBoot(r)
	require.NoError(t, err)

	dst := &memSource{data: make([]byte, 4*types.SectorSize)}
	require.NoError(t, c.WriteData(r, nil, dst))

	require.NotEmpty(t, percents)
	require.Equal(t, 100, percents[len(percents)-1])
}

func TestParseHeaderRejectsUnknownMagic(t *testing.T) {
	garbage := make([]byte, types.SectorSize)
	garbage[0] = 0xFF
	c := NewConsumer(nil)
	_, err := c.ParseHeader(bytes.NewReader(garbage))
	require.Error(t, err, "expected an error for an unrecognized magic")
}

func TestSwap32Block(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	swap32Block(in)
	want := []byte{0x04, 0x03, 0x02, 0x01, 0xDD, 0xCC, 0xBB, 0xAA}
	require.Equal(t, want, in)
}

func TestPlanLayoutSingleDrive(t *testing.T) {
	parts := []backup.Partition{{Sectors: 100}, {Sectors: 200}}
	layout, err := PlanLayout(parts, 1000, 0, false)
	require.NoError(t, err)
	require.Len(t, layout.DriveA, 2)
	require.Empty(t, layout.DriveB)
}

func TestPlanLayoutTwoDrivesSplits(t *testing.T) {
	parts := []backup.Partition{{Sectors: 300}, {Sectors: 300}, {Sectors: 300}}
	layout, err := PlanLayout(parts, 350, 650, true)
	require.NoError(t, err)
	total := len(layout.DriveA) + len(layout.DriveB)
	require.Equal(t, len(parts), total, "layout dropped partitions")
	var sizeA uint64
	for _, i := range layout.DriveA {
		sizeA += uint64(parts[i].Sectors)
	}
	require.LessOrEqual(t, sizeA, uint64(350), "drive A overcommitted")
}

func TestPlanLayoutInfeasible(t *testing.T) {
	parts := []backup.Partition{{Sectors: 1000}}
	_, err := PlanLayout(parts, 10, 10, false)
	require.Error(t, err, "expected an error when no drive has enough free space")
}
