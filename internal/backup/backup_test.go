package backup

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thessio/mfstools-go/internal/crc"
	"github.com/thessio/mfstools-go/internal/types"
	"github.com/thessio/mfstools-go/pkg/app"
)

func TestHeadRoundTrip(t *testing.T) {
	h := Head{Magic: TBMagic, Flags: FlagCompressed, NSectors: 100, NParts: 3, NBlocks: 5, MFSPairs: 2}
	got := ParseHead(h.Bytes())
	require.Equal(t, h, got)
}

func TestCompLevel(t *testing.T) {
	flags := SetCompLevel(6)
	require.NotZero(t, flags&FlagCompressed, "SetCompLevel did not set FlagCompressed")
	require.Equal(t, uint32(6), CompLevel(flags))
}

func TestMergeRunsOverlapAndAdjacency(t *testing.T) {
	runs := []run{
		{10, 20},
		{15, 25}, // overlaps the first
		{25, 30}, // adjacent to the merged run
		{100, 110},
	}
	blocks := mergeRuns(runs)
	want := []Block{
		{FirstSector: 10, Sectors: 20},
		{FirstSector: 100, Sectors: 10},
	}
	require.Equal(t, want, blocks)
}

// memSource is a minimal sectorSource backed by a flat in-memory buffer.
type memSource struct{ data []byte }

func (m *memSource) ReadSectors(sector uint64, count uint32) ([]byte, error) {
	off := sector * types.SectorSize
	n := uint64(count) * types.SectorSize
	return m.data[off : off+n], nil
}

func TestProducerEmitsWellFormedTrailer(t *testing.T) {
	boot := make([]byte, types.SectorSize)
	boot[0] = 0xAA

	vs := &memSource{data: make([]byte, 4*types.SectorSize)}
	for i := range vs.data {
		vs.data[i] = byte(i)
	}
	blocks := []Block{{FirstSector: 0, Sectors: 4}}

	p, err := NewProducer(nil, nil, nil, blocks, vs, boot, Options{Threshold: 2000})
	require.NoError(t, err)

	all, err := io.ReadAll(readerFunc(p.Read))
	require.NoError(t, err)

	// header(1) + records(padded to 1 sector, since nparts/nblocks/mfsparts
	// are tiny) + boot(1) + block data(4) + trailer(1) = 8 sectors.
	wantSectors := 8
	require.Len(t, all, wantSectors*types.SectorSize)

	head := ParseHead(all[:types.SectorSize])
	require.Equal(t, TBMagic, head.Magic)
	require.Equal(t, uint32(1), head.NBlocks)

	// Verify the trailer: CRC of the whole stream (data + its own
	// trailer) must equal the fixed residual.
	running := crc.NewRunning()
	running.Write(all)
	require.Equal(t, crc.Residual, running.Sum())
}

func TestProducerReportsProgressViaContext(t *testing.T) {
	boot := make([]byte, types.SectorSize)
	vs := &memSource{data: make([]byte, 4*types.SectorSize)}
	blocks := []Block{{FirstSector: 0, Sectors: 4}}

	var percents []int
	ctx := app.NewContext()
	ctx.SetProgress(func(_ string, percent int) {
		percents = append(percents, percent)
	})

	p, err := NewProducer(ctx, nil, nil, blocks, vs, boot, Options{Threshold: 2000})
	require.NoError(t, err)

	_, err = io.ReadAll(readerFunc(p.Read))
	require.NoError(t, err)

	require.NotEmpty(t, percents)
	require.Equal(t, 100, percents[len(percents)-1])
}

// readerFunc adapts a Read method value to io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
