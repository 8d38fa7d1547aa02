package restore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thessio/mfstools-go/internal/types"
)

func TestFudgeLogRecordsDropsMapUpdatePastNewTotal(t *testing.T) {
	kept := types.LogMapUpdate{
		Log:    types.LogEntry{TransType: types.LogTransMapUpdate},
		Sector: 50,
	}
	dropped := types.LogMapUpdate{
		Log:    types.LogEntry{TransType: types.LogTransMapUpdate},
		Sector: 500,
	}

	out := FudgeLogRecords([][]byte{kept.Bytes(), dropped.Bytes()}, 100)
	require.Len(t, out, 1)
	require.Equal(t, kept.Bytes(), out[0])
}

func TestFudgeLogRecordsTruncatesInodeUpdateExtents(t *testing.T) {
	rec := types.LogInodeUpdate{
		Log:    types.LogEntry{TransType: types.LogTransInodeUpdate},
		Type:   uint8(types.FsidTypeStream),
		DbSize: 2,
		Extents: []types.Extent{
			{Sector: 10, Count: 10},
			{Sector: 90, Count: 20},
		},
	}

	out := FudgeLogRecords([][]byte{rec.Bytes()}, 100)
	require.Len(t, out, 1)

	got := types.ParseLogInodeUpdate(out[0])
	require.Equal(t, uint32(2), got.DbSize)
	require.Equal(t, []types.Extent{{Sector: 10, Count: 10}, {Sector: 90, Count: 10}}, got.Extents)
}
