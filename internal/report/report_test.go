package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thessio/mfstools-go/internal/types"
)

func TestWriteBackupHeadIncludesHumanizedSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBackupHead(&buf, 4096, 2, 3, 1, 0x0001))

	out := buf.String()
	require.Contains(t, out, "2.1 MB (4,096 sectors)")
	require.Contains(t, out, "partitions: 2")
	require.Contains(t, out, "blocks:     3")
	require.Contains(t, out, "mfs pairs:  1")
	require.Contains(t, out, "0x0001")
}

func TestWriteVolumeWithoutZonesSkipsZoneSection(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteVolume(&buf, VolumeSummary{
		RunID:       "run-1",
		Header:      types.VolumeHeader{V32: &types.VolumeHeaderV32{}},
		LogicalPath: "/dev/sda",
	}))

	out := buf.String()
	require.Contains(t, out, "/dev/sda")
	require.Contains(t, out, "run-1")
	require.NotContains(t, out, "zones:")
}
