package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thessio/mfstools-go/internal/types"
)

func TestRoundTripPassesHeadThroughUncompressed(t *testing.T) {
	head := bytes.Repeat([]byte{0xAB}, types.SectorSize)
	body := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	src := bytes.NewReader(append(append([]byte{}, head...), body...))
	compressed, err := io.ReadAll(NewCompressingReader(src, 6))
	require.NoError(t, err)
	require.True(t, len(compressed) > types.SectorSize)
	require.Equal(t, head, compressed[:types.SectorSize])
	require.NotEqual(t, body, compressed[types.SectorSize:])

	restored, err := io.ReadAll(NewDecompressingReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, head...), body...), restored)
}

func TestRoundTripSmallReadBuffer(t *testing.T) {
	head := bytes.Repeat([]byte{0x11}, types.SectorSize)
	body := []byte("small payload")
	src := bytes.NewReader(append(append([]byte{}, head...), body...))

	cr := NewCompressingReader(src, 6)
	var compressed bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := cr.Read(buf)
		compressed.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	restored, err := io.ReadAll(NewDecompressingReader(bytes.NewReader(compressed.Bytes())))
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, head...), body...), restored)
}

func TestBodyDecompressorMatchesConsumedHeaderFlow(t *testing.T) {
	head := bytes.Repeat([]byte{0x22}, types.SectorSize)
	body := bytes.Repeat([]byte("tivo mfs backup stream "), 50)
	src := bytes.NewReader(append(append([]byte{}, head...), body...))

	compressed, err := io.ReadAll(NewCompressingReader(src, 6))
	require.NoError(t, err)

	stream := bytes.NewReader(compressed)
	gotHead := make([]byte, types.SectorSize)
	_, err = io.ReadFull(stream, gotHead)
	require.NoError(t, err)
	require.Equal(t, head, gotHead)

	restored, err := io.ReadAll(NewBodyDecompressor(stream))
	require.NoError(t, err)
	require.Equal(t, body, restored)
}
