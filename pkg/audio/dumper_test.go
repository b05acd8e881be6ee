package audio

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumperWritesValidWAV(t *testing.T) {
	dir := t.TempDir()

	d, err := NewDumper(dir, "input", 8000, 1)
	require.NoError(t, err)

	pcm := make([]byte, 320) // 20ms at 8kHz
	for i := range pcm {
		pcm[i] = byte(i % 256)
	}
	require.NoError(t, d.Write(pcm))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(d.Path())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), wavHeaderSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "channels")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]), "bits per sample")

	// Sizes patched on close
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(data[40:44]), "data chunk size")
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]), "RIFF chunk size")
	assert.Equal(t, pcm, data[wavHeaderSize:])
}

func TestDumperCloseIdempotent(t *testing.T) {
	d, err := NewDumper(t.TempDir(), "output", 24000, 1)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.Error(t, d.Write([]byte{0, 0}), "write after close must fail")
}
