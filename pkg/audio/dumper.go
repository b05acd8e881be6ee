// dumper.go implements a WAV file dumper for capturing call audio during
// debugging. Both relay directions can be recorded: telephony input as
// decoded 8kHz PCM and backend output at 24kHz.

package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const wavHeaderSize = 44

// Dumper writes 16-bit mono PCM to a WAV file. The RIFF and data chunk
// sizes are patched on Close.
type Dumper struct {
	file       *os.File
	path       string
	sampleRate int
	channels   int
	dataLen    int
}

// NewDumper creates a timestamped WAV file under dir (created if missing)
// and writes a placeholder header.
func NewDumper(dir, name string, sampleRate, channels int) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.wav", name, time.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}

	d := &Dumper{
		file:       f,
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := d.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// Path returns the location of the dump file.
func (d *Dumper) Path() string {
	return d.path
}

// Write appends raw 16-bit PCM frames to the file.
func (d *Dumper) Write(pcm []byte) error {
	if d.file == nil {
		return fmt.Errorf("dumper closed")
	}
	n, err := d.file.Write(pcm)
	d.dataLen += n
	return err
}

// Close patches the header sizes and closes the file. Safe to call more
// than once.
func (d *Dumper) Close() error {
	if d.file == nil {
		return nil
	}

	// Patch RIFF chunk size and data chunk size
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(wavHeaderSize-8+d.dataLen))
	if _, err := d.file.WriteAt(buf[:], 4); err != nil {
		d.file.Close()
		d.file = nil
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(d.dataLen))
	if _, err := d.file.WriteAt(buf[:], 40); err != nil {
		d.file.Close()
		d.file = nil
		return err
	}

	err := d.file.Close()
	d.file = nil
	return err
}

func (d *Dumper) writeHeader() error {
	const bitsPerSample = 16
	byteRate := d.sampleRate * d.channels * bitsPerSample / 8
	blockAlign := d.channels * bitsPerSample / 8

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	// header[4:8] chunk size, patched on Close
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], uint16(d.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(d.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	// header[40:44] data size, patched on Close

	_, err := d.file.Write(header)
	return err
}
