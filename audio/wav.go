package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const (
	SampleRate    = 44100 // Rate at which audio is captured
	Channels      = 1     // Mono audio
	BitsPerSample = 16    // Using int16 for samples

	headerSize = 44
)

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WriteWavHeader writes a PCM WAV header for dataSize bytes of sample data.
// Pass zero while still capturing and fix it up with UpdateWavHeader.
func WriteWavHeader(file *os.File, dataSize uint32) error {
	header := WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   Channels,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * uint32(Channels) * uint32(BitsPerSample) / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	return binary.Write(file, binary.LittleEndian, header)
}

// UpdateWavHeader rewrites the size fields once the final data size is known.
func UpdateWavHeader(file *os.File, dataSize uint32) error {
	// Update ChunkSize (file size - 8)
	if _, err := file.Seek(4, 0); err != nil {
		return fmt.Errorf("failed to seek to ChunkSize: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(dataSize+36)); err != nil {
		return fmt.Errorf("failed to write ChunkSize: %w", err)
	}

	// Update Subchunk2Size (data size)
	if _, err := file.Seek(40, 0); err != nil {
		return fmt.Errorf("failed to seek to Subchunk2Size: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write Subchunk2Size: %w", err)
	}

	return nil
}

// Duration reports the playable length of a WAV file from its format header
// and data size.
func Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	format, err := wav.NewReader(file).Format()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.ByteRate == 0 {
		return 0, fmt.Errorf("invalid WAV format: zero byte rate")
	}

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat audio file: %w", err)
	}
	dataSize := info.Size() - headerSize
	if dataSize < 0 {
		dataSize = 0
	}

	seconds := float64(dataSize) / float64(format.ByteRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
