// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 audio to int32 samples
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/resonatehq-oss/resonate/pkg/audio"
)

// MP3Decoder decodes a complete MP3 file into PCM samples.
type MP3Decoder struct {
	format audio.Format
}

// NewMP3 creates a new MP3 decoder
func NewMP3(format audio.Format) (Decoder, error) {
	if format.Codec != "mp3" {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", format.Codec)
	}

	return &MP3Decoder{
		format: format,
	}, nil
}

// Decode converts MP3 bytes to int32 samples
func (d *MP3Decoder) Decode(data []byte) ([]int32, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	// go-mp3 exposes a Reader of interleaved, little-endian 16-bit PCM.
	var raw []byte
	buf := make([]byte, 8192)
	for {
		n, err := decoder.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mp3 decode error: %w", err)
		}
	}

	numSamples := len(raw) / 2 // 2 bytes per int16 sample
	samples := make([]int32, numSamples)
	for i := 0; i < numSamples; i++ {
		sample16 := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = audio.SampleFromInt16(sample16)
	}

	return samples, nil
}

// Close releases decoder resources
func (d *MP3Decoder) Close() error {
	return nil
}
