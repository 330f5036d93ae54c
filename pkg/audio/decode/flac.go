// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC audio to int32 samples
package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mewkiz/flac"

	"github.com/resonatehq-oss/resonate/pkg/audio"
)

// FLACDecoder decodes a complete FLAC file into PCM samples: callers
// hand it a whole file's bytes and get back interleaved PCM. It does not
// decode a stream chunk by chunk.
type FLACDecoder struct {
	format audio.Format
}

// NewFLAC creates a new FLAC decoder
func NewFLAC(format audio.Format) (Decoder, error) {
	if format.Codec != "flac" {
		return nil, fmt.Errorf("invalid codec for FLAC decoder: %s", format.Codec)
	}

	return &FLACDecoder{
		format: format,
	}, nil
}

// Decode converts FLAC bytes to int32 samples
func (d *FLACDecoder) Decode(data []byte) ([]int32, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse flac stream: %w", err)
	}
	defer stream.Close()

	// Subframe samples are BitsPerSample wide; widen into the decoder's
	// int32 PCM domain the same way the Opus and PCM decoders do.
	bps := int(stream.Info.BitsPerSample)

	var samples []int32
	for {
		f, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac decode error: %w", err)
		}
		if len(f.Subframes) == 0 {
			continue
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for _, sf := range f.Subframes {
				s := sf.Samples[i]
				if bps <= 24 {
					s <<= uint(24 - bps)
				} else {
					s >>= uint(bps - 24)
				}
				samples = append(samples, s)
			}
		}
	}

	return samples, nil
}

// Close releases decoder resources
func (d *FLACDecoder) Close() error {
	return nil
}
