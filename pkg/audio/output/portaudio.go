//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform audio output using PortAudio
package output

import (
	"fmt"

	"github.com/resonatehq-oss/resonate/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudio output implementation
type PortAudio struct {
	stream *portaudio.Stream
	buffer []int16
	volume int
	muted  bool
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{volume: 100}
}

// Open initializes PortAudio
func (p *PortAudio) Open(sampleRate, channels, bitDepth int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), 0, func(out []int16) {
		copy(out, p.buffer)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.stream = stream
	return stream.Start()
}

// Write outputs audio samples
func (p *PortAudio) Write(samples []int32) error {
	if p.stream == nil {
		return fmt.Errorf("output not opened")
	}

	volumed := applyVolume(samples, p.volume, p.muted)

	// Convert int32 to int16 for PortAudio
	p.buffer = make([]int16, len(volumed))
	for i, sample := range volumed {
		p.buffer[i] = audio.SampleToInt16(sample)
	}

	return nil
}

func (p *PortAudio) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	p.volume = volume
}

func (p *PortAudio) SetMuted(muted bool) { p.muted = muted }
func (p *PortAudio) GetVolume() int      { return p.volume }
func (p *PortAudio) IsMuted() bool       { return p.muted }

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return err
		}
		if err := p.stream.Close(); err != nil {
			return err
		}
	}
	return portaudio.Terminate()
}
