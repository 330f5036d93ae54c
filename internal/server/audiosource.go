// ABOUTME: stream.AudioSource adapter over the test tone generator
// ABOUTME: Grounded on test_tone_source.go; widens int16 samples to the Stream Scheduler's int32 PCM
package server

import (
	"context"

	"github.com/resonatehq-oss/resonate/internal/stream"
)

// DefaultSampleRate and DefaultChannels describe the test tone's native
// format; the reference server has no other audio source, so every
// Stream Scheduler resamples from this rate when a player negotiates
// something else.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
)

const toneFrameSamples = DefaultSampleRate / 50 * DefaultChannels // 20ms frame

// toneSource adapts TestToneSource's int16 Read into stream.AudioSource's
// ReadFrame, which the Scheduler expects to produce int32 PCM in the
// audio package's 24-bit-capable sample domain.
type toneSource struct {
	tone *TestToneSource
}

var _ stream.AudioSource = (*toneSource)(nil)

func newToneSource() *toneSource {
	return &toneSource{tone: NewTestToneSource()}
}

func (s *toneSource) ReadFrame(ctx context.Context) ([]int32, error) {
	buf := make([]int16, toneFrameSamples)
	n, err := s.tone.Read(buf)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i, v := range buf[:n] {
		out[i] = int32(v) << 8 // widen 16-bit samples into the 24-bit PCM domain
	}
	return out, nil
}

func (s *toneSource) SampleRate() int { return s.tone.SampleRate() }
func (s *toneSource) Channels() int   { return s.tone.Channels() }
