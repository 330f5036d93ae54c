// ABOUTME: Tests for the stream.AudioSource adapter over the test tone generator
package server

import (
	"context"
	"testing"
)

func TestToneSourceReadFrameProducesInt32PCM(t *testing.T) {
	src := newToneSource()

	frame, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame returned error: %v", err)
	}
	if len(frame) != toneFrameSamples {
		t.Fatalf("expected %d samples, got %d", toneFrameSamples, len(frame))
	}
	for _, s := range frame {
		if s > 1<<23 || s < -(1<<23) {
			t.Fatalf("sample %d out of 24-bit PCM range", s)
		}
	}
}

func TestToneSourceReportsNativeFormat(t *testing.T) {
	src := newToneSource()
	if src.SampleRate() != DefaultSampleRate {
		t.Errorf("expected sample rate %d, got %d", DefaultSampleRate, src.SampleRate())
	}
	if src.Channels() != DefaultChannels {
		t.Errorf("expected %d channels, got %d", DefaultChannels, src.Channels())
	}
}

func TestToneSourcesArePhaseSynchronizedFromStart(t *testing.T) {
	a := newToneSource()
	b := newToneSource()

	fa, err := a.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	fb, err := b.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	for i := range fa {
		if fa[i] != fb[i] {
			t.Fatalf("independent tone sources diverged at sample %d: %d != %d", i, fa[i], fb[i])
		}
	}
}
