// ABOUTME: Tests for per-channel artwork publish/clear and format requests
package stream

import (
	"testing"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

func TestNewArtworkSchedulerRejectsZeroChannels(t *testing.T) {
	sink := &fakeSink{}
	if _, err := NewArtworkScheduler(sink, nil); err == nil {
		t.Fatal("expected an error for zero declared channels")
	}
}

func TestNewArtworkSchedulerRejectsTooManyChannels(t *testing.T) {
	sink := &fakeSink{}
	five := make([]ArtworkChannel, 5)
	if _, err := NewArtworkScheduler(sink, five); err == nil {
		t.Fatal("expected an error for more than 4 declared channels")
	}
}

func TestPublishEncodesCorrectBinaryType(t *testing.T) {
	sink := &fakeSink{}
	sched, err := NewArtworkScheduler(sink, []ArtworkChannel{{Source: protocol.ArtworkAlbum, Format: protocol.PictureJPEG, Width: 300, Height: 300}})
	if err != nil {
		t.Fatalf("NewArtworkScheduler: %v", err)
	}

	if err := sched.Publish(0, 1000, []byte{0xFF, 0xD8}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sink.binary) != 1 {
		t.Fatalf("expected one binary frame, got %d", len(sink.binary))
	}
	decoded, err := protocol.DecodeBinaryFrame(sink.binary[0])
	if err != nil {
		t.Fatalf("DecodeBinaryFrame: %v", err)
	}
	if decoded.Type != protocol.BinaryArtworkChannel0 {
		t.Errorf("expected BinaryArtworkChannel0, got %d", decoded.Type)
	}
}

func TestPublishRejectsOutOfRangeChannel(t *testing.T) {
	sink := &fakeSink{}
	sched, _ := NewArtworkScheduler(sink, []ArtworkChannel{{Source: protocol.ArtworkAlbum, Format: protocol.PictureJPEG, Width: 1, Height: 1}})
	if err := sched.Publish(5, 1000, nil); err == nil {
		t.Fatal("expected an error for an out-of-range channel")
	}
}

func TestClearPublishesEmptyPayload(t *testing.T) {
	sink := &fakeSink{}
	sched, _ := NewArtworkScheduler(sink, []ArtworkChannel{{Source: protocol.ArtworkAlbum, Format: protocol.PictureJPEG, Width: 1, Height: 1}})
	if err := sched.Clear(0, 2000); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	decoded, _ := protocol.DecodeBinaryFrame(sink.binary[0])
	if len(decoded.Payload) != 0 {
		t.Errorf("expected empty payload for a clear, got %d bytes", len(decoded.Payload))
	}
}

func TestRequestFormatEmitsDeltaForChangedChannel(t *testing.T) {
	sink := &fakeSink{}
	sched, _ := NewArtworkScheduler(sink, []ArtworkChannel{{Source: protocol.ArtworkAlbum, Format: protocol.PictureJPEG, Width: 300, Height: 300}})

	newFormat := protocol.PicturePNG
	req := &protocol.StreamRequestFormatArtwork{Channel: 0, Format: &newFormat}
	if err := sched.RequestFormat(req); err != nil {
		t.Fatalf("RequestFormat: %v", err)
	}
	if sink.textCount("stream/update") != 1 {
		t.Errorf("expected exactly one stream/update for the format change")
	}
}

func TestRequestFormatRejectsUndeclaredChannel(t *testing.T) {
	sink := &fakeSink{}
	sched, _ := NewArtworkScheduler(sink, []ArtworkChannel{{Source: protocol.ArtworkAlbum, Format: protocol.PictureJPEG, Width: 1, Height: 1}})
	req := &protocol.StreamRequestFormatArtwork{Channel: 2}
	if err := sched.RequestFormat(req); err == nil {
		t.Fatal("expected an error for a channel beyond what was declared")
	}
}
