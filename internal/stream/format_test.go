// ABOUTME: Tests for the F_now/F_next format-diff and merge logic
package stream

import (
	"testing"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

func TestDiffPlayerFormatSuppressedWhenUnchanged(t *testing.T) {
	f := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	if got := diffPlayerFormat(f, f); got != nil {
		t.Errorf("expected nil (suppressed) update for identical formats, got %+v", got)
	}
}

func TestDiffPlayerFormatIncludesOnlyChangedFields(t *testing.T) {
	prev := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	next := PlayerFormat{Codec: protocol.CodecOpus, SampleRate: 48000, Channels: 2, BitDepth: 16}

	update := diffPlayerFormat(prev, next)
	if update == nil {
		t.Fatal("expected non-nil update")
	}
	if update.Codec == nil || update.Codec.Value != protocol.CodecOpus {
		t.Errorf("expected codec present in update, got %+v", update.Codec)
	}
	if update.SampleRate != nil {
		t.Errorf("expected unchanged sample_rate omitted, got %+v", update.SampleRate)
	}
}

func TestApplyRequestFormatMergesOntoCurrent(t *testing.T) {
	current := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	codec := protocol.CodecOpus
	req := &protocol.StreamRequestFormatPlayer{Codec: &codec}

	next := applyRequestFormat(current, req)
	if next.Codec != protocol.CodecOpus {
		t.Errorf("expected codec updated to opus, got %s", next.Codec)
	}
	if next.SampleRate != 48000 {
		t.Errorf("expected unrequested sample_rate retained, got %d", next.SampleRate)
	}
}

func TestS4FormatSwitchScenario(t *testing.T) {
	// spec.md §8 scenario S4: active stream at 48kHz PCM, client requests
	// opus; server emits stream/update with codec only.
	current := PlayerFormat{Codec: protocol.CodecPCM, SampleRate: 48000, Channels: 2, BitDepth: 16}
	codec := protocol.CodecOpus
	sampleRate := 48000
	req := &protocol.StreamRequestFormatPlayer{Codec: &codec, SampleRate: &sampleRate}

	next := applyRequestFormat(current, req)
	update := diffPlayerFormat(current, next)
	if update == nil {
		t.Fatal("expected a stream/update for the codec switch")
	}
	if update.Codec == nil || update.Codec.Value != protocol.CodecOpus {
		t.Errorf("expected codec=opus in update, got %+v", update.Codec)
	}
	if update.SampleRate != nil {
		t.Errorf("expected sample_rate omitted since it did not change, got %+v", update.SampleRate)
	}
	if update.Channels != nil || update.BitDepth != nil {
		t.Errorf("expected channels/bit_depth omitted, got %+v / %+v", update.Channels, update.BitDepth)
	}
}
