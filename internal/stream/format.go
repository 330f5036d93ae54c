// ABOUTME: F_now/F_next mid-stream player format switch model
// ABOUTME: Grounded on spec.md §4.5's switch-time model; teacher has no equivalent
package stream

import "github.com/resonatehq-oss/resonate/pkg/protocol"

// PlayerFormat is one negotiated player audio format.
type PlayerFormat struct {
	Codec       protocol.AudioCodec
	SampleRate  int
	Channels    int
	BitDepth    int
	CodecHeader string
}

func (f PlayerFormat) toStart() protocol.StreamStartPlayer {
	return protocol.StreamStartPlayer{
		Codec: f.Codec, SampleRate: f.SampleRate, Channels: f.Channels,
		BitDepth: f.BitDepth, CodecHeader: f.CodecHeader,
	}
}

// diff builds a StreamUpdatePlayer carrying only the fields that changed
// between prev and next; returns nil (suppressed) when nothing changed,
// per spec.md §4.5: "if F_next equals F_now after merge, the scheduler
// suppresses the update."
func diffPlayerFormat(prev, next PlayerFormat) *protocol.StreamUpdatePlayer {
	var out protocol.StreamUpdatePlayer
	changed := false
	if next.Codec != prev.Codec {
		f := protocol.Present(next.Codec)
		out.Codec = &f
		changed = true
	}
	if next.SampleRate != prev.SampleRate {
		f := protocol.Present(next.SampleRate)
		out.SampleRate = &f
		changed = true
	}
	if next.Channels != prev.Channels {
		f := protocol.Present(next.Channels)
		out.Channels = &f
		changed = true
	}
	if next.BitDepth != prev.BitDepth {
		f := protocol.Present(next.BitDepth)
		out.BitDepth = &f
		changed = true
	}
	if next.CodecHeader != prev.CodecHeader {
		f := protocol.Present(next.CodecHeader)
		out.CodecHeader = &f
		changed = true
	}
	if !changed {
		return nil
	}
	return &out
}

// applyRequestFormat merges a stream/request-format player object onto a
// current format, producing the candidate F_next. Unrequested fields
// retain F_now's value.
func applyRequestFormat(current PlayerFormat, req *protocol.StreamRequestFormatPlayer) PlayerFormat {
	next := current
	if req == nil {
		return next
	}
	if req.Codec != nil {
		next.Codec = *req.Codec
	}
	if req.SampleRate != nil {
		next.SampleRate = *req.SampleRate
	}
	if req.Channels != nil {
		next.Channels = *req.Channels
	}
	if req.BitDepth != nil {
		next.BitDepth = *req.BitDepth
	}
	return next
}

// frameDuration is how long one encoded frame at this format covers, used
// to find the next codec frame boundary ≥ a target switch time.
func (f PlayerFormat) frameDuration(samplesPerFrame int) int64 {
	if f.SampleRate == 0 {
		return 0
	}
	return int64(samplesPerFrame) * 1_000_000 / int64(f.SampleRate)
}
