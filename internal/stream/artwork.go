// ABOUTME: Per-channel artwork sub-schedulers for clients with the artwork role
// ABOUTME: New relative to the teacher; shaped after the audio scheduler's publish/clear model
package stream

import (
	"sync"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// maxArtworkChannels matches the binary frame layout's 2-bit slot field
// (spec.md §4.1): four artwork channels, indices 0-3.
const maxArtworkChannels = 4

var artworkBinaryType = [maxArtworkChannels]protocol.BinaryMessageType{
	protocol.BinaryArtworkChannel0,
	protocol.BinaryArtworkChannel1,
	protocol.BinaryArtworkChannel2,
	protocol.BinaryArtworkChannel3,
}

// ArtworkChannel configures one declared artwork channel, mirroring the
// client's client/hello artwork_support.channels entry it was negotiated
// against.
type ArtworkChannel struct {
	Source protocol.ArtworkSource
	Format protocol.PictureFormat
	Width  int
	Height int
}

func (c ArtworkChannel) toStart() protocol.StreamStartArtworkChannel {
	return protocol.StreamStartArtworkChannel{Source: c.Source, Format: c.Format, Width: c.Width, Height: c.Height}
}

// ArtworkScheduler fans out artwork images to a single Endpoint across
// its declared channels. Unlike the audio Scheduler there is no pacing
// clock: an image is published the moment it becomes available and
// stays current until replaced or cleared.
type ArtworkScheduler struct {
	sink Sink

	mu       sync.Mutex
	channels []ArtworkChannel
}

// NewArtworkScheduler builds an ArtworkScheduler for the given declared
// channels (1-4 entries, index is the channel number). It sends nothing
// itself; StartChannels returns the artwork object for stream/start.
func NewArtworkScheduler(sink Sink, channels []ArtworkChannel) (*ArtworkScheduler, error) {
	if len(channels) == 0 || len(channels) > maxArtworkChannels {
		return nil, &protocol.ProtocolError{Kind: protocol.ErrPayloadRange, Detail: "artwork channel count must be 1-4"}
	}
	s := &ArtworkScheduler{sink: sink, channels: channels}
	return s, nil
}

// StartChannels returns this scheduler's stream/start artwork object, for
// composing into the shared stream/start message alongside player/visualizer.
func (s *ArtworkScheduler) StartChannels() protocol.StreamStartArtwork {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.StreamStartArtworkChannel, len(s.channels))
	for i, c := range s.channels {
		out[i] = c.toStart()
	}
	return protocol.StreamStartArtwork{Channels: out}
}

// Publish sends an encoded image on the given channel, timestamped at
// serverNowMicros so the client knows the frame is immediately current.
func (s *ArtworkScheduler) Publish(channel int, serverNowMicros int64, imageData []byte) error {
	if channel < 0 || channel >= maxArtworkChannels {
		return &protocol.ProtocolError{Kind: protocol.ErrPayloadRange, Detail: "artwork channel out of range"}
	}
	frame := protocol.EncodeBinaryFrame(artworkBinaryType[channel], serverNowMicros, imageData)
	return s.sink.SendBinary(frame)
}

// Clear publishes an empty image to the channel, instructing the client
// to stop displaying artwork there (e.g. the now-playing track has none).
func (s *ArtworkScheduler) Clear(channel int, serverNowMicros int64) error {
	return s.Publish(channel, serverNowMicros, nil)
}

// RequestFormat handles a stream/request-format for the artwork role: it
// updates the named channel's declared source/format/dimensions and
// emits the stream/update delta.
func (s *ArtworkScheduler) RequestFormat(req *protocol.StreamRequestFormatArtwork) error {
	if req == nil || req.Channel < 0 || req.Channel >= maxArtworkChannels {
		return &protocol.ProtocolError{Kind: protocol.ErrPayloadRange, Detail: "artwork channel out of range"}
	}

	s.mu.Lock()
	if req.Channel >= len(s.channels) {
		s.mu.Unlock()
		return &protocol.ProtocolError{Kind: protocol.ErrPayloadRange, Detail: "artwork channel not declared"}
	}
	cur := s.channels[req.Channel]
	next := cur
	update := protocol.StreamUpdateArtworkChannel{}
	changed := false
	if req.Source != nil && *req.Source != cur.Source {
		next.Source = *req.Source
		f := protocol.Present(next.Source)
		update.Source = &f
		changed = true
	}
	if req.Format != nil && *req.Format != cur.Format {
		next.Format = *req.Format
		f := protocol.Present(next.Format)
		update.Format = &f
		changed = true
	}
	if req.MediaWidth != nil && *req.MediaWidth != cur.Width {
		next.Width = *req.MediaWidth
		f := protocol.Present(next.Width)
		update.Width = &f
		changed = true
	}
	if req.MediaHeight != nil && *req.MediaHeight != cur.Height {
		next.Height = *req.MediaHeight
		f := protocol.Present(next.Height)
		update.Height = &f
		changed = true
	}
	s.channels[req.Channel] = next
	s.mu.Unlock()

	if !changed {
		return nil
	}
	channels := make([]protocol.StreamUpdateArtworkChannel, req.Channel+1)
	channels[req.Channel] = update
	return s.sink.SendText("stream/update", protocol.StreamUpdate{Artwork: &protocol.StreamUpdateArtwork{Channels: channels}})
}
