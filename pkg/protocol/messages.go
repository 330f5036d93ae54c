// ABOUTME: Resonate protocol message type definitions
// ABOUTME: Struct shapes for every text message in the catalogue, per spec §6
package protocol

import "encoding/json"

// Message is the top-level text envelope: {"type": ..., "payload": ...}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a typed payload into a Message envelope.
func Encode(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// DecodePayload unmarshals a Message's payload into dst. stream/end's
// payload MAY be absent or an empty object; an empty RawMessage decodes
// to dst's zero value without error.
func DecodePayload(msg Message, dst any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(msg.Payload, dst)
}

// DeviceInfo carries optional client device identification.
type DeviceInfo struct {
	ProductName     string `json:"product_name,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
}

// AudioFormat describes one supported (or negotiated) audio format.
type AudioFormat struct {
	Codec      AudioCodec `json:"codec"`
	Channels   int        `json:"channels"`
	SampleRate int        `json:"sample_rate"`
	BitDepth   int        `json:"bit_depth"`
}

// PlayerSupport is the client/hello player_support object.
type PlayerSupport struct {
	SupportedFormats  []AudioFormat   `json:"support_formats"`
	BufferCapacity    int             `json:"buffer_capacity"`
	SupportedCommands []PlayerCommand `json:"supported_commands"`
}

// ArtworkChannelSupport describes one declared artwork channel's capabilities.
type ArtworkChannelSupport struct {
	Source      ArtworkSource `json:"source"`
	Format      PictureFormat `json:"format"`
	MediaWidth  int           `json:"media_width"`
	MediaHeight int           `json:"media_height"`
}

// ArtworkSupport is the client/hello artwork_support object.
type ArtworkSupport struct {
	Channels []ArtworkChannelSupport `json:"channels"`
}

// VisualizerSupport is the client/hello visualizer_support object.
type VisualizerSupport struct {
	BufferCapacity int `json:"buffer_capacity"`
}

// ClientHello is the client/hello payload.
type ClientHello struct {
	ClientID          string             `json:"client_id"`
	Name              string             `json:"name"`
	Version           int                `json:"version"`
	SupportedRoles    []Role             `json:"supported_roles"`
	DeviceInfo        *DeviceInfo        `json:"device_info,omitempty"`
	PlayerSupport     *PlayerSupport     `json:"player_support,omitempty"`
	ArtworkSupport    *ArtworkSupport    `json:"artwork_support,omitempty"`
	VisualizerSupport *VisualizerSupport `json:"visualizer_support,omitempty"`
}

// HasRole reports whether the hello declares the given role.
func (h ClientHello) HasRole(r Role) bool {
	for _, declared := range h.SupportedRoles {
		if declared == r {
			return true
		}
	}
	return false
}

// ServerHello is the server/hello payload.
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientTime is the client/time payload.
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
}

// ServerTime is the server/time payload.
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"`
	ServerReceived    int64 `json:"server_received"`
	ServerTransmitted int64 `json:"server_transmitted"`
}

// PlayerState is the client/state player object.
type PlayerState struct {
	State  PlayerStateType `json:"state"`
	Volume int             `json:"volume"`
	Muted  bool            `json:"muted"`
}

// ClientState is the client/state payload.
type ClientState struct {
	Player *PlayerState `json:"player,omitempty"`
}

// PlayerCommandPayload is the server/command player object.
type PlayerCommandPayload struct {
	Command PlayerCommand `json:"command"`
	Volume  *int          `json:"volume,omitempty"`
	Mute    *bool         `json:"mute,omitempty"`
}

// ServerCommand is the server/command payload.
type ServerCommand struct {
	Player *PlayerCommandPayload `json:"player,omitempty"`
}

// ControllerCommandPayload is the client/command controller object.
type ControllerCommandPayload struct {
	Command MediaCommand `json:"command"`
	Volume  *int         `json:"volume,omitempty"`
	Mute    *bool        `json:"mute,omitempty"`
}

// ClientCommand is the client/command payload.
type ClientCommand struct {
	Controller *ControllerCommandPayload `json:"controller,omitempty"`
}

// ClientGoodbye precedes a graceful client-initiated disconnect. Adopted
// from the teacher's protocol package as a supplementary message; not
// excluded by any spec Non-goal.
type ClientGoodbye struct {
	Reason string `json:"reason"`
}

// StreamStartPlayer is the stream/start player object.
type StreamStartPlayer struct {
	Codec       AudioCodec `json:"codec"`
	SampleRate  int        `json:"sample_rate"`
	Channels    int        `json:"channels"`
	BitDepth    int        `json:"bit_depth"`
	CodecHeader string     `json:"codec_header,omitempty"`
}

// StreamStartArtworkChannel is one entry of stream/start's artwork.channels.
type StreamStartArtworkChannel struct {
	Source ArtworkSource `json:"source"`
	Format PictureFormat `json:"format"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
}

// StreamStartArtwork is the stream/start artwork object.
type StreamStartArtwork struct {
	Channels []StreamStartArtworkChannel `json:"channels"`
}

// StreamStartVisualizer is the stream/start visualizer object.
type StreamStartVisualizer struct {
	BufferCapacity int `json:"buffer_capacity"`
}

// StreamStart is the stream/start payload.
type StreamStart struct {
	Player     *StreamStartPlayer     `json:"player,omitempty"`
	Artwork    *StreamStartArtwork    `json:"artwork,omitempty"`
	Visualizer *StreamStartVisualizer `json:"visualizer,omitempty"`
}

// StreamUpdatePlayer is the stream/update player delta object: every
// field is a tri-state Field since absent/null/present all carry meaning.
type StreamUpdatePlayer struct {
	Codec       *Field[AudioCodec] `json:"codec,omitempty"`
	SampleRate  *Field[int]        `json:"sample_rate,omitempty"`
	Channels    *Field[int]        `json:"channels,omitempty"`
	BitDepth    *Field[int]        `json:"bit_depth,omitempty"`
	CodecHeader *Field[string]     `json:"codec_header,omitempty"`
}

// StreamUpdateArtworkChannel is a delta update for one artwork channel.
type StreamUpdateArtworkChannel struct {
	Source *Field[ArtworkSource] `json:"source,omitempty"`
	Format *Field[PictureFormat] `json:"format,omitempty"`
	Width  *Field[int]           `json:"width,omitempty"`
	Height *Field[int]           `json:"height,omitempty"`
}

// StreamUpdateArtwork is the stream/update artwork delta object.
type StreamUpdateArtwork struct {
	Channels []StreamUpdateArtworkChannel `json:"channels,omitempty"`
}

// StreamUpdateVisualizer is the stream/update visualizer delta object.
type StreamUpdateVisualizer struct {
	BufferCapacity *Field[int] `json:"buffer_capacity,omitempty"`
}

// StreamUpdate is the stream/update payload.
type StreamUpdate struct {
	Player     *StreamUpdatePlayer     `json:"player,omitempty"`
	Artwork    *StreamUpdateArtwork    `json:"artwork,omitempty"`
	Visualizer *StreamUpdateVisualizer `json:"visualizer,omitempty"`
}

// StreamRequestFormatPlayer is the stream/request-format player object.
type StreamRequestFormatPlayer struct {
	Codec      *AudioCodec `json:"codec,omitempty"`
	SampleRate *int        `json:"sample_rate,omitempty"`
	Channels   *int        `json:"channels,omitempty"`
	BitDepth   *int        `json:"bit_depth,omitempty"`
}

// StreamRequestFormatArtwork is the stream/request-format artwork object.
type StreamRequestFormatArtwork struct {
	Channel     int            `json:"channel"`
	Source      *ArtworkSource `json:"source,omitempty"`
	Format      *PictureFormat `json:"format,omitempty"`
	MediaWidth  *int           `json:"media_width,omitempty"`
	MediaHeight *int           `json:"media_height,omitempty"`
}

// StreamRequestFormat is the stream/request-format payload.
type StreamRequestFormat struct {
	Player  *StreamRequestFormatPlayer  `json:"player,omitempty"`
	Artwork *StreamRequestFormatArtwork `json:"artwork,omitempty"`
}

// StreamClear instructs clients to drop buffered frames for the given roles.
type StreamClear struct {
	Roles []Role `json:"roles,omitempty"`
}

// StreamEnd ends the stream for the given roles (omitted Roles = all).
// spec.md §4.6 gives stream/end no payload object at all; the only
// production sender (internal/stream.Scheduler.End) sends a nil payload,
// so Roles only exists for DecodePayload's benefit if a future sender
// ever needs to scope the message to a subset of roles. DecodePayload
// handles both absent and empty-object forms on decode.
type StreamEnd struct {
	Roles []Role `json:"roles,omitempty"`
}

// ProgressState is server/state.metadata.progress.
type ProgressState struct {
	TrackProgress int `json:"track_progress"`
	TrackDuration int `json:"track_duration"`
	PlaybackSpeed int `json:"playback_speed"`
}

// MetadataState is the server/state metadata delta object. Every field
// except Timestamp participates in delta-merge and is represented as a
// tri-state Field.
type MetadataState struct {
	Timestamp   int64                 `json:"timestamp"`
	Title       *Field[string]        `json:"title,omitempty"`
	Artist      *Field[string]        `json:"artist,omitempty"`
	AlbumArtist *Field[string]        `json:"album_artist,omitempty"`
	Album       *Field[string]        `json:"album,omitempty"`
	ArtworkURL  *Field[string]        `json:"artwork_url,omitempty"`
	Year        *Field[int]           `json:"year,omitempty"`
	Track       *Field[int]           `json:"track,omitempty"`
	Progress    *Field[ProgressState] `json:"progress,omitempty"`
	Repeat      *Field[RepeatMode]    `json:"repeat,omitempty"`
	Shuffle     *Field[bool]          `json:"shuffle,omitempty"`
}

// ControllerState is the server/state controller object.
type ControllerState struct {
	SupportedCommands []MediaCommand `json:"supported_commands"`
	Volume            int            `json:"volume"`
	Muted             bool           `json:"muted"`
}

// ServerState is the server/state payload.
type ServerState struct {
	Metadata   *MetadataState   `json:"metadata,omitempty"`
	Controller *ControllerState `json:"controller,omitempty"`
}

// GroupUpdate is the group/update payload; all fields delta-merge.
type GroupUpdate struct {
	PlaybackState *Field[PlaybackState] `json:"playback_state,omitempty"`
	GroupID       *Field[string]        `json:"group_id,omitempty"`
	GroupName     *Field[string]        `json:"group_name,omitempty"`
}
