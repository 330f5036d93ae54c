// ABOUTME: Resonate protocol enum types
// ABOUTME: Role, playback-state, codec, and command string enums
package protocol

// Role identifies a capability a client declares in client/hello.
type Role string

const (
	RolePlayer     Role = "player"
	RoleController Role = "controller"
	RoleMetadata   Role = "metadata"
	RoleArtwork    Role = "artwork"
	RoleVisualizer Role = "visualizer"
)

// Streaming reports whether the role receives stream/* traffic and
// binary frames (spec §4.4 fan-out rules).
func (r Role) Streaming() bool {
	switch r {
	case RolePlayer, RoleArtwork, RoleVisualizer:
		return true
	default:
		return false
	}
}

// PlaybackState is the three-valued Group playback state.
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackStopped PlaybackState = "stopped"
)

// AudioCodec identifies a negotiated or supported audio codec.
type AudioCodec string

const (
	CodecOpus AudioCodec = "opus"
	CodecFLAC AudioCodec = "flac"
	CodecPCM  AudioCodec = "pcm"
)

// PlayerStateType is the player's self-reported synchronization state.
type PlayerStateType string

const (
	PlayerSynchronized PlayerStateType = "synchronized"
	PlayerError        PlayerStateType = "error"
)

// PlayerCommand is a server->client player control command.
type PlayerCommand string

const (
	PlayerCommandVolume PlayerCommand = "volume"
	PlayerCommandMute   PlayerCommand = "mute"
)

// MediaCommand is a client->server controller command.
type MediaCommand string

const (
	CommandPlay       MediaCommand = "play"
	CommandPause      MediaCommand = "pause"
	CommandStop       MediaCommand = "stop"
	CommandNext       MediaCommand = "next"
	CommandPrevious   MediaCommand = "previous"
	CommandVolume     MediaCommand = "volume"
	CommandMute       MediaCommand = "mute"
	CommandRepeatOff  MediaCommand = "repeat_off"
	CommandRepeatOne  MediaCommand = "repeat_one"
	CommandRepeatAll  MediaCommand = "repeat_all"
	CommandShuffle    MediaCommand = "shuffle"
	CommandUnshuffle  MediaCommand = "unshuffle"
	CommandSwitch     MediaCommand = "switch"
)

// RepeatMode is the session repeat mode.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatOne RepeatMode = "one"
	RepeatAll RepeatMode = "all"
)

// PictureFormat identifies an artwork image encoding.
type PictureFormat string

const (
	PictureJPEG PictureFormat = "jpeg"
	PicturePNG  PictureFormat = "png"
	PictureBMP  PictureFormat = "bmp"
)

// ArtworkSource identifies what an artwork channel renders.
type ArtworkSource string

const (
	ArtworkAlbum  ArtworkSource = "album"
	ArtworkArtist ArtworkSource = "artist"
	ArtworkNone   ArtworkSource = "none"
)

// BinaryMessageType is the decoded byte-0 role/slot pair of a binary frame.
type BinaryMessageType uint8

// Binary message type IDs: bits 7..2 role, bits 1..0 slot (spec §4.1).
const (
	BinaryAudioChunk       BinaryMessageType = 0
	BinaryArtworkChannel0  BinaryMessageType = 4
	BinaryArtworkChannel1  BinaryMessageType = 5
	BinaryArtworkChannel2  BinaryMessageType = 6
	BinaryArtworkChannel3  BinaryMessageType = 7
	BinaryVisualizerFrame  BinaryMessageType = 8
)

// Role returns which declared role a binary message type is scoped to.
func (b BinaryMessageType) Role() Role {
	switch b >> 2 {
	case 0:
		return RolePlayer
	case 1:
		return RoleArtwork
	case 2:
		return RoleVisualizer
	default:
		return ""
	}
}

// ArtworkChannelIndex returns the channel number (0-3) for an artwork
// binary message type; only meaningful when Role() == RoleArtwork.
func (b BinaryMessageType) ArtworkChannelIndex() int {
	return int(b & 0x3)
}
