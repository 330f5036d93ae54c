// ABOUTME: Per-Group metadata diff/clear/snapshot builder
// ABOUTME: Ported from aioresonate's Metadata.diff_update / cleared_update / snapshot_update
package group

import "github.com/resonatehq-oss/resonate/pkg/protocol"

// Metadata is the canonical now-playing state for a Group: the "last-
// sent snapshot" entity named in spec.md §3's data model table,
// mechanized here per the diff/clear/snapshot algorithm of
// aioresonate's server-side Metadata dataclass.
type Metadata struct {
	Title         *string
	Artist        *string
	AlbumArtist   *string
	Album         *string
	ArtworkURL    *string
	Year          *int
	Track         *int
	TrackDuration *int
	PlaybackSpeed *int
	Repeat        *protocol.RepeatMode
	Shuffle       *bool
	TrackProgress *int
}

// DiffUpdate builds a MetadataState containing only the fields that
// changed since last (nil last means "no previous state", so every set
// field is considered changed). track_progress is always included when
// set, regardless of whether it changed, since the receiver needs a
// fresh timestamp to keep computing live progress.
func (m Metadata) DiffUpdate(last *Metadata, timestampMicros int64) protocol.MetadataState {
	out := protocol.MetadataState{Timestamp: timestampMicros}

	changedStr := func(cur *string, prev *string) bool {
		return last == nil || !strPtrEqual(cur, prev)
	}
	changedInt := func(cur *int, prev *int) bool {
		return last == nil || !intPtrEqual(cur, prev)
	}

	var lastAlbum, lastArtist, lastAlbumArtist, lastTitle, lastArtwork *string
	var lastYear, lastTrack *int
	var lastRepeat *protocol.RepeatMode
	var lastShuffle *bool
	if last != nil {
		lastTitle, lastArtist, lastAlbumArtist, lastAlbum, lastArtwork = last.Title, last.Artist, last.AlbumArtist, last.Album, last.ArtworkURL
		lastYear, lastTrack = last.Year, last.Track
		lastRepeat = last.Repeat
		lastShuffle = last.Shuffle
	}

	if changedStr(m.Title, lastTitle) {
		out.Title = fieldFromStrPtr(m.Title)
	}
	if changedStr(m.Artist, lastArtist) {
		out.Artist = fieldFromStrPtr(m.Artist)
	}
	if changedStr(m.AlbumArtist, lastAlbumArtist) {
		out.AlbumArtist = fieldFromStrPtr(m.AlbumArtist)
	}
	if changedStr(m.Album, lastAlbum) {
		out.Album = fieldFromStrPtr(m.Album)
	}
	if changedStr(m.ArtworkURL, lastArtwork) {
		out.ArtworkURL = fieldFromStrPtr(m.ArtworkURL)
	}
	if changedInt(m.Year, lastYear) {
		out.Year = fieldFromIntPtr(m.Year)
	}
	if changedInt(m.Track, lastTrack) {
		out.Track = fieldFromIntPtr(m.Track)
	}
	if last == nil || !repeatPtrEqual(m.Repeat, lastRepeat) {
		out.Repeat = fieldFromRepeatPtr(m.Repeat)
	}
	if last == nil || !boolPtrEqual(m.Shuffle, lastShuffle) {
		out.Shuffle = fieldFromBoolPtr(m.Shuffle)
	}

	if m.TrackProgress != nil {
		p := protocol.Present(protocol.ProgressState{
			TrackProgress: derefInt(m.TrackProgress),
			TrackDuration: derefInt(m.TrackDuration),
			PlaybackSpeed: derefInt(m.PlaybackSpeed),
		})
		out.Progress = &p
	}

	return out
}

// ClearedUpdate builds a MetadataState that explicitly nulls every
// field, used when a Stream ends and there is no longer any now-playing
// state to report.
func ClearedUpdate(timestampMicros int64) protocol.MetadataState {
	cleared := protocol.Cleared[string]()
	clearedInt := protocol.Cleared[int]()
	clearedRepeat := protocol.Cleared[protocol.RepeatMode]()
	clearedBool := protocol.Cleared[bool]()
	clearedProgress := protocol.Cleared[protocol.ProgressState]()
	return protocol.MetadataState{
		Timestamp:   timestampMicros,
		Title:       &cleared,
		Artist:      &cleared,
		AlbumArtist: &cleared,
		Album:       &cleared,
		ArtworkURL:  &cleared,
		Year:        &clearedInt,
		Track:       &clearedInt,
		Progress:    &clearedProgress,
		Repeat:      &clearedRepeat,
		Shuffle:     &clearedBool,
	}
}

// SnapshotUpdate builds a MetadataState carrying every currently-set
// field, for a member that just joined and has no prior diff baseline.
func (m Metadata) SnapshotUpdate(timestampMicros int64) protocol.MetadataState {
	return m.DiffUpdate(nil, timestampMicros)
}

func fieldFromStrPtr(p *string) *protocol.Field[string] {
	if p == nil {
		f := protocol.Cleared[string]()
		return &f
	}
	f := protocol.Present(*p)
	return &f
}

func fieldFromIntPtr(p *int) *protocol.Field[int] {
	if p == nil {
		f := protocol.Cleared[int]()
		return &f
	}
	f := protocol.Present(*p)
	return &f
}

func fieldFromRepeatPtr(p *protocol.RepeatMode) *protocol.Field[protocol.RepeatMode] {
	if p == nil {
		f := protocol.Cleared[protocol.RepeatMode]()
		return &f
	}
	f := protocol.Present(*p)
	return &f
}

func fieldFromBoolPtr(p *bool) *protocol.Field[bool] {
	if p == nil {
		f := protocol.Cleared[bool]()
		return &f
	}
	f := protocol.Present(*p)
	return &f
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func repeatPtrEqual(a, b *protocol.RepeatMode) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SetMetadata replaces the Group's canonical metadata, computes the
// diff against the previous value, and broadcasts it to metadata-role
// members only (spec.md §4.4 fan-out rule).
func (g *Group) SetMetadata(m Metadata, timestampMicros int64) {
	g.mu.Lock()
	prev := g.metadata
	hadPrev := g.metaSent
	g.metadata = m
	g.metaSent = true
	g.mu.Unlock()

	var update protocol.MetadataState
	if hadPrev {
		update = m.DiffUpdate(&prev, timestampMicros)
	} else {
		update = m.SnapshotUpdate(timestampMicros)
	}

	g.fanOut("server/state", protocol.ServerState{Metadata: &update}, func(mem Member) bool {
		return mem.HasRole(protocol.RoleMetadata)
	})
}

// ClearMetadata broadcasts a fully-nulled metadata update, e.g. when a
// Stream ends with nothing now playing.
func (g *Group) ClearMetadata(timestampMicros int64) {
	g.mu.Lock()
	g.metadata = Metadata{}
	g.metaSent = true
	g.mu.Unlock()

	update := ClearedUpdate(timestampMicros)
	g.fanOut("server/state", protocol.ServerState{Metadata: &update}, func(mem Member) bool {
		return mem.HasRole(protocol.RoleMetadata)
	})
}
