// ABOUTME: Group Engine membership, playback state, and role-gated fan-out
// ABOUTME: One Group owns a set of members that receive the same logical playback
package group

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// PlaybackState aliases the wire-level three-valued state so the rest
// of this package can refer to it without repeating the protocol
// package qualifier on every line.
type PlaybackState = protocol.PlaybackState

const (
	PlaybackPlaying = protocol.PlaybackPlaying
	PlaybackPaused  = protocol.PlaybackPaused
	PlaybackStopped = protocol.PlaybackStopped
)

// Member is the subset of Connection Endpoint behavior the Group Engine
// depends on. *conn.Endpoint satisfies this directly; Group never
// imports the conn package, which keeps the dependency direction
// Endpoint -> (handler callback) -> Group rather than circular.
type Member interface {
	ID() string
	HasRole(protocol.Role) bool
	SendText(msgType string, payload any) error
	SetStreamActive(active bool)
}

// CapabilityProvider reports which media commands the hosting
// application can actually service for a given playback state. Commands
// the application cannot perform MUST NOT appear in supported_commands
// (spec.md §4.4).
type CapabilityProvider interface {
	SupportedCommands(state protocol.PlaybackState) []protocol.MediaCommand
}

// StreamController is notified when a Group's membership or playback
// state changes in ways that affect the active Stream: new members need
// a StreamSession, playback transitions start/stop encoding. Kept as a
// narrow interface so the Stream Scheduler package can implement it
// without the Group Engine importing internal/stream.
type StreamController interface {
	MemberJoinedStream(groupID string, m Member)
	MemberLeftStream(groupID string, m Member)
	GroupPlaybackChanged(groupID string, state protocol.PlaybackState)
}

// Group is a set of Endpoints receiving the same logical playback. The
// member set is non-empty for its entire lifetime: the last member
// leaving disposes the Group (the registry, not this type, enforces
// that by dropping its reference).
type Group struct {
	mu sync.Mutex

	id   string
	name string

	members map[string]Member
	volumes map[string]int // per-member player volume, 0..100
	muted   map[string]bool

	playback PlaybackState
	metadata Metadata
	metaSent bool // whether the canonical metadata has been sent at least once

	caps       CapabilityProvider
	controller StreamController
}

// New creates a Group with a single initial member.
func New(id, name string, first Member, caps CapabilityProvider, controller StreamController) *Group {
	g := &Group{
		id:         id,
		name:       name,
		members:    make(map[string]Member),
		volumes:    make(map[string]int),
		muted:      make(map[string]bool),
		playback:   PlaybackStopped,
		caps:       caps,
		controller: controller,
	}
	g.addMemberLocked(first)
	g.sendInitialUpdate(first)
	return g
}

func (g *Group) ID() string   { return g.id }
func (g *Group) Name() string { return g.name }

// MemberCount returns the current membership size.
func (g *Group) MemberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// PlaybackState returns the current three-valued playback state.
func (g *Group) PlaybackState() PlaybackState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playback
}

func (g *Group) addMemberLocked(m Member) {
	g.members[m.ID()] = m
	if _, ok := g.volumes[m.ID()]; !ok {
		g.volumes[m.ID()] = 100
	}
}

// AddMember admits a new member. If a Stream is already active, the
// Group notifies the StreamController so it can create a StreamSession
// and emit stream/start with future-dated frames only (no catch-up).
// Every joining member receives an initial group/update carrying
// playback_state, group_id, and group_name (spec.md §4.4) and, if
// metadata has ever been set, a full snapshot rather than a diff.
func (g *Group) AddMember(m Member) {
	g.mu.Lock()
	g.addMemberLocked(m)
	playing := g.playback == PlaybackPlaying
	snapshot := g.metaSent
	meta := g.metadata
	g.mu.Unlock()

	g.sendInitialUpdate(m)

	if snapshot && m.HasRole(protocol.RoleMetadata) {
		ts := time.Now().UnixMicro()
		update := meta.SnapshotUpdate(ts)
		_ = m.SendText("server/state", protocol.ServerState{Metadata: &update})
	}

	if playing && g.controller != nil && roleWantsStream(m) {
		g.controller.MemberJoinedStream(g.id, m)
	}
}

func roleWantsStream(m Member) bool {
	return m.HasRole(protocol.RolePlayer) || m.HasRole(protocol.RoleArtwork) || m.HasRole(protocol.RoleVisualizer)
}

// RemoveMember deregisters a member. Returns the remaining member count
// so the caller (the Group registry) can dispose the Group when it
// reaches zero.
func (g *Group) RemoveMember(id string) int {
	g.mu.Lock()
	m, _ := g.members[id]
	delete(g.members, id)
	delete(g.volumes, id)
	delete(g.muted, id)
	remaining := len(g.members)
	g.mu.Unlock()

	if g.controller != nil && m != nil {
		g.controller.MemberLeftStream(g.id, m)
	}
	return remaining
}

func (g *Group) sendInitialUpdate(m Member) {
	g.mu.Lock()
	state := g.playback
	id := g.id
	name := g.name
	g.mu.Unlock()

	psField := protocol.Present(protocol.PlaybackState(state))
	idField := protocol.Present(id)
	nameField := protocol.Present(name)
	_ = m.SendText("group/update", protocol.GroupUpdate{
		PlaybackState: &psField,
		GroupID:       &idField,
		GroupName:     &nameField,
	})
}

// fanOut sends a message to every member whose role passes predicate.
func (g *Group) fanOut(msgType string, payload any, predicate func(Member) bool) {
	g.mu.Lock()
	targets := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		if predicate(m) {
			targets = append(targets, m)
		}
	}
	g.mu.Unlock()

	for _, m := range targets {
		_ = m.SendText(msgType, payload)
	}
}

// broadcastGroupUpdate sends a group/update to every member (core
// fan-out rule: group/update goes to all members regardless of role).
func (g *Group) broadcastGroupUpdate(delta protocol.GroupUpdate) {
	g.fanOut("group/update", delta, func(Member) bool { return true })
}

// transitionPlayback applies one of the three playback transitions
// (play/pause/stop) and reports the resulting state, matching spec.md
// §4.4's exact transition table. Invalid transitions (e.g. "pause" while
// already stopped) are no-ops from the caller's perspective: the
// three-valued model always has a well-defined next state for any
// command, so this never errors.
func (g *Group) transitionPlayback(cmd protocol.MediaCommand) PlaybackState {
	g.mu.Lock()
	switch cmd {
	case protocol.CommandPlay:
		g.playback = PlaybackPlaying
	case protocol.CommandPause:
		if g.playback == PlaybackPlaying {
			g.playback = PlaybackPaused
		}
	case protocol.CommandStop:
		g.playback = PlaybackStopped
	}
	next := g.playback
	g.mu.Unlock()
	return next
}

// HandleCommand processes a client/command controller payload: resolves
// supported_commands for the current state, rejects (silently, per the
// reference behavior) anything not on that list, and otherwise applies
// play/pause/stop/volume/mute/switch/repeat/shuffle/next/previous.
func (g *Group) HandleCommand(from Member, cmd protocol.ControllerCommandPayload) error {
	supported := g.SupportedCommands()
	if !commandAllowed(supported, cmd.Command) {
		return nil
	}

	switch cmd.Command {
	case protocol.CommandPlay, protocol.CommandPause, protocol.CommandStop:
		next := g.transitionPlayback(cmd.Command)
		psField := protocol.Present(next)
		g.broadcastGroupUpdate(protocol.GroupUpdate{PlaybackState: &psField})
		if g.controller != nil {
			g.controller.GroupPlaybackChanged(g.id, next)
		}
	case protocol.CommandVolume:
		if cmd.Volume == nil {
			return fmt.Errorf("group: volume command missing volume")
		}
		g.SetVolume(*cmd.Volume)
	case protocol.CommandMute:
		if cmd.Mute == nil {
			return fmt.Errorf("group: mute command missing mute")
		}
		g.SetMuted(*cmd.Mute)
	case protocol.CommandSwitch:
		// Handled by the caller via Registry.Switch, which needs
		// visibility across all Groups; nothing to do locally.
	default:
		// next/previous/repeat_*/shuffle/unshuffle are forwarded as
		// controller state echoes only; no Group-level state to mutate.
	}
	return nil
}

func commandAllowed(supported []protocol.MediaCommand, want protocol.MediaCommand) bool {
	for _, c := range supported {
		if c == want {
			return true
		}
	}
	return false
}

// SupportedCommands computes the command set for the current playback
// state intersected with the application's declared capabilities.
func (g *Group) SupportedCommands() []protocol.MediaCommand {
	g.mu.Lock()
	state := g.playback
	g.mu.Unlock()
	if g.caps == nil {
		return nil
	}
	return g.caps.SupportedCommands(state)
}

// StreamMembers returns the members of the group that receive a Stream
// (player, artwork, or visualizer role) in deterministic id order, so a
// StreamController reacting to GroupPlaybackChanged can start or stop a
// StreamSession per member without its own membership bookkeeping.
func (g *Group) StreamMembers() []Member {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Member, 0, len(g.members))
	for _, id := range g.sortedMemberIDs() {
		m := g.members[id]
		if roleWantsStream(m) {
			out = append(out, m)
		}
	}
	return out
}

// sortedMemberIDs returns member ids in ascending lexicographic order,
// for deterministic iteration where the spec requires it (cross-group
// lock ordering, switch cycling's tie-breaks).
func (g *Group) sortedMemberIDs() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
