// ABOUTME: Tests for Group membership, playback state, and fan-out
package group

import (
	"sync"
	"testing"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

type fakeMember struct {
	id    string
	roles []protocol.Role

	mu           sync.Mutex
	sent         []sentMessage
	streamActive bool
}

type sentMessage struct {
	msgType string
	payload any
}

func newFakeMember(id string, roles ...protocol.Role) *fakeMember {
	return &fakeMember{id: id, roles: roles}
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) HasRole(r protocol.Role) bool {
	for _, declared := range f.roles {
		if declared == r {
			return true
		}
	}
	return false
}

func (f *fakeMember) SendText(msgType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msgType, payload})
	return nil
}

func (f *fakeMember) SetStreamActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamActive = active
}

func (f *fakeMember) messagesOfType(msgType string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.msgType == msgType {
			out = append(out, m)
		}
	}
	return out
}

type staticCaps struct {
	commands []protocol.MediaCommand
}

func (s staticCaps) SupportedCommands(protocol.PlaybackState) []protocol.MediaCommand {
	return s.commands
}

var allCommands = staticCaps{commands: []protocol.MediaCommand{
	protocol.CommandPlay, protocol.CommandPause, protocol.CommandStop,
	protocol.CommandVolume, protocol.CommandMute, protocol.CommandSwitch,
}}

func TestNewMemberReceivesInitialGroupUpdate(t *testing.T) {
	m := newFakeMember("c1", protocol.RolePlayer)
	g := New("g1", "Kitchen", m, allCommands, nil)
	_ = g

	updates := m.messagesOfType("group/update")
	if len(updates) != 1 {
		t.Fatalf("expected exactly one initial group/update, got %d", len(updates))
	}
	gu, ok := updates[0].payload.(protocol.GroupUpdate)
	if !ok {
		t.Fatalf("unexpected payload type %T", updates[0].payload)
	}
	if gu.GroupID == nil || gu.GroupID.Value != "g1" {
		t.Errorf("expected group_id=g1, got %+v", gu.GroupID)
	}
	if gu.PlaybackState == nil || gu.PlaybackState.Value != PlaybackStopped {
		t.Errorf("expected initial playback_state=stopped, got %+v", gu.PlaybackState)
	}
}

func TestPlaybackStateCompletenessSequence(t *testing.T) {
	// spec.md §8 property 8: play, pause, play, stop -> playing, paused, playing, stopped.
	m := newFakeMember("c1", protocol.RolePlayer, protocol.RoleController)
	g := New("g1", "Kitchen", m, allCommands, nil)

	sequence := []protocol.MediaCommand{protocol.CommandPlay, protocol.CommandPause, protocol.CommandPlay, protocol.CommandStop}
	want := []PlaybackState{PlaybackPlaying, PlaybackPaused, PlaybackPlaying, PlaybackStopped}

	for _, cmd := range sequence {
		if err := g.HandleCommand(m, protocol.ControllerCommandPayload{Command: cmd}); err != nil {
			t.Fatalf("HandleCommand(%s): %v", cmd, err)
		}
	}

	updates := m.messagesOfType("group/update")
	// First update is the initial join; the remaining four are the sequence.
	if len(updates) != len(want)+1 {
		t.Fatalf("expected %d group/update messages, got %d", len(want)+1, len(updates))
	}
	for i, w := range want {
		gu := updates[i+1].payload.(protocol.GroupUpdate)
		if gu.PlaybackState == nil || gu.PlaybackState.Value != w {
			t.Errorf("step %d: expected playback_state=%s, got %+v", i, w, gu.PlaybackState)
		}
	}
}

func TestUnsupportedCommandSilentlyIgnored(t *testing.T) {
	m := newFakeMember("c1", protocol.RoleController)
	noVolume := staticCaps{commands: []protocol.MediaCommand{protocol.CommandPlay}}
	g := New("g1", "Kitchen", m, noVolume, nil)

	vol := 50
	if err := g.HandleCommand(m, protocol.ControllerCommandPayload{Command: protocol.CommandVolume, Volume: &vol}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Volume() == 50 {
		t.Error("expected unsupported volume command to be ignored, not applied")
	}
}

func TestMetadataRoleGatedFanOut(t *testing.T) {
	playerOnly := newFakeMember("player", protocol.RolePlayer)
	metaOnly := newFakeMember("meta", protocol.RoleMetadata)
	g := New("g1", "Kitchen", playerOnly, allCommands, nil)
	g.AddMember(metaOnly)

	title := "Song"
	g.SetMetadata(Metadata{Title: &title}, 1000)

	if len(playerOnly.messagesOfType("server/state")) != 0 {
		t.Error("expected player-only member to never receive server/state.metadata")
	}
	if len(metaOnly.messagesOfType("server/state")) != 1 {
		t.Errorf("expected metadata member to receive exactly one server/state, got %d", len(metaOnly.messagesOfType("server/state")))
	}
}

func TestLastMemberLeavingReportsZeroRemaining(t *testing.T) {
	m := newFakeMember("c1", protocol.RolePlayer)
	g := New("g1", "Kitchen", m, allCommands, nil)
	if remaining := g.RemoveMember("c1"); remaining != 0 {
		t.Errorf("expected 0 remaining members, got %d", remaining)
	}
}
