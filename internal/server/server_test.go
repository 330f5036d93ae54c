// ABOUTME: Tests for Server's CapabilityProvider and session bookkeeping
package server

import (
	"testing"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

func TestSupportedCommandsExcludesPauseStopWhileStopped(t *testing.T) {
	s := New(Config{Port: 0, Name: "test"})
	cmds := s.SupportedCommands(protocol.PlaybackStopped)

	want := map[protocol.MediaCommand]bool{
		protocol.CommandPlay: true, protocol.CommandVolume: true,
		protocol.CommandMute: true, protocol.CommandSwitch: true,
	}
	if len(cmds) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), cmds)
	}
	for _, c := range cmds {
		if !want[c] {
			t.Errorf("unexpected command %s while stopped", c)
		}
	}
}

func TestSupportedCommandsOffersPauseStopWhilePlaying(t *testing.T) {
	s := New(Config{Port: 0, Name: "test"})
	cmds := s.SupportedCommands(protocol.PlaybackPlaying)

	has := func(want protocol.MediaCommand) bool {
		for _, c := range cmds {
			if c == want {
				return true
			}
		}
		return false
	}
	if !has(protocol.CommandPause) || !has(protocol.CommandStop) {
		t.Errorf("expected pause and stop while playing, got %v", cmds)
	}
	if has(protocol.CommandPlay) {
		t.Errorf("play should not be offered while already playing, got %v", cmds)
	}
}

func TestHasDuplicateClientIDDetectsCollision(t *testing.T) {
	s := New(Config{Port: 0, Name: "test"})
	sess := &clientSession{server: s, clientID: "client-1"}
	s.sessions["endpoint-1"] = sess

	if !s.hasDuplicateClientID("client-1") {
		t.Error("expected duplicate client_id to be detected")
	}
	if s.hasDuplicateClientID("client-2") {
		t.Error("unrelated client_id should not be flagged as duplicate")
	}
}
