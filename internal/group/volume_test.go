// ABOUTME: Tests for aggregate group volume and mute
package group

import "testing"

func TestVolumeIsMeanOfMembers(t *testing.T) {
	m1 := newFakeMember("c1", "player")
	g := New("g1", "Kitchen", m1, allCommands, nil)
	m2 := newFakeMember("c2", "player")
	g.AddMember(m2)

	g.volumes["c1"] = 40
	g.volumes["c2"] = 60

	if got := g.Volume(); got != 50 {
		t.Errorf("expected mean volume 50, got %d", got)
	}
}

func TestSetVolumeScalesProportionally(t *testing.T) {
	m1 := newFakeMember("c1", "player")
	g := New("g1", "Kitchen", m1, allCommands, nil)
	m2 := newFakeMember("c2", "player")
	g.AddMember(m2)

	g.volumes["c1"] = 20
	g.volumes["c2"] = 40
	// mean = 30; raise to 60 (2x): expect 40 and 80.
	g.SetVolume(60)

	if g.volumes["c1"] != 40 || g.volumes["c2"] != 80 {
		t.Errorf("expected proportional scale to (40, 80), got (%d, %d)", g.volumes["c1"], g.volumes["c2"])
	}
}

func TestSetVolumeClampsAndLiftsZeroMembers(t *testing.T) {
	m1 := newFakeMember("c1", "player")
	g := New("g1", "Kitchen", m1, allCommands, nil)
	m2 := newFakeMember("c2", "player")
	g.AddMember(m2)

	g.volumes["c1"] = 0
	g.volumes["c2"] = 50
	// mean = 25; raise to 75, delta = 50: c1 lifts to ceil(50)=50, c2 scales to 150 clamped to 100.
	g.SetVolume(75)

	if g.volumes["c1"] != 50 {
		t.Errorf("expected zero-volume member lifted to 50, got %d", g.volumes["c1"])
	}
	if g.volumes["c2"] != 100 {
		t.Errorf("expected scaled member clamped to 100, got %d", g.volumes["c2"])
	}
}

func TestSetMutedThenUnmuteRestoresVolume(t *testing.T) {
	m1 := newFakeMember("c1", "player")
	g := New("g1", "Kitchen", m1, allCommands, nil)
	g.volumes["c1"] = 77

	g.SetMuted(true)
	if !g.MemberMuted("c1") {
		t.Fatal("expected member muted")
	}
	if g.MemberVolume("c1") != 77 {
		t.Errorf("expected muting to preserve stored volume, got %d", g.MemberVolume("c1"))
	}

	g.SetMuted(false)
	if g.MemberMuted("c1") {
		t.Error("expected member unmuted")
	}
	if g.MemberVolume("c1") != 77 {
		t.Errorf("expected unmute to restore volume 77, got %d", g.MemberVolume("c1"))
	}
}
