// ABOUTME: Aggregate group volume and mute
// ABOUTME: Reported volume is the mean of member volumes; setting scales proportionally
package group

import "math"

// Volume returns the group's aggregate volume: the mean of member
// player volumes, rounded to the nearest integer (spec.md §4.4).
func (g *Group) Volume() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return meanVolume(g.volumes)
}

func meanVolume(volumes map[string]int) int {
	if len(volumes) == 0 {
		return 0
	}
	sum := 0
	for _, v := range volumes {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(volumes))))
}

// SetVolume sets the group's aggregate volume to target (clamped to
// 0..100) by scaling every member's volume proportionally to its
// current share of the old mean.
//
// Open Question resolution (spec.md §9): members preserve their volume
// ratio relative to each other; the result is clamped to 0..100; a
// member sitting at volume 0 (ratio undefined — 0 * anything is 0)
// is lifted to ceil(delta) on a volume increase so muted-at-zero
// members still participate in a group-wide raise instead of staying
// silent forever. This mirrors how a physical mixer's "master fader"
// behaves: turning it up always audibly moves every channel.
func (g *Group) SetVolume(target int) {
	target = clampVolume(target)

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.volumes) == 0 {
		return
	}

	current := meanVolume(g.volumes)
	delta := target - current

	if current == 0 {
		// Every member is at 0: there is no ratio to preserve, so the
		// new target volume is applied uniformly.
		for id := range g.volumes {
			g.volumes[id] = target
		}
		return
	}

	for id, v := range g.volumes {
		if v == 0 {
			if delta > 0 {
				g.volumes[id] = clampVolume(int(math.Ceil(float64(delta))))
			}
			continue
		}
		scaled := float64(v) * float64(target) / float64(current)
		g.volumes[id] = clampVolume(int(math.Round(scaled)))
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// MemberVolume returns one member's individual volume.
func (g *Group) MemberVolume(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volumes[id]
}

// Muted reports whether the group is currently fully muted: true only
// if every member is muted.
func (g *Group) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.muted) == 0 {
		return false
	}
	for _, m := range g.muted {
		if !m {
			return false
		}
	}
	return true
}

// SetMuted toggles group mute. Unmuting restores each member to the
// volume it held before the mute (spec.md §4.4); muting does not alter
// stored volumes, only the per-member muted flag, so unmute is exact.
func (g *Group) SetMuted(muted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.volumes {
		g.muted[id] = muted
	}
}

// MemberMuted returns one member's individual mute state.
func (g *Group) MemberMuted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted[id]
}
