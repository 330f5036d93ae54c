// ABOUTME: Cross-Group registry and the switch command's group-cycling algorithm
// ABOUTME: Ported from aioresonate's ControllerClient._build_group_cycle
package group

import (
	"sort"

	"github.com/resonatehq-oss/resonate/pkg/protocol"
)

// Registry tracks every live Group so controller-role members can cycle
// between them with the switch command. No Registry method ever holds
// two Groups' locks at once — Switch calls RemoveMember/AddMember
// sequentially rather than nested — so the cross-group lock ordering
// this package documents (ascending group id) is a discipline for any
// future multi-group operation rather than something Switch itself
// needs to enforce today.
type Registry struct {
	mu     chan struct{} // binary semaphore; see lock()/unlock() below
	groups map[string]*Group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{mu: make(chan struct{}, 1), groups: make(map[string]*Group)}
	r.mu <- struct{}{}
	return r
}

func (r *Registry) lock()   { <-r.mu }
func (r *Registry) unlock() { r.mu <- struct{}{} }

// Add registers a Group.
func (r *Registry) Add(g *Group) {
	r.lock()
	defer r.unlock()
	r.groups[g.ID()] = g
}

// Remove deregisters a Group, normally once its last member leaves.
func (r *Registry) Remove(id string) {
	r.lock()
	defer r.unlock()
	delete(r.groups, id)
}

// Get looks up a Group by id.
func (r *Registry) Get(id string) (*Group, bool) {
	r.lock()
	defer r.unlock()
	g, ok := r.groups[id]
	return g, ok
}

// Switch cycles member from its current Group to the next Group in the
// switch-command cycle, per spec.md §4.4 and §9's resolved Open
// Question. Returns the Group the member ends up in (which may be the
// same Group if the cycle is empty or has only one entry).
func (r *Registry) Switch(current *Group, member Member) *Group {
	cycle := r.buildGroupCycle(current, member.HasRole(protocol.RolePlayer))
	if len(cycle) == 0 {
		return current
	}

	idx := -1
	for i, g := range cycle {
		if g == current {
			idx = i
			break
		}
	}
	nextIdx := 0
	if idx >= 0 {
		nextIdx = (idx + 1) % len(cycle)
	}
	next := cycle[nextIdx]
	if next == current {
		return current
	}

	if remaining := current.RemoveMember(member.ID()); remaining == 0 {
		r.Remove(current.ID())
	}
	next.AddMember(member)
	return next
}

// buildGroupCycle partitions all registered Groups into three bands —
// multi-member groups that are currently playing, solo groups other
// than current, and current's own solo slot — sorts each band
// lexicographically by group id, and concatenates them. A member
// without the player role never gets its own solo group appended,
// matching aioresonate's behavior: a controller-only client cycles
// through other groups but has no "own" playback to land back on.
func (r *Registry) buildGroupCycle(current *Group, hasPlayerRole bool) []*Group {
	r.lock()
	all := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		all = append(all, g)
	}
	r.unlock()

	var multiPlaying, solo, ownSolo []*Group
	for _, g := range all {
		count := g.MemberCount()
		playing := g.PlaybackState() == PlaybackPlaying
		switch {
		case count > 1 && playing:
			multiPlaying = append(multiPlaying, g)
		case count == 1:
			if g == current {
				ownSolo = append(ownSolo, g)
			} else {
				solo = append(solo, g)
			}
		}
	}

	sortGroupsByID(multiPlaying)
	sortGroupsByID(solo)

	cycle := append(append([]*Group{}, multiPlaying...), solo...)
	if hasPlayerRole {
		cycle = append(cycle, ownSolo...)
	}
	return cycle
}

func sortGroupsByID(groups []*Group) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID() < groups[j].ID() })
}
