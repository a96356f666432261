package peermessaging

import "sync"

// GroupTable is the in-memory group_id -> member user_ids address
// book populated by the group_create/group_join/group_leave family
// (SPEC_FULL.md SUPPLEMENTED FEATURES item 4; purely additive to the
// §4.H dispatch table).
type GroupTable struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewGroupTable constructs an empty table.
func NewGroupTable() *GroupTable {
	return &GroupTable{members: map[string]map[string]struct{}{}}
}

// Join adds userID to groupID, creating the group if needed
// (covers both group_create and group_join — creation is implicit).
func (g *GroupTable) Join(groupID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[groupID]
	if !ok {
		set = map[string]struct{}{}
		g.members[groupID] = set
	}
	set[userID] = struct{}{}
}

// Leave removes userID from groupID.
func (g *GroupTable) Leave(groupID, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.members[groupID]
	if !ok {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(g.members, groupID)
	}
}

// Members returns a snapshot of groupID's member user ids.
func (g *GroupTable) Members(groupID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.members[groupID]
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	return out
}
