package core

import "github.com/roomcast/roomcast-server/internal/store"

// ActiveMembership is the transient record of who is attached to a
// conversation right now. It caches display metadata and counts attached
// connections per identity so that an identity stays in the member set for
// as long as at least one of its connections is attached (multi-device).
type ActiveMembership struct {
	ConversationID int64
	Kind           store.Kind
	Name           string
	DisplayName    string

	members map[int64]int
}

// Tracker holds the per-process active membership of every conversation seen
// so far. Records are created lazily on first attach and retained when the
// member set empties; a rapid leave/re-join therefore reuses the same record.
// Accessed only from the hub goroutine.
type Tracker struct {
	conversations map[int64]*ActiveMembership
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{conversations: make(map[int64]*ActiveMembership)}
}

// Attach adds the identity to the conversation's member set, lazily creating
// the membership record from the conversation's metadata.
func (t *Tracker) Attach(conv *store.Conversation, identityID int64) *ActiveMembership {
	am := t.conversations[conv.ID]
	if am == nil {
		am = &ActiveMembership{
			ConversationID: conv.ID,
			Kind:           conv.Kind,
			Name:           conv.Name,
			DisplayName:    conv.DisplayName,
			members:        make(map[int64]int),
		}
		t.conversations[conv.ID] = am
	}
	am.members[identityID]++
	return am
}

// Detach removes one attached connection of the identity. The identity leaves
// the member set only when its last attached connection detaches. The record
// itself is never deleted, even when empty.
func (t *Tracker) Detach(conversationID, identityID int64) {
	am := t.conversations[conversationID]
	if am == nil {
		return
	}
	n := am.members[identityID]
	switch {
	case n <= 1:
		delete(am.members, identityID)
	default:
		am.members[identityID] = n - 1
	}
}

// Get returns the membership record for a conversation, if one exists.
func (t *Tracker) Get(conversationID int64) (*ActiveMembership, bool) {
	am, ok := t.conversations[conversationID]
	return am, ok
}

// MembersOf returns the identity IDs currently attached to the conversation.
func (t *Tracker) MembersOf(conversationID int64) []int64 {
	am := t.conversations[conversationID]
	if am == nil || len(am.members) == 0 {
		return nil
	}
	out := make([]int64, 0, len(am.members))
	for id := range am.members {
		out = append(out, id)
	}
	return out
}

// SharedConversationsOf returns every conversation whose member set contains
// the identity. Used by the presence broadcaster to compute fan-out targets.
func (t *Tracker) SharedConversationsOf(identityID int64) []int64 {
	var out []int64
	for id, am := range t.conversations {
		if _, ok := am.members[identityID]; ok {
			out = append(out, id)
		}
	}
	return out
}
