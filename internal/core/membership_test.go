package core

import (
	"testing"

	"github.com/roomcast/roomcast-server/internal/store"
)

func testConversation(id int64, name string) *store.Conversation {
	return &store.Conversation{ID: id, Kind: store.KindPublic, Name: name}
}

func TestTrackerAttachDetach(t *testing.T) {
	tr := NewTracker()
	conv := testConversation(1, "general")

	tr.Attach(conv, 1)
	tr.Attach(conv, 2)

	if got := len(tr.MembersOf(1)); got != 2 {
		t.Fatalf("members = %d, want 2", got)
	}

	tr.Detach(1, 2)
	members := tr.MembersOf(1)
	if len(members) != 1 || members[0] != 1 {
		t.Fatalf("unexpected members after detach: %v", members)
	}
}

func TestTrackerMultiDeviceRefcount(t *testing.T) {
	tr := NewTracker()
	conv := testConversation(1, "general")

	// Two connections of the same identity.
	tr.Attach(conv, 1)
	tr.Attach(conv, 1)

	tr.Detach(1, 1)
	if got := len(tr.MembersOf(1)); got != 1 {
		t.Fatalf("identity left member set while a connection remains, members = %d", got)
	}

	tr.Detach(1, 1)
	if tr.MembersOf(1) != nil {
		t.Fatal("identity remains a member after its last connection detached")
	}
}

func TestTrackerRetainsEmptyRecords(t *testing.T) {
	tr := NewTracker()
	conv := testConversation(1, "general")

	tr.Attach(conv, 1)
	tr.Detach(1, 1)

	am, ok := tr.Get(1)
	if !ok {
		t.Fatal("record deleted after its last member detached")
	}
	if am.Name != "general" {
		t.Fatalf("record name = %q, want %q", am.Name, "general")
	}

	// A re-join reuses the retained record.
	tr.Attach(conv, 2)
	again, _ := tr.Get(1)
	if again != am {
		t.Fatal("re-attach created a new record instead of reusing the retained one")
	}
}

func TestTrackerDetachUnknownConversation(t *testing.T) {
	tr := NewTracker()
	tr.Detach(42, 1) // must not panic
	if _, ok := tr.Get(42); ok {
		t.Fatal("detach created a record")
	}
}

func TestTrackerSharedConversations(t *testing.T) {
	tr := NewTracker()
	tr.Attach(testConversation(1, "general"), 1)
	tr.Attach(testConversation(1, "general"), 2)
	tr.Attach(testConversation(2, "random"), 1)
	tr.Attach(testConversation(3, "quiet"), 3)

	shared := tr.SharedConversationsOf(1)
	if len(shared) != 2 {
		t.Fatalf("shared conversations = %v, want 2 entries", shared)
	}
	for _, id := range shared {
		if id != 1 && id != 2 {
			t.Fatalf("unexpected conversation %d in %v", id, shared)
		}
	}

	if got := tr.SharedConversationsOf(99); got != nil {
		t.Fatalf("expected no conversations for unknown identity, got %v", got)
	}
}
