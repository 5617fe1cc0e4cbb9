package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/roomcast/roomcast-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// fakeStore is an in-memory store.Store for hub tests.
type fakeStore struct {
	mu sync.Mutex

	identities map[int64]*store.Identity
	convs      map[int64]*store.Conversation
	members    map[int64][]int64
	messages   map[int64][]*store.Message

	nextConvID int64
	nextMsgID  int64

	saveErr   error
	statusErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities: make(map[int64]*store.Identity),
		convs:      make(map[int64]*store.Conversation),
		members:    make(map[int64][]int64),
		messages:   make(map[int64][]*store.Message),
	}
}

func (f *fakeStore) addIdentity(id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[id] = &store.Identity{
		ID:          id,
		Username:    name,
		DisplayName: name,
		Status:      store.StatusOffline,
	}
}

func (f *fakeStore) CreateIdentity(_ context.Context, username, passwordHash string) (*store.Identity, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeStore) CreateGuestIdentity(_ context.Context, sessionID string) (*store.Identity, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeStore) GetIdentityByID(_ context.Context, id int64) (*store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (f *fakeStore) GetIdentityByUsername(_ context.Context, username string) (*store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if ident.Username == username {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetIdentityBySessionID(_ context.Context, _ string) (*store.Identity, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateIdentityStatus(_ context.Context, id int64, status store.Status, statusMessage string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	ident, ok := f.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	ident.Status = status
	ident.StatusMessage = statusMessage
	ident.LastSeen = lastSeen
	return nil
}

func (f *fakeStore) identityStatus(id int64) store.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ident, ok := f.identities[id]; ok {
		return ident.Status
	}
	return ""
}

func (f *fakeStore) CreateConversation(_ context.Context, name, displayName string, kind store.Kind) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.Kind == kind && conv.Name == name {
			return nil, store.ErrConflict
		}
	}
	f.nextConvID++
	conv := &store.Conversation{
		ID:          f.nextConvID,
		Kind:        kind,
		Name:        name,
		DisplayName: displayName,
	}
	f.convs[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

func (f *fakeStore) CreateDirectConversation(_ context.Context, directKey string, idA, idB int64) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.DirectKey != nil && *conv.DirectKey == directKey {
			return nil, store.ErrConflict
		}
	}
	f.nextConvID++
	key := directKey
	conv := &store.Conversation{
		ID:        f.nextConvID,
		Kind:      store.KindDirect,
		Name:      fmt.Sprintf("dm-%d-%d", idA, idB),
		DirectKey: &key,
	}
	f.convs[conv.ID] = conv
	f.members[conv.ID] = []int64{idA, idB}
	cp := *conv
	return &cp, nil
}

func (f *fakeStore) GetConversationByID(_ context.Context, id int64) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (f *fakeStore) GetConversationByName(_ context.Context, name string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.Kind == store.KindPublic && conv.Name == name {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetConversationByDirectKey(_ context.Context, directKey string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.convs {
		if conv.DirectKey != nil && *conv.DirectKey == directKey {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ConversationParticipants(_ context.Context, conversationID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.members[conversationID]...), nil
}

func (f *fakeStore) TouchActivity(_ context.Context, conversationID int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[conversationID]; ok {
		conv.LastActivity = ts
	}
	return nil
}

func (f *fakeStore) lastActivity(conversationID int64) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.convs[conversationID]; ok {
		return conv.LastActivity
	}
	return time.Time{}
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.nextMsgID++
	msg.ID = f.nextMsgID
	cp := *msg
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], &cp)
	return nil
}

func (f *fakeStore) RecentMessages(_ context.Context, conversationID int64, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) messageCount(conversationID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[conversationID])
}

func (f *fakeStore) Close() error { return nil }

// startHub runs a hub over a fresh fake store and returns both.
func startHub(t *testing.T) (*Hub, *fakeStore) {
	t.Helper()

	fs := newFakeStore()
	hub := NewHub(fs, nil, HubConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return hub, fs
}

func newTestClient(id int64, name string) *Client {
	return NewClient(Snapshot{ID: id, Name: name, Status: store.StatusOffline})
}

func joinPublic(c *Client, name string) {
	c.Commands <- &Command{
		Kind:             CommandJoin,
		ConversationKind: store.KindPublic,
		ConversationName: name,
	}
}
