package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/roomcast/roomcast-server/internal/store"
)

// DirectResolver finds or deterministically creates the single conversation
// representing a pair of identities. Concurrent creation attempts are
// resolved through the store's uniqueness constraint on the direct key plus
// a single re-query, not through in-process locking, so the protocol stays
// correct if multiple processes ever share the store.
type DirectResolver struct {
	conversations store.ConversationStore
}

// NewDirectResolver constructs a resolver on top of the conversation store.
func NewDirectResolver(conversations store.ConversationStore) *DirectResolver {
	return &DirectResolver{conversations: conversations}
}

// FindOrCreate returns the direct conversation for the unordered pair (a, b)
// and whether this call created it.
func (r *DirectResolver) FindOrCreate(ctx context.Context, a, b int64) (*store.Conversation, bool, error) {
	if a == b {
		return nil, false, ErrInvalidPair
	}
	if a > b {
		a, b = b, a
	}
	key := store.DirectKey(a, b)

	conv, err := r.conversations.GetConversationByDirectKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup direct conversation: %w", err)
	}

	conv, err = r.conversations.CreateDirectConversation(ctx, key, a, b)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return nil, false, fmt.Errorf("create direct conversation: %w", err)
	}

	// Lost the creation race; the winner's record must now exist.
	conv, err = r.conversations.GetConversationByDirectKey(ctx, key)
	if err == nil {
		return conv, false, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("direct conversation %q vanished after conflict: %w", key, ErrInconsistentState)
	}
	return nil, false, fmt.Errorf("re-lookup direct conversation: %w", err)
}
