package core

import (
	"time"

	"github.com/roomcast/roomcast-server/internal/store"
)

// Snapshot is the cached view of an identity attached to a connection.
// It is read once at handshake time and refreshed only on explicit
// status-update events; the store remains the source of truth.
type Snapshot struct {
	ID            int64
	Name          string
	AvatarURL     string
	Status        store.Status
	StatusMessage string
	LastSeen      time.Time
}

// SnapshotOf builds a connection snapshot from a persisted identity.
func SnapshotOf(ident *store.Identity) Snapshot {
	return Snapshot{
		ID:            ident.ID,
		Name:          ident.DisplayName,
		AvatarURL:     ident.AvatarURL,
		Status:        ident.Status,
		StatusMessage: ident.StatusMessage,
		LastSeen:      ident.LastSeen,
	}
}
