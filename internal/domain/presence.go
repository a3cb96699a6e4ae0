package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRecord is the per-user online/offline row. Exactly one row exists
// per user (upsert keyed on user_id); rows are never deleted. Observers
// interpret staleness from the age of LastSeen.
type PresenceRecord struct {
	UserID   uuid.UUID `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceUpdate is the change-feed payload pushed to observers, both over
// the in-process hub and the broker's presence.updated.<user_id> routing key.
type PresenceUpdate struct {
	UserID   uuid.UUID `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}
