/**
 * @description
 * This file implements the observer side of presence tracking: an in-process
 * hub fanning presence updates out to any number of subscribers, each watching
 * a single user's record. Updates arrive from local tracker sessions and from
 * the broker consumer (sessions owned by other instances).
 *
 * @notes
 * - Delivery is best-effort: a subscriber that stops draining its channel has
 *   updates dropped rather than blocking the hub. Observers converge through
 *   the next update, matching the last-write-wins presence model.
 */
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/internal/store"
)

const subscriberBuffer = 8

// Store is the subset of the repository the presence layer needs.
type Store interface {
	UpsertPresence(ctx context.Context, rec domain.PresenceRecord) error
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error)
}

// Hub fans presence updates out to per-user subscribers.
type Hub struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan domain.PresenceUpdate]struct{}
}

// NewHub creates an empty hub backed by the given snapshot store.
func NewHub(st Store, logger *slog.Logger) *Hub {
	return &Hub{
		store:  st,
		logger: logger,
		subs:   make(map[uuid.UUID]map[chan domain.PresenceUpdate]struct{}),
	}
}

// Snapshot returns the current presence record for a user. A user with no
// presence history or a failed read yields an offline record, never an error.
func (h *Hub) Snapshot(ctx context.Context, userID uuid.UUID) domain.PresenceRecord {
	rec, err := h.store.GetPresence(ctx, userID)
	if err == nil {
		return *rec
	}
	if !errors.Is(err, store.ErrPresenceNotFound) {
		h.logger.Warn("presence snapshot read failed; reporting offline", "user_id", userID, "err", err)
	}
	return domain.PresenceRecord{UserID: userID}
}

// Watch returns the current presence snapshot for a user together with a
// subscription channel for subsequent updates and a cancel function. A user
// with no presence history yields an offline snapshot; a failed snapshot read
// is logged and also yields an offline snapshot (presence fails open, it never
// surfaces an error to observers). The cancel function is idempotent and must
// be called to release the subscription.
func (h *Hub) Watch(ctx context.Context, userID uuid.UUID) (domain.PresenceRecord, <-chan domain.PresenceUpdate, func()) {
	snapshot := h.Snapshot(ctx, userID)

	ch := make(chan domain.PresenceUpdate, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan domain.PresenceUpdate]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[userID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, userID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}

	return snapshot, ch, cancel
}

// Broadcast pushes an update to every subscriber watching the user. Sends
// never block; a full subscriber buffer drops the update.
func (h *Hub) Broadcast(update domain.PresenceUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[update.UserID] {
		select {
		case ch <- update:
		default:
			h.logger.Debug("slow presence subscriber; update dropped", "user_id", update.UserID)
		}
	}
}

// HandleBrokerMessage adapts broker deliveries on presence.updated.* into hub
// broadcasts. Malformed payloads are logged and dropped (acked) — re-queuing
// them could never succeed.
func (h *Hub) HandleBrokerMessage(routingKey string, body []byte) bool {
	var update domain.PresenceUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		h.logger.Warn("dropping malformed presence update", "routing_key", routingKey, "err", err)
		return true
	}
	h.Broadcast(update)
	return true
}
