/**
 * @description
 * This file implements the owner side of presence tracking. A Tracker hands
 * out one Session per signed-in user; the session publishes online/offline
 * transitions driven by client lifecycle signals (page visibility, network
 * connectivity) and re-publishes a heartbeat on a timer while online, so
 * observers can tell a live session from a stale record.
 *
 * @notes
 * - Presence is single-writer-per-user: only the owning session writes its
 *   user's record. Writes are last-write-wins upserts.
 * - Every publish fails open: store or broker errors are logged and the
 *   last-known local state is retained. Presence never surfaces errors to
 *   callers and never takes the product surface down with it.
 * - Session teardown is idempotent and deterministic — the ticker and its
 *   goroutine are always released, with one best-effort offline write.
 */
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/pkg/rabbitmq"
	"github.com/scribelink/assignment-service/pkg/retry"
)

const publishTimeout = 5 * time.Second

// missedHeartbeatLimit bounds how long a session outlives its client. A
// session that hears nothing from its client for this many heartbeat
// intervals is abandoned (crashed tab, dead network) and is torn down with
// an offline write instead of refreshing last_seen forever.
const missedHeartbeatLimit = 3

// Tracker creates owner sessions and routes their updates to the store, the
// local hub, and the broker.
type Tracker struct {
	store     Store
	hub       *Hub
	publisher rabbitmq.Publisher
	exchange  string
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker wires a tracker. heartbeat is the re-publish interval for online
// sessions; non-positive values are coerced to the 60s default.
func NewTracker(st Store, hub *Hub, pub rabbitmq.Publisher, exchange string, heartbeat time.Duration, logger *slog.Logger) *Tracker {
	if heartbeat <= 0 {
		heartbeat = 60 * time.Second
	}
	return &Tracker{
		store:     st,
		hub:       hub,
		publisher: pub,
		exchange:  exchange,
		heartbeat: heartbeat,
		logger:    logger,
		now:       time.Now,
	}
}

// Session is the owner handle for one user's presence record. It owns the
// heartbeat timer; Close releases it and is safe to call more than once.
// Every client signal refreshes the session's activity clock; a session
// that goes missedHeartbeatLimit intervals without one expires on its own.
type Session struct {
	tracker *Tracker
	userID  uuid.UUID

	mu           sync.Mutex
	online       bool
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Track starts an owner session: it immediately publishes online=true and
// begins the heartbeat loop. The caller must Close the session when the user
// signs out or the connection is torn down.
func (t *Tracker) Track(ctx context.Context, userID uuid.UUID) *Session {
	s := &Session{
		tracker:      t,
		userID:       userID,
		online:       true,
		lastActivity: t.now(),
		done:         make(chan struct{}),
	}

	t.publish(ctx, userID, true)

	go s.heartbeatLoop()

	return s
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.tracker.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// A client that crashed or lost its network can never call
			// Close; without this check the session would keep last_seen
			// fresh forever and observers could never detect staleness.
			if s.idleExpired() {
				s.tracker.logger.Info("presence session expired without client activity", "user_id", s.userID)
				s.Close()
				return
			}
			// Heartbeats only refresh an online record. An offline session
			// stays silent until the client reports a transition.
			if !s.Online() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			s.tracker.publish(ctx, s.userID, true)
			cancel()
		}
	}
}

// Online reports the locally-cached state.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Closed reports whether the session has been torn down, explicitly or by
// idle expiry. A closed session no longer heartbeats; callers holding one
// must start a new session to resume tracking.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = s.tracker.now()
	s.mu.Unlock()
}

func (s *Session) idleExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.now().Sub(s.lastActivity) > time.Duration(missedHeartbeatLimit)*s.tracker.heartbeat
}

// SetOnline records that the client became visible/connected again and
// publishes the transition.
func (s *Session) SetOnline(ctx context.Context) {
	s.setState(ctx, true)
}

// SetOffline records that the client was hidden or lost connectivity and
// publishes the transition.
func (s *Session) SetOffline(ctx context.Context) {
	s.setState(ctx, false)
}

func (s *Session) setState(ctx context.Context, online bool) {
	s.mu.Lock()
	s.online = online
	s.lastActivity = s.tracker.now()
	s.mu.Unlock()
	s.tracker.publish(ctx, s.userID, online)
}

// Heartbeat force-refreshes the record's timestamp while online. Exposed so
// clients can piggyback a keep-alive on user activity between timer ticks.
func (s *Session) Heartbeat(ctx context.Context) {
	// Any client signal counts as activity for idle expiry, even while the
	// cached state is offline.
	s.touch()
	if !s.Online() {
		return
	}
	s.tracker.publish(ctx, s.userID, true)
}

// Close stops the heartbeat loop and makes one best-effort offline write.
// A tab that disappears without calling Close simply goes stale, which
// observers detect from last_seen age.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.online = false
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		s.tracker.publish(ctx, s.userID, false)
	})
}

// publish upserts the record and notifies observers. The store write retries
// transient failures; any final error is logged and swallowed.
func (t *Tracker) publish(ctx context.Context, userID uuid.UUID, online bool) {
	rec := domain.PresenceRecord{UserID: userID, Online: online, LastSeen: t.now().UTC()}

	err := retry.Do(ctx, func(ctx context.Context) error {
		return t.store.UpsertPresence(ctx, rec)
	}, retry.WithMaxRetries(2), retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		t.logger.Warn("presence upsert retrying", "user_id", userID, "attempt", attempt, "delay", delay, "err", err)
	}))
	if err != nil {
		t.logger.Error("presence upsert failed; keeping last-known state", "user_id", userID, "online", online, "err", err)
		return
	}

	update := domain.PresenceUpdate(rec)
	t.hub.Broadcast(update)

	routingKey := fmt.Sprintf("%s%s", domain.RoutingKeyPresencePrefix, userID)
	if err := t.publisher.Publish(ctx, t.exchange, routingKey, update); err != nil {
		t.logger.Warn("presence broker publish failed", "user_id", userID, "err", err)
	}
}
