package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scribelink/assignment-service/internal/app"
	"github.com/scribelink/assignment-service/internal/domain"
	"github.com/scribelink/assignment-service/internal/presence"
	"github.com/scribelink/assignment-service/pkg/rabbitmq"
)

type limiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, l.retryAfter, nil
}

func newTestRouter(repo *webhookRepoStub, limiter app.RateLimiter, limitPerMinute int) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, &rabbitmq.NoopPublisher{}, "scribelink.events", logger)
	hub := presence.NewHub(repo, logger)
	tracker := presence.NewTracker(repo, hub, &rabbitmq.NoopPublisher{}, "scribelink.events", time.Hour, logger)
	handlers := NewAssignmentHandlers(service, tracker, hub, limiter, limitPerMinute, logger)
	webhook := NewWebhookHandler(service, testWebhookSecret, false, logger)
	return Routes(handlers, webhook, AuthMiddlewareConfig{JWTSecret: testJWTSecret, AllowHeaderFallback: true})
}

func authedRequest(method, target string, body []byte, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("X-User-Id", userID.String())
	return req
}

func TestGetPresenceHandlerReturnsOfflineForUnknownUser(t *testing.T) {
	router := newTestRouter(newWebhookRepoStub(), nil, 0)
	watched := uuid.New()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/users/"+watched.String()+"/presence", nil, uuid.New()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec domain.PresenceRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.Online {
		t.Fatal("expected unknown user to read as offline")
	}
	if rec.UserID != watched {
		t.Fatalf("expected user %s, got %s", watched, rec.UserID)
	}
}

func TestGetPresenceHandlerReturnsStoredRecord(t *testing.T) {
	repo := newWebhookRepoStub()
	watched := uuid.New()
	lastSeen := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	repo.presenceRec = &domain.PresenceRecord{UserID: watched, Online: true, LastSeen: lastSeen}
	router := newTestRouter(repo, nil, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/users/"+watched.String()+"/presence", nil, uuid.New()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rec domain.PresenceRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !rec.Online || !rec.LastSeen.Equal(lastSeen) {
		t.Fatalf("expected stored record back, got %+v", rec)
	}
}

func TestUpdatePresenceHandlerStartsSession(t *testing.T) {
	repo := newWebhookRepoStub()
	router := newTestRouter(repo, nil, 0)
	userID := uuid.New()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPut, "/v1/presence", []byte(`{"online": true}`), userID))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(repo.presenceUpserts) == 0 {
		t.Fatal("expected presence upserts from the new session")
	}
	last := repo.presenceUpserts[len(repo.presenceUpserts)-1]
	if last.UserID != userID || !last.Online {
		t.Fatalf("expected online upsert for %s, got %+v", userID, last)
	}
}

func TestSessionForReplacesExpiredSession(t *testing.T) {
	repo := newWebhookRepoStub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, &rabbitmq.NoopPublisher{}, "scribelink.events", logger)
	hub := presence.NewHub(repo, logger)
	tracker := presence.NewTracker(repo, hub, &rabbitmq.NoopPublisher{}, "scribelink.events", time.Hour, logger)
	handlers := NewAssignmentHandlers(service, tracker, hub, nil, 0, logger)
	userID := uuid.New()

	first := handlers.sessionFor(userID)
	first.Close()

	// A closed session no longer heartbeats, so handing it back would leave
	// the caller tracked by a dead handle.
	second := handlers.sessionFor(userID)
	defer second.Close()

	if second == first {
		t.Fatal("expected a fresh session after the cached one closed")
	}
	if second.Closed() {
		t.Fatal("expected the replacement session to be open")
	}
	if !second.Online() {
		t.Fatal("expected the replacement session to start online")
	}
}

func TestPresenceHandlersEnforceRateLimit(t *testing.T) {
	limiter := &limiterStub{count: 121, retryAfter: 17}
	router := newTestRouter(newWebhookRepoStub(), limiter, 120)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/presence/heartbeat", nil, uuid.New()))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "17" {
		t.Fatalf("expected Retry-After 17, got %q", got)
	}
}

func TestPresenceRateLimiterFailsOpen(t *testing.T) {
	limiter := &limiterStub{err: context.DeadlineExceeded}
	repo := newWebhookRepoStub()
	router := newTestRouter(repo, limiter, 120)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPut, "/v1/presence", []byte(`{"online": true}`), uuid.New()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected limiter failure to fail open, got %d", rr.Code)
	}
}

func TestCreateAssignmentHandlerValidation(t *testing.T) {
	router := newTestRouter(newWebhookRepoStub(), nil, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/assignments", []byte(`{"title": "", "budget_cents": 0}`), uuid.New()))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(newWebhookRepoStub(), nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/assignments", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}
}

func TestWatchPresenceHandlerStreamsOverLiveConnection(t *testing.T) {
	repo := newWebhookRepoStub()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(repo, &rabbitmq.NoopPublisher{}, "scribelink.events", logger)
	hub := presence.NewHub(repo, logger)
	tracker := presence.NewTracker(repo, hub, &rabbitmq.NoopPublisher{}, "scribelink.events", time.Hour, logger)
	handlers := NewAssignmentHandlers(service, tracker, hub, nil, 0, logger)
	webhook := NewWebhookHandler(service, testWebhookSecret, false, logger)
	srv := httptest.NewServer(Routes(handlers, webhook, AuthMiddlewareConfig{JWTSecret: testJWTSecret, AllowHeaderFallback: true}))
	defer srv.Close()

	watched := uuid.New()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/users/"+watched.String()+"/presence/watch", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-User-Id", uuid.New().String())

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("watch request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() domain.PresenceUpdate {
		t.Helper()
		type result struct {
			update domain.PresenceUpdate
			err    error
		}
		ch := make(chan result, 1)
		go func() {
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					ch <- result{err: err}
					return
				}
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var update domain.PresenceUpdate
				err = json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &update)
				ch <- result{update: update, err: err}
				return
			}
		}()
		select {
		case res := <-ch:
			if res.err != nil {
				t.Fatalf("failed to read stream event: %v", res.err)
			}
			return res.update
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a stream event")
		}
		return domain.PresenceUpdate{}
	}

	snapshot := readEvent()
	if snapshot.Online || snapshot.UserID != watched {
		t.Fatalf("expected offline snapshot for %s first, got %+v", watched, snapshot)
	}

	// The first event proves the subscription is registered; a broadcast
	// after it must still reach the same open connection. The stream carries
	// no request deadline, so it keeps delivering until the client hangs up.
	hub.Broadcast(domain.PresenceUpdate{UserID: watched, Online: true, LastSeen: time.Now().UTC()})

	update := readEvent()
	if !update.Online || update.UserID != watched {
		t.Fatalf("expected a live online update for %s, got %+v", watched, update)
	}
}
