package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorlist/doorlist/internal/model"
	"github.com/doorlist/doorlist/internal/ratelimit"
	"github.com/doorlist/doorlist/internal/repository"
	"github.com/doorlist/doorlist/internal/resolver"
)

type testServer struct {
	store   *repository.MemoryStore
	guests  repository.GuestRepository
	handler http.Handler
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()

	store := repository.NewMemoryStore()
	guests := repository.NewMemoryGuestRepository(store)
	audit := repository.NewMemoryAuditRepository(store)
	tx := repository.NewMemoryTransactionManager(store)

	rs := resolver.New(guests, audit, tx, slog.Default())

	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(&ratelimit.Config{RequestsPerWindow: 1000, Window: time.Minute})
	}

	handler := New(rs, guests, audit,
		NewTokenAuthorizer("secret=op-1"), limiter, 100, slog.Default())

	return &testServer{store: store, guests: guests, handler: handler}
}

func (s *testServer) addGuest(t *testing.T, id, email string) {
	t.Helper()
	require.NoError(t, s.guests.Upsert(context.Background(), &model.Guest{
		ID: id, Email: email, Status: model.StatusUnconfirmed,
	}))
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	return rec
}

var baseTime = time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)

func syncBody(checks ...model.CheckinPayload) model.SyncRequest {
	return model.SyncRequest{Checks: checks}
}

func TestSyncCheckinsSuccess(t *testing.T) {
	s := newTestServer(t, nil)
	s.addGuest(t, "g1", "ada@example.com")

	rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", syncBody(
		model.CheckinPayload{GuestEmail: "ada@example.com", CheckedInAt: baseTime, Source: model.SourceOffline},
	))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Empty(t, resp.Failed)

	g, err := s.guests.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, g.CheckedInAt)
	assert.True(t, g.CheckedInAt.Equal(baseTime))
}

func TestSyncCheckinsMixedOutcomes(t *testing.T) {
	s := newTestServer(t, nil)
	s.addGuest(t, "g1", "ada@example.com")

	rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", syncBody(
		model.CheckinPayload{GuestEmail: "ada@example.com", CheckedInAt: baseTime, Source: model.SourceOnline},
		model.CheckinPayload{GuestEmail: "ghost@example.com", CheckedInAt: baseTime, Source: model.SourceOffline},
		model.CheckinPayload{GuestEmail: "ada@example.com", CheckedInAt: baseTime, Source: "fax"},
	))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.SuccessCount)
	require.Len(t, resp.Failed, 2)

	reasons := map[string]bool{}
	for _, f := range resp.Failed {
		reasons[f.Reason] = true
		assert.False(t, f.Retryable)
	}
	assert.True(t, reasons[model.ReasonGuestNotFound])
	assert.True(t, reasons[model.ReasonInvalidSource])
}

func TestSyncCheckinsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{name: "empty batch", body: syncBody()},
		{name: "not JSON", body: "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("oversized batch", func(t *testing.T) {
		checks := make([]model.CheckinPayload, 101)
		for i := range checks {
			checks[i] = model.CheckinPayload{
				GuestEmail:  fmt.Sprintf("guest%d@example.com", i),
				CheckedInAt: baseTime,
				Source:      model.SourceOffline,
			}
		}
		rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", syncBody(checks...))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSyncCheckinsRequiresCredential(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/checkins:sync", "", syncBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/checkins:sync", "wrong", syncBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncCheckinsRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(&ratelimit.Config{RequestsPerWindow: 1, Window: time.Minute})
	s := newTestServer(t, limiter)
	s.addGuest(t, "g1", "ada@example.com")

	body := syncBody(model.CheckinPayload{GuestEmail: "ada@example.com", CheckedInAt: baseTime, Source: model.SourceOffline})

	rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/checkins:sync", "secret", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestListConflictsPagination(t *testing.T) {
	s := newTestServer(t, nil)
	s.addGuest(t, "g1", "ada@example.com")

	// First check-in applies cleanly, the rest conflict.
	checks := []model.CheckinPayload{
		{GuestEmail: "ada@example.com", CheckedInAt: baseTime, Source: model.SourceOnline},
	}
	for i := 1; i <= 3; i++ {
		checks = append(checks, model.CheckinPayload{
			GuestEmail:  "ada@example.com",
			CheckedInAt: baseTime.Add(time.Duration(i) * time.Minute),
			Source:      model.SourceOffline,
		})
	}
	rec := s.do(t, http.MethodPost, "/checkins:sync", "secret", syncBody(checks...))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/audit/conflicts?per_page=2&page=1", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page1 struct {
		Conflicts []*model.AuditRecord `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page1))
	require.Len(t, page1.Conflicts, 2)
	for _, c := range page1.Conflicts {
		assert.True(t, c.Conflict)
		assert.Equal(t, model.ReasonDuplicate, c.Reason)
		assert.NotNil(t, c.ExistingTimestamp)
	}

	rec = s.do(t, http.MethodGet, "/audit/conflicts?per_page=2&page=2", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page2 struct {
		Conflicts []*model.AuditRecord `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page2))
	assert.Len(t, page2.Conflicts, 1)
}

func TestListGuests(t *testing.T) {
	s := newTestServer(t, nil)
	s.addGuest(t, "g1", "ada@example.com")
	s.addGuest(t, "g2", "bob@example.com")

	rec := s.do(t, http.MethodGet, "/guests", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Guests []*model.Guest `json:"guests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Guests, 2)
	assert.Equal(t, "ada@example.com", resp.Guests[0].Email)
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenAuthorizer(t *testing.T) {
	auth := NewTokenAuthorizer("tok1=alice, tok2=bob")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok2")

	identity, err := auth.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, "bob", identity)

	req.Header.Set("Authorization", "Bearer nope")
	_, err = auth.Authorize(req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
