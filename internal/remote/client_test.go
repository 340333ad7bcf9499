package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lei/simple-apply/internal/models"
	"github.com/lei/simple-apply/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, access, refresh string, opts ...Option) (*Client, *MemoryTokenStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens := NewMemoryTokenStore(access, refresh)
	opts = append(opts, WithHTTPClient(srv.Client()))
	return NewClient(srv.URL, tokens, logger.NewNop(), opts...), tokens
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(models.ApplicationRun{ID: "run_1", Status: models.RunStatusRunning})
	})
	c, _ := newTestClient(t, handler, "access-token", "refresh-token")

	run, err := c.Runs().Get(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, "Bearer access-token", gotAuth)
}

func TestClientRefreshesOnceOn401(t *testing.T) {
	var apiCalls, refreshCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/refresh" {
			refreshCalls.Add(1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refresh_token"] != "refresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"access_token":  "fresh-access",
				"refresh_token": "fresh-refresh",
			})
			return
		}

		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(models.ApplicationRun{ID: "run_1", Status: models.RunStatusRunning})
	})
	c, tokens := newTestClient(t, handler, "stale-access", "refresh-token")

	run, err := c.Runs().Get(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)

	assert.Equal(t, int32(2), apiCalls.Load(), "original attempt plus one retry")
	assert.Equal(t, int32(1), refreshCalls.Load())

	access, refresh := tokens.Tokens()
	assert.Equal(t, "fresh-access", access)
	assert.Equal(t, "fresh-refresh", refresh)
}

func TestClientSecondUnauthorizedEndsSession(t *testing.T) {
	var expired atomic.Bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/refresh" {
			// Refresh "succeeds" but the API still rejects the new token
			json.NewEncoder(w).Encode(map[string]string{
				"access_token":  "still-bad",
				"refresh_token": "still-bad",
			})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, tokens := newTestClient(t, handler, "bad-access", "bad-refresh",
		WithSessionExpiredHandler(func() { expired.Store(true) }))

	_, err := c.Runs().Get(context.Background(), "run_1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, expired.Load(), "session-expired handler fires")

	access, refresh := tokens.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)
}

func TestClientNoRefreshTokenEndsSessionImmediately(t *testing.T) {
	var refreshCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/refresh" {
			refreshCalls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, handler, "stale-access", "")

	_, err := c.Runs().Get(context.Background(), "run_1")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), refreshCalls.Load(), "no refresh attempt without a refresh token")
}

func TestClientRejectedRefreshEndsSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, tokens := newTestClient(t, handler, "stale-access", "stale-refresh")

	_, err := c.Runs().Get(context.Background(), "run_1")
	assert.ErrorIs(t, err, ErrSessionExpired)

	access, _ := tokens.Tokens()
	assert.Empty(t, access)
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		})
		c, _ := newTestClient(t, handler, "access", "refresh")

		_, err := c.Runs().Get(context.Background(), "run_1")
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestClientValidationErrorCarriesFields(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"consent_text": "Consent text is required"},
		})
	})
	c, _ := newTestClient(t, handler, "access", "refresh")

	err := c.Runs().SubmitReview(context.Background(), "run_1", true, "")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Consent text is required", apiErr.Fields["consent_text"])
}

func TestCreateRunSendsIdempotencyKey(t *testing.T) {
	var got CreateRunRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(models.ApplicationRun{ID: "run_1", Status: models.RunStatusPending})
	})
	c, _ := newTestClient(t, handler, "access", "refresh")

	_, err := c.Runs().Create(context.Background(), CreateRunRequest{
		JobID:          "job_1",
		ResumeID:       "resume_1",
		ConsentText:    "I consent",
		IdempotencyKey: "key-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "key-123", got.IdempotencyKey)
	assert.Equal(t, "job_1", got.JobID)
}
