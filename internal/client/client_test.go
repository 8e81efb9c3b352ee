package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

func writeErr(w http.ResponseWriter, status int, code, msg string, suggestions ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg, "suggestions": suggestions},
	})
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/register", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var rec domain.AgentRecord
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		_ = json.NewEncoder(w).Encode(RegisterResponse{Status: "registered", Agent: rec})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	out, err := c.Register(context.Background(), domain.AgentRecord{Name: "W", Capabilities: []string{"cost_estimation"}})
	require.NoError(t, err)
	assert.Equal(t, "registered", out.Status)
	assert.Equal(t, "W", out.Agent.Name)
}

func TestQuery_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, domain.CodeNoMatch, "no capability matched", "Analyze energy consumption for Building A today")
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Query(context.Background(), "u", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoMatch))
	var nm *domain.NoMatchError
	require.True(t, errors.As(err, &nm))
	assert.Len(t, nm.Suggestions, 1)
}

func TestQuery_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusServiceUnavailable, domain.CodeUnavailable, "no worker")
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Query(context.Background(), "u", "cost")
	assert.True(t, errors.Is(err, domain.ErrUnavailableWorker))
	assert.False(t, errors.Is(err, domain.ErrNoMatch))
}

func TestWaitReport_PendingThenReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeErr(w, http.StatusAccepted, domain.CodePending, "pending")
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.NewFailureReport("m-1", "W", "sup", "boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Report(context.Background(), "m-1")
	require.ErrorIs(t, err, domain.ErrReportPending)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := c.WaitReport(ctx, "m-1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "m-1", r.RelatedMessageID)
}

func TestPostReport_AbsoluteURL(t *testing.T) {
	received := make(chan protocol.CompletionReport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reports", r.URL.Path)
		var got protocol.CompletionReport
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received <- got
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New("http://unused.invalid", nil)
	err := c.PostReport(context.Background(), srv.URL+"/reports", protocol.NewFailureReport("m-9", "W", "sup", "x"))
	require.NoError(t, err)
	assert.Equal(t, "m-9", (<-received).RelatedMessageID)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Health(context.Background())
	assert.True(t, errors.Is(err, domain.ErrTransport))
	assert.False(t, IsPermanent(err))
}

// ─── Retry ──────────────────────────────────────────────────────────────────

func TestNextDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, NextDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, NextDelay(cfg, 2, nil))
	assert.Equal(t, 400*time.Millisecond, NextDelay(cfg, 3, nil))
	assert.Equal(t, time.Second, NextDelay(cfg, 10, nil))

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		d := NextDelay(cfg, 2, rng)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 300*time.Millisecond)
	}
	assert.Zero(t, NextDelay(RetryConfig{}, 3, nil))
}

func TestRegisterWithRetry_RecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeErr(w, http.StatusServiceUnavailable, domain.CodeInternal, "starting")
			return
		}
		_ = json.NewEncoder(w).Encode(RegisterResponse{Status: "registered"})
	}))
	defer srv.Close()

	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2}
	out, err := New(srv.URL, nil).RegisterWithRetry(context.Background(), domain.AgentRecord{Name: "W"}, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "registered", out.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRegisterWithRetry_PermanentRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeErr(w, http.StatusBadRequest, domain.CodeValidation, "name: must not be empty")
	}))
	defer srv.Close()

	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}
	_, err := New(srv.URL, nil).RegisterWithRetry(context.Background(), domain.AgentRecord{}, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour}
	boom := errors.New("boom")
	attempts := 0
	err := Retry(ctx, cfg, func(context.Context) error {
		attempts++
		cancel()
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}
