package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recruitgrid/leadharvest/internal/fetch"
)

func fastManaged(t *testing.T, baseURL string) *Managed {
	t.Helper()
	m, err := NewManaged(ManagedConfig{
		BaseURL:     baseURL,
		APIKey:      "secret",
		Geography:   "us",
		ProxyClass:  "residential",
		PollInitial: time.Millisecond,
		PollCap:     5 * time.Millisecond,
		MaxPolls:    5,
	}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestManagedSynchronousResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/tasks", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["render"])
		assert.Contains(t, body["url"], "page=2")
		assert.Equal(t, "li_at=abc", body["cookies"])

		_ = json.NewEncoder(w).Encode(taskResponse{Status: taskStatusCompleted, HTML: "<html>ok</html>"})
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	res, err := m.Fetch(context.Background(), fetch.Request{
		Target:     "https://www.linkedin.com/search/results/people/?keywords=x",
		Page:       2,
		Credential: "li_at=abc",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>ok</html>"), res.Content)
}

func TestManagedPollsUntilCompleted(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
		case r.URL.Path == "/v1/tasks/task-1":
			if polls.Add(1) < 3 {
				_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
				return
			}
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: taskStatusCompleted, HTML: "<html>late</html>"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	res, err := m.Fetch(context.Background(), fetch.Request{Target: "https://x.example/s", Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>late</html>"), res.Content)
	assert.Equal(t, int32(3), polls.Load())
}

func TestManagedFailedTaskIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: taskStatusFailed, Error: "blocked upstream"})
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	_, err := m.Fetch(context.Background(), fetch.Request{Target: "https://x.example/s", Page: 1})
	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
	assert.Contains(t, err.Error(), "blocked upstream")
}

func TestManagedPollExhaustionIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	_, err := m.Fetch(context.Background(), fetch.Request{Target: "https://x.example/s", Page: 1})
	require.Error(t, err)
	assert.False(t, fetch.IsFatal(err))
	assert.Contains(t, err.Error(), "did not resolve")
}

func TestManagedServiceErrorStatusIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	_, err := m.Fetch(context.Background(), fetch.Request{Target: "https://x.example/s", Page: 1})
	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
}

func TestManagedNoTaskIDNoHTMLIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(taskResponse{Status: "pending"})
	}))
	defer srv.Close()

	m := fastManaged(t, srv.URL)
	_, err := m.Fetch(context.Background(), fetch.Request{Target: "https://x.example/s", Page: 1})
	require.Error(t, err)
	assert.True(t, fetch.IsFatal(err))
}

func TestManagedContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "task-1", Status: "pending"})
	}))
	defer srv.Close()

	m, err := NewManaged(ManagedConfig{
		BaseURL:     srv.URL,
		PollInitial: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Fetch(ctx, fetch.Request{Target: "https://x.example/s", Page: 1})
	require.Error(t, err)
	assert.False(t, fetch.IsFatal(err))
}
