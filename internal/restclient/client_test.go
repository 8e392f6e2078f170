package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeyecosystem/sync/internal/models"
)

type stubTokens struct {
	mu     sync.Mutex
	tokens models.SessionTokens
	has    bool
}

func newStubTokens(access, refresh string) *stubTokens {
	return &stubTokens{
		tokens: models.SessionTokens{AccessToken: access, RefreshToken: refresh},
		has:    access != "",
	}
}

func (s *stubTokens) Tokens() (models.SessionTokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, s.has
}

func (s *stubTokens) SetAccess(access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens.AccessToken = access
	s.has = true
	return nil
}

func (s *stubTokens) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = models.SessionTokens{}
	s.has = false
	return nil
}

func TestDoDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "42"})
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("access-1", "refresh-1"))

	var out struct {
		ID string `json:"id"`
	}
	if err := client.Get(context.Background(), "/api/v1/thing/", nil, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.ID != "42" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestDoFailsClosedWithoutSession(t *testing.T) {
	client := New("http://localhost:1", newStubTokens("", ""))
	err := client.Get(context.Background(), "/api/v1/thing/", nil, nil)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession got %v", err)
	}
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	var protectedCalls, refreshCalls int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/api/v1/auth/token/refresh/":
			refreshCalls++
			var body struct {
				Refresh string `json:"refresh"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Refresh != "refresh-1" {
				t.Errorf("unexpected refresh token %q", body.Refresh)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"access": "access-2"})
		default:
			protectedCalls++
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer server.Close()

	tokens := newStubTokens("stale-access", "refresh-1")
	client := New(server.URL, tokens)

	if err := client.Get(context.Background(), "/api/v1/thing/", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh got %d", refreshCalls)
	}
	if protectedCalls != 2 {
		t.Fatalf("expected one original call and one retry got %d", protectedCalls)
	}
	if got, _ := tokens.Tokens(); got.AccessToken != "access-2" {
		t.Fatalf("expected rotated access token got %q", got.AccessToken)
	}
}

func TestDoRefreshFailureClearsSession(t *testing.T) {
	var expired bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := newStubTokens("stale-access", "bad-refresh")
	client := New(server.URL, tokens, WithAuthExpiredHook(func() { expired = true }))

	err := client.Get(context.Background(), "/api/v1/thing/", nil, nil)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 error got %v", err)
	}
	if !expired {
		t.Fatal("expected auth-expired hook to fire")
	}
	if _, ok := tokens.Tokens(); ok {
		t.Fatal("expected credentials cleared after failed refresh")
	}

	// Follow-up authenticated calls fail closed without touching the network.
	if err := client.Get(context.Background(), "/api/v1/thing/", nil, nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession got %v", err)
	}
}

func TestDoSkipAuthNeverRefreshes(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("", ""))
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Path:     "/api/v1/auth/login/",
		SkipAuth: true,
	}, nil)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 error got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single dispatch got %d", got)
	}
}

func TestDoTimeoutSurfacesAs408(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("access-1", "refresh-1"))
	err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/api/v1/slow/",
		Timeout: 20 * time.Millisecond,
	}, nil)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error got %v", err)
	}
	if !IsStatus(err, StatusTimeout) {
		t.Fatalf("expected status 408 got %v", err)
	}
}

func TestDoCancelledContextIsNotANetworkError(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("access-1", "refresh-1"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := client.Get(ctx, "/api/v1/slow/", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if IsStatus(err, StatusNetwork) {
		t.Fatal("a deliberate cancellation must not be reported as a transport failure")
	}
}

func TestThrottleWaitBoundedByRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("access-1", "refresh-1"))
	// One token an hour: the first request drains the bucket, the second
	// must not be held past its own deadline.
	client.throttle = newThrottle(1, time.Hour, 1)

	if err := client.Get(context.Background(), "/api/v1/thing/", nil, nil); err != nil {
		t.Fatalf("first request: %v", err)
	}

	start := time.Now()
	err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/api/v1/thing/",
		Timeout: 50 * time.Millisecond,
	}, nil)
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("saturated throttle held the request for %v", elapsed)
	}
}

func TestDoExtractsErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"no such book"}`))
	}))
	defer server.Close()

	client := New(server.URL, newStubTokens("access-1", "refresh-1"))
	err := client.Get(context.Background(), "/api/v1/library/books/9/", nil, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "no such book" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestDoObserverSeesRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var mu sync.Mutex
	var observed []int
	client := New(server.URL, newStubTokens("access-1", "refresh-1"),
		WithObserver(func(method, path string, status int, elapsed time.Duration) {
			mu.Lock()
			observed = append(observed, status)
			mu.Unlock()
		}))

	if err := client.Delete(context.Background(), "/api/v1/thing/1/"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || observed[0] != http.StatusNoContent {
		t.Fatalf("unexpected observations: %v", observed)
	}
}

func TestListUnmarshal(t *testing.T) {
	var bare List[string]
	if err := json.Unmarshal([]byte(`["a","b"]`), &bare); err != nil {
		t.Fatalf("bare array: %v", err)
	}
	if len(bare.Items) != 2 {
		t.Fatalf("unexpected items: %v", bare.Items)
	}

	var paged List[string]
	if err := json.Unmarshal([]byte(`{"results":["x"]}`), &paged); err != nil {
		t.Fatalf("results envelope: %v", err)
	}
	if len(paged.Items) != 1 || paged.Items[0] != "x" {
		t.Fatalf("unexpected items: %v", paged.Items)
	}
}
