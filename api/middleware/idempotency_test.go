package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"credits hold", http.MethodPost, "/api/v1/credits/hold", spendReplayTTL, true},
		{"start job", http.MethodPost, "/api/v1/jobs", spendReplayTTL, true},
		{"job cancel", http.MethodPost, "/api/v1/jobs/{jobId}/cancel", spendReplayTTL, true},
		{"publish now", http.MethodPost, "/api/v1/posts/{postId}/publish", spendReplayTTL, true},
		{"trigger flow", http.MethodPost, "/api/v1/automations/{flowId}/trigger", spendReplayTTL, true},
		{"cancel run", http.MethodPost, "/api/v1/automations/runs/{runId}/cancel", spendReplayTTL, true},
		{"schedule post", http.MethodPost, "/api/v1/posts", replayTTL, true},
		{"trailing slash", http.MethodPost, "/api/v1/posts/", replayTTL, true},
		{"mark read", http.MethodPost, "/api/v1/notifications/{notificationId}/read", replayTTL, true},
		{"dry run", http.MethodPost, "/api/v1/automations/{flowId}/test", 0, false},
		{"read only", http.MethodGet, "/api/v1/jobs", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := replayWindow(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/posts", "/api/v1/posts", strings.NewReader(`{"foo":"bar"}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/posts", "/api/v1/posts", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	replay := requestWithPattern(http.MethodPost, "/api/v1/posts", "/api/v1/posts", strings.NewReader(`{"foo":"bar"}`))
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/posts", "/api/v1/posts", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, "/api/v1/posts", "/api/v1/posts", strings.NewReader(`{"foo":"diff"}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyScopeIsPerWorkspace(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for _, workspace := range []string{"ws-a", "ws-b"} {
		req := requestWithPattern(http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", strings.NewReader(`{"type":"text"}`))
		req = req.WithContext(WithWorkspaceID(req.Context(), workspace))
		req.Header.Set("Idempotency-Key", "same-key")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each workspace to run the handler, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareRefusesConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	var inner http.Handler
	inner = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// a retry arrives while the first request still holds the key
			dup := requestWithPattern(http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", strings.NewReader(`{"type":"text"}`))
			dup.Header.Set("Idempotency-Key", "k1")
			rec := httptest.NewRecorder()
			mw(inner).ServeHTTP(rec, dup)
			if rec.Code != http.StatusConflict {
				t.Errorf("expected in-flight duplicate to get 409, got %d", rec.Code)
			}
		}
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/jobs", "/api/v1/jobs", strings.NewReader(`{"type":"text"}`))
	req.Header.Set("Idempotency-Key", "k1")
	resp := httptest.NewRecorder()
	mw(inner).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if calls != 1 {
		t.Fatalf("duplicate must not reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	statuses := []int{http.StatusServiceUnavailable, http.StatusCreated}
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statuses[calls])
		calls++
	})

	for range statuses {
		req := requestWithPattern(http.MethodPost, "/api/v1/credits/hold", "/api/v1/credits/hold", strings.NewReader(`{"amount":5}`))
		req.Header.Set("Idempotency-Key", "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 503 to run the handler, got %d calls", calls)
	}

	replay := requestWithPattern(http.MethodPost, "/api/v1/credits/hold", "/api/v1/credits/hold", strings.NewReader(`{"amount":5}`))
	replay.Header.Set("Idempotency-Key", "retry-me")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusCreated || rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected stored 201 replay, got %d", rec.Code)
	}
}

func TestIdempotencySkipsUnlistedRoutes(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	req := requestWithPattern(http.MethodPost, "/api/v1/automations/f1/test", "/api/v1/*", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	Idempotency(newFakeStore(), nil)(handler).ServeHTTP(resp, req)
	if calls != 1 || resp.Code != http.StatusOK {
		t.Fatalf("dry runs need no key, got %d (calls=%d)", resp.Code, calls)
	}
}
