package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	replayTTL      = 24 * time.Hour
	spendReplayTTL = 7 * 24 * time.Hour

	maxReplayBody = 1 << 20
)

// replayRule matches a POST path segment by segment; "*" matches one segment.
type replayRule struct {
	path string
	ttl  time.Duration
}

// Routes that move credits keep their replay record for a week.
var replayRules = []replayRule{
	{"/api/v1/posts", replayTTL},
	{"/api/v1/automations", replayTTL},
	{"/api/v1/notifications/read-all", replayTTL},
	{"/api/v1/notifications/*/read", replayTTL},

	{"/api/v1/credits/*", spendReplayTTL},
	{"/api/v1/jobs", spendReplayTTL},
	{"/api/v1/jobs/*/cancel", spendReplayTTL},
	{"/api/v1/posts/*/publish", spendReplayTTL},
	{"/api/v1/posts/*/cancel", spendReplayTTL},
	{"/api/v1/automations/*/trigger", spendReplayTTL},
	{"/api/v1/automations/runs/*/cancel", spendReplayTTL},
}

// replayRecord is what the store holds per key. Status zero marks a request
// whose handler has not finished yet.
type replayRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the listed POST routes safe to retry. The first request
// for a key reserves it before the handler runs, so a concurrent duplicate is
// refused instead of spending credits twice. Completed responses below 500
// are stored and replayed; server errors release the key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := replayWindow(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			if len(body) > maxReplayBody {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
				return
			}
			r.Body = io.NopCloser(strings.NewReader(string(body)))

			hash := requestHash(r, body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			pending, _ := json.Marshal(replayRecord{RequestHash: hash})
			reserved, err := store.SetNX(ctx, key, string(pending), ttl)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, logg, w, store, key, hash)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured strings.Builder
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			// the response is already on the wire; a cancelled client must not lose the record
			persistCtx := context.WithoutCancel(ctx)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(persistCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			final, _ := json.Marshal(replayRecord{
				RequestHash: hash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        []byte(captured.String()),
			})
			if err := store.Set(persistCtx, key, string(final), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) {
	stored, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// expired between the reservation attempt and the read
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key expired, retry the request"))
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != hash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.Status == 0 {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
		return
	}

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// replayScope keeps keys from colliding across callers and routes.
func replayScope(r *http.Request) string {
	return strings.Join([]string{
		UserIDFromContext(r.Context()),
		WorkspaceIDFromContext(r.Context()),
		r.Method,
		cleanPath(r.URL.Path),
	}, "|")
}

func requestHash(r *http.Request, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(r.Method + " " + cleanPath(r.URL.Path) + "\n"))
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// replayWindow returns the record TTL for an idempotent route. Rules match the
// concrete path because a mounted chi router only exposes a wildcard pattern here.
func replayWindow(method, path string) (time.Duration, bool) {
	if method != http.MethodPost {
		return 0, false
	}
	segments := strings.Split(cleanPath(path), "/")
	for _, rule := range replayRules {
		if segmentsMatch(strings.Split(rule.path, "/"), segments) {
			return rule.ttl, true
		}
	}
	return 0, false
}

func segmentsMatch(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, want := range pattern {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

func cleanPath(path string) string {
	if len(path) > 1 {
		return strings.TrimSuffix(path, "/")
	}
	return path
}
