package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nebutra/billing-service/api/responses"
	pkgerrors "github.com/nebutra/billing-service/pkg/errors"
	"github.com/nebutra/billing-service/pkg/logger"
	pkgredis "github.com/nebutra/billing-service/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
	usageReplayTTL       = 24 * time.Hour
	ledgerReplayTTL      = 7 * 24 * time.Hour
	inFlightTTL          = time.Minute
)

// replayRoute describes a billing write whose responses are replayed for a repeated key.
type replayRoute struct {
	prefix string
	suffix string
	ttl    time.Duration
}

func (rr replayRoute) matches(path string) bool {
	if rr.suffix == "" {
		return path == rr.prefix
	}
	return strings.HasPrefix(path, rr.prefix) && strings.HasSuffix(path, rr.suffix)
}

// POST only.
var replayRoutes = []replayRoute{
	{prefix: "/api/v1/usage/record", ttl: usageReplayTTL},
	{prefix: "/api/v1/usage/", suffix: "/reset", ttl: usageReplayTTL},
	{prefix: "/api/v1/credits/bonus", ttl: usageReplayTTL},
	{prefix: "/api/v1/credits/purchase", ttl: ledgerReplayTTL},
	{prefix: "/api/v1/credits/deduct", ttl: ledgerReplayTTL},
	{prefix: "/api/v1/credits/refund", ttl: ledgerReplayTTL},
}

// storedResponse is persisted under the key once the handler finished.
// A record with InFlight set marks a request that is still running.
type storedResponse struct {
	InFlight    bool      `json:"in_flight,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// Idempotency makes billing writes safe to retry. A request carrying an
// Idempotency-Key runs once; repeats with the same body get the stored
// response, repeats with a different body get 409. Requests without the
// header, or without a store, pass straight through.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := replayTTL(r.Method, routePath(r))
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if !guarded || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long").
					WithDetails(map[string]any{"max_length": maxIdempotencyKeyLen}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintRequest(r, body)
			key := store.IdempotencyKey(r.Method+" "+r.URL.Path, clientKey)

			reserved, err := reserve(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !reserved {
				existing, err := load(ctx, store, key)
				if err != nil {
					responses.WriteError(ctx, logg, w, err)
					return
				}
				replayOrReject(ctx, logg, w, existing, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "idempotency.release_failed", err)
				}
				return
			}
			if err := complete(ctx, store, key, fingerprint, capture, ttl); err != nil && logg != nil {
				logg.Error(ctx, "idempotency.store_failed", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string) (bool, error) {
	marker, err := json.Marshal(storedResponse{InFlight: true, Fingerprint: fingerprint, StoredAt: time.Now().UTC()})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency marker")
	}
	ok, err := store.SetNX(ctx, key, string(marker), inFlightTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	return ok, nil
}

func load(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	var out storedResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &out, nil
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, existing *storedResponse, fingerprint string) {
	switch {
	case existing.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "Idempotency-Key reused with a different request"))
	case existing.InFlight:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
	default:
		if existing.ContentType != "" {
			w.Header().Set("Content-Type", existing.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(existing.Status)
		_, _ = w.Write(existing.Body)
	}
}

func complete(ctx context.Context, store pkgredis.IdempotencyStore, key, fingerprint string, capture *responseCapture, ttl time.Duration) error {
	record := storedResponse{
		Fingerprint: fingerprint,
		Status:      capture.statusCode(),
		ContentType: capture.Header().Get("Content-Type"),
		StoredAt:    time.Now().UTC(),
	}
	if capture.body.Len() > 0 {
		record.Body = capture.body.Bytes()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload), ttl)
}

func fingerprintRequest(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// routePath prefers the chi route pattern so parameterised routes match the table.
// Mounted sub-routers report a trailing wildcard; those fall back to the raw path.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func replayTTL(method, path string) (time.Duration, bool) {
	if method != http.MethodPost || path == "" {
		return 0, false
	}
	for _, route := range replayRoutes {
		if route.matches(path) {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
