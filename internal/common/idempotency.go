package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	idemPending = "pending"
	// IdempotencyHeader carries the client supplied key.
	IdempotencyHeader = "Idempotency-Key"
)

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// response for a key is stored and replayed for repeats; a repeat that
// arrives while the first request is still running gets 409.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// idemKey scopes the client key by method, path and shop.
func idemKey(r *http.Request, header string) string {
	shop, _ := Shop(r.Context())
	return "idem:" + Sha256Hex(r.Method+" "+r.URL.Path+" "+shop+" "+header)
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := idemKey(r, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}

		rec := &bufferedWriter{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			store := context.WithoutCancel(ctx)
			if !completed {
				_ = i.R.Del(store, key).Err()
				return
			}
			payload, err := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.Bytes()})
			if err != nil || !json.Valid(rec.body.Bytes()) {
				_ = i.R.Del(store, key).Err()
				return
			}
			_ = i.R.Set(store, key, payload, ttl).Err()
		}()
		next.ServeHTTP(rec, r)
		completed = true
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
		return
	}
	var stored storedResponse
	if len(raw) == 0 || string(raw) == idemPending || json.Unmarshal(raw, &stored) != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request still in progress", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) WriteHeader(code int) {
	b.status = code
	b.ResponseWriter.WriteHeader(code)
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}
