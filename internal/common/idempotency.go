package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// ReplayHeader is set on responses served from the idempotency store.
const ReplayHeader = "Idempotent-Replayed"

// maxStoredBody bounds the response size kept for replay. Larger responses
// release the key instead, so a retry runs the handler again.
const maxStoredBody = 256 << 10

// Idem makes write endpoints safe to retry. The first request carrying a
// given Idempotency-Key runs the handler and its response is stored; later
// requests with the same key, method and path receive the stored response.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type idemRecord struct {
	Done        bool   `json:"done"`
	Fingerprint string `json:"fp"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"ct,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func idemKey(r *http.Request, key string) string {
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware answers a repeated key with the stored response, 409 while the
// first request is still running, and 422 when the payload differs from the
// one first sent with the key. 5xx responses are not stored.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				JSONError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large", nil)
				return
			}
			JSONError(w, http.StatusBadRequest, CodeBadRequest, "unreadable body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(payload))
		sum := sha256.Sum256(payload)
		fp := hex.EncodeToString(sum[:])

		ctx := r.Context()
		key := idemKey(r, header)
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		pending, _ := json.Marshal(idemRecord{Fingerprint: fp})
		claimed, err := i.R.SetNX(ctx, key, pending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
			return
		}
		if !claimed {
			i.replay(ctx, w, key, fp)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		stored := false
		defer func() {
			if !stored {
				// Release the key on panic or failure so the client can retry.
				_ = i.R.Del(context.Background(), key).Err()
			}
		}()
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError || rec.overflow {
			return
		}
		done, _ := json.Marshal(idemRecord{
			Done:        true,
			Fingerprint: fp,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		})
		stored = i.R.Set(context.Background(), key, done, ttl).Err() == nil
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key, fp string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// The first request failed and released the key between our calls.
		JSONError(w, http.StatusConflict, CodeIdempotencyInProgress, "request in progress, retry", nil)
		return
	}
	var stored idemRecord
	if err != nil || json.Unmarshal(raw, &stored) != nil {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
		return
	}
	switch {
	case stored.Fingerprint != fp:
		JSONError(w, http.StatusUnprocessableEntity, CodeIdempotencyMismatch, "idempotency key reused with a different payload", nil)
	case !stored.Done:
		JSONError(w, http.StatusConflict, CodeIdempotencyInProgress, "request in progress, retry", nil)
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(ReplayHeader, "true")
		w.Header().Set("Content-Length", strconv.Itoa(len(stored.Body)))
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// captureWriter tees the response into buf until it grows past maxStoredBody.
type captureWriter struct {
	http.ResponseWriter
	status   int
	wrote    bool
	buf      bytes.Buffer
	overflow bool
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wrote {
		c.status = code
		c.wrote = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wrote = true
	if !c.overflow {
		if c.buf.Len()+len(p) > maxStoredBody {
			c.overflow = true
			c.buf.Reset()
		} else {
			c.buf.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }
