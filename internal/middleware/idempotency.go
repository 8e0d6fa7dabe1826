package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/josh-kwaku/marketplace-settlement/internal/auth"
	"github.com/josh-kwaku/marketplace-settlement/internal/handler"
	"github.com/josh-kwaku/marketplace-settlement/internal/logging"
	"github.com/josh-kwaku/marketplace-settlement/internal/repository"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "X-Idempotent-Replayed"
	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 255
)

type responseCache interface {
	Lookup(ctx context.Context, accountID, key string) (*repository.CachedResponse, error)
	Save(ctx context.Context, c *repository.CachedResponse) error
}

// Idempotency requires an Idempotency-Key on mutating requests and replays
// the first response given to that key. 5xx responses are not cached.
func Idempotency(cache responseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}
			if len(key) > maxIdempotencyKey {
				handler.RespondValidationError(w, []handler.FieldError{{Field: idempotencyHeader, Message: "must be at most 255 characters"}})
				return
			}

			accountID, ok := auth.AccountIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			log := logging.FromContext(r.Context()).With("idempotency_key", key)
			hash := requestHash(r, body)

			cached, err := cache.Lookup(r.Context(), accountID, key)
			if err != nil {
				log.Error("idempotency cache lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				if cached.RequestHash != hash {
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
					return
				}
				replay(w, cached, log)
				return
			}

			rec := &bodyRecorder{statusRecorder: statusRecorder{ResponseWriter: w, status: http.StatusOK}}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				return
			}

			now := time.Now().UTC()
			err = cache.Save(context.WithoutCancel(r.Context()), &repository.CachedResponse{
				AccountID:   accountID,
				Key:         key,
				RequestHash: hash,
				StatusCode:  rec.status,
				Body:        rec.body.Bytes(),
				CreatedAt:   now,
				ExpiresAt:   now.Add(idempotencyTTL),
			})
			if err != nil {
				log.Error("idempotency cache store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *repository.CachedResponse, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.Body); err != nil {
		log.Error("failed to write idempotent replay", "error", err)
	}
}

// requestHash binds a key to one method, path and body.
func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(r.Method), []byte(r.URL.Path), body} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type bodyRecorder struct {
	statusRecorder
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
