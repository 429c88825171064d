package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/artisan-market/api/internal/platform/auth"
	"github.com/artisan-market/api/internal/platform/httpx"
	"github.com/artisan-market/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
	maxBodyBytes      = 1 << 20
	anonymousCaller   = "anonymous"
)

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	now     func() time.Time
	logger  *zap.Logger
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded HTTP methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Middleware makes cart, order and ticket mutations safe to retry. Each key is scoped to
// the authenticated caller and bound to a fingerprint of the request. Responses below
// 500 are stored and replayed with X-Idempotent-Replay; a 5xx releases the key so the
// client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g.wrap
}

func (g *guard) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, guarded := g.methods[r.Method]; !guarded {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		key := strings.TrimSpace(r.Header.Get(g.header))
		if key == "" {
			writeError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
			return
		}
		if !validKey(key) {
			writeError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key must be printable and at most 255 characters")
			return
		}

		body, err := bufferBody(r)
		if err != nil {
			writeError(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds allowed size")
			return
		}

		caller := callerID(ctx)
		scoped := key + "|" + caller
		fingerprint := fingerprintRequest(r, caller, body)

		reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
		switch {
		case errors.Is(err, ErrFingerprintMismatch):
			writeError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
			return
		case err != nil:
			g.logger.Error("idempotency reserve failed", zap.String("caller", caller), zap.Error(err))
			writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
			return
		}

		switch reservation.State {
		case ReservationStateCompleted:
			requestctx.Annotate(ctx, "idempotency", "replayed")
			replay(w, reservation.Record)
			return
		case ReservationStatePending:
			writeError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
			return
		}

		buffered := newBufferedWriter(w)
		next.ServeHTTP(buffered, r)
		g.finish(ctx, w, buffered, scoped, fingerprint)
	})
}

// finish persists or releases the reservation, then flushes the buffered response.
func (g *guard) finish(ctx context.Context, w http.ResponseWriter, buffered *bufferedWriter, scoped, fingerprint string) {
	status := buffered.Status()
	if status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, scoped, fingerprint); err != nil {
			g.logger.Warn("idempotency release failed", zap.Int("status", status), zap.Error(err))
		}
		buffered.flush()
		return
	}

	response := Response{Status: status, Headers: buffered.Header().Clone(), Body: buffered.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, response, g.now().UTC(), g.ttl); err != nil {
		g.logger.Error("idempotency save failed", zap.Error(err))
		if releaseErr := g.store.Release(ctx, scoped, fingerprint); releaseErr != nil {
			g.logger.Warn("idempotency release failed", zap.Error(releaseErr))
		}
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	buffered.flush()
}

func validKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for _, r := range key {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, errors.New("idempotency: body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest hashes everything that makes two requests "the same": method,
// target, content type, caller and body.
func fingerprintRequest(r *http.Request, caller string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type"), caller} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func callerID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return anonymousCaller
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedWriter holds the handler's response until the outcome is stored.
type bufferedWriter struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter(parent http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{parent: parent, header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedWriter) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flush() {
	dst := b.parent.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	b.parent.WriteHeader(b.Status())
	_, _ = b.parent.Write(b.body.Bytes())
}
