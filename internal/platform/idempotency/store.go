package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status is the lifecycle state of a stored key.
type Status string

const (
	// DefaultTTL is how long a key is remembered after its last write.
	DefaultTTL = 24 * time.Hour

	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do with the incoming request.
type ReservationState int

const (
	// ReservationStateNew: the caller owns the key and runs the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted: replay Record's response.
	ReservationStateCompleted
	// ReservationStatePending: another request with this key is still running.
	ReservationStatePending
)

// Reservation is the result of Store.Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the stored state of one scoped key. The same shape is written to Firestore
// documents and Redis JSON values.
type Record struct {
	Key             string              `firestore:"key" json:"key"`
	Fingerprint     string              `firestore:"fingerprint" json:"fingerprint"`
	Status          Status              `firestore:"status" json:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty" json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty" json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty" json:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt" json:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt" json:"expiresAt"`
}

// Response represents the HTTP response that should be stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and responses. Release only removes a record
// whose fingerprint matches, so a late release never drops another request's reservation.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch means the key was reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// recordID hashes the scoped key so arbitrary client input is safe as a document id or Redis key.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

// reserveRecord decides the reservation for key given the currently stored record (nil when
// absent). When the returned pointer is non-nil the caller must persist it.
func reserveRecord(existing *Record, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, *Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if existing == nil || (!existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt)) {
		record := Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		return Reservation{State: ReservationStateNew, Record: record}, &record, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, nil, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: *existing}, nil, nil
	}
	return Reservation{State: ReservationStatePending, Record: *existing}, nil, nil
}

// releasable reports whether a release for fingerprint may delete existing.
func releasable(existing *Record, fingerprint string) bool {
	return existing != nil && existing.Fingerprint == fingerprint
}

// completeRecord returns the record to persist once the handler produced resp.
func completeRecord(existing *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if existing != nil {
		if existing.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		if !existing.CreatedAt.IsZero() {
			record.CreatedAt = existing.CreatedAt
		}
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		filtered[canonical] = copied
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}

func headersFromRecord(values map[string][]string) http.Header {
	if len(values) == 0 {
		return http.Header{}
	}

	header := make(http.Header, len(values))
	for name, vals := range values {
		copied := make([]string, len(vals))
		copy(copied, vals)
		header[name] = copied
	}
	return header
}
