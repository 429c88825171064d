// Package httpx holds the JSON response helpers shared by every HTTP surface.
package httpx

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/artisan-market/api/internal/platform/requestctx"
	"github.com/artisan-market/api/internal/platform/textutil"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// Error is the API error envelope. Details are merged into the top level of the JSON
// body next to error, message and status.
type Error struct {
	Code       string
	Message    string
	Status     int
	RetryAfter time.Duration
	Details    map[string]any
}

// NewError builds an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLength),
		Message: singleLine(message, maxMessageLength),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// WithDetails merges extra fields into the envelope. Later calls overwrite earlier keys.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithRetryAfter asks the client to back off. It is rendered as a Retry-After header in
// whole seconds, never less than one.
func (e Error) WithRetryAfter(wait time.Duration) Error {
	e.RetryAfter = wait
	return e
}

// WriteError renders err with the request and trace identifiers taken from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := singleLine(middleware.GetReqID(ctx), maxIDLength); id != "" {
		payload["request_id"] = id
	}
	if id := singleLine(requestctx.TraceID(ctx), maxIDLength); id != "" {
		payload["trace_id"] = id
	}

	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err.RetryAfter)))
	}
	WriteJSON(w, status, payload)
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func singleLine(value string, limit int) string {
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	return textutil.Truncate(strings.TrimSpace(value), limit)
}
