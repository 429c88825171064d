package httpx

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/artisan-market/api/internal/platform/requestctx"
)

// Mapping binds a sentinel error to the envelope written for any error wrapping it.
type Mapping struct {
	Target error
	Code   string
	Status int
	// Expose writes the full wrapped message instead of the sentinel text.
	Expose bool
}

// DetailsFunc extracts structured fields from an error. It returns nil when the error
// carries nothing of interest.
type DetailsFunc func(err error) map[string]any

// Mapper translates domain errors into envelopes. The first matching mapping wins.
type Mapper struct {
	mappings []Mapping
	details  []DetailsFunc
	fallback Error
}

// NewMapper builds a mapper over mappings. Unmatched errors become a generic 500.
func NewMapper(mappings []Mapping, details ...DetailsFunc) *Mapper {
	return &Mapper{
		mappings: append([]Mapping(nil), mappings...),
		details:  append([]DetailsFunc(nil), details...),
		fallback: NewError("internal_error", "failed to process request", http.StatusInternalServerError),
	}
}

// Translate returns the envelope for err and whether a mapping matched.
func (m *Mapper) Translate(err error) (Error, bool) {
	if err == nil {
		return Error{}, false
	}
	var direct Error
	if errors.As(err, &direct) {
		return direct, true
	}
	for _, mapping := range m.mappings {
		if !errors.Is(err, mapping.Target) {
			continue
		}
		message := mapping.Target.Error()
		if mapping.Expose {
			message = err.Error()
		}
		out := NewError(mapping.Code, message, mapping.Status)
		for _, fn := range m.details {
			out = out.WithDetails(fn(err))
		}
		return out, true
	}
	return m.fallback, false
}

// Write renders err. Unmatched errors are logged on the request logger because their
// text is never sent to the client.
func (m *Mapper) Write(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	out, ok := m.Translate(err)
	if !ok {
		requestctx.Logger(ctx).Error("unhandled error", zap.Error(err))
	}
	WriteError(ctx, w, out)
}
