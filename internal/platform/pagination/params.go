// Package pagination parses list query parameters and encodes the opaque page tokens
// returned to clients.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size or sends a non-positive value.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100

	pageSizeParam  = "page_size"
	pageTokenParam = "page_token"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Options control defaults for a given list endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Params bundles the page size and the decoded cursor extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token. Oversized pages are clamped rather than rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	params := Params{PageSize: ClampPageSize(0, opts)}
	if raw := strings.TrimSpace(values.Get(pageSizeParam)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		params.PageSize = ClampPageSize(size, opts)
	}

	if raw := strings.TrimSpace(values.Get(pageTokenParam)); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}

// ClampPageSize maps non-positive sizes to the default and caps the rest at the maximum.
func ClampPageSize(size int, opts Options) int {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	defaultSize := opts.DefaultPageSize
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if defaultSize > maxSize {
		defaultSize = maxSize
	}
	switch {
	case size <= 0:
		return defaultSize
	case size > maxSize:
		return maxSize
	default:
		return size
	}
}
