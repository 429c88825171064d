// Package textutil normalises free text before it leaves the service, for example as
// gateway metadata or checkout line titles.
package textutil

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MapLimits bounds metadata maps. Zero values disable the corresponding limit.
type MapLimits struct {
	MaxEntries     int
	MaxKeyLength   int
	MaxValueLength int
}

// NormalizeStringMap trims keys and values, removing entries with empty keys or values.
// Keys and values are truncated to the limits in runes; when MaxEntries is exceeded the
// lexically smallest keys are kept so the result is deterministic.
func NormalizeStringMap(values map[string]string, limits MapLimits) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = Truncate(strings.TrimSpace(key), limits.MaxKeyLength)
		value = Truncate(strings.TrimSpace(value), limits.MaxValueLength)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if limits.MaxEntries > 0 && len(result) > limits.MaxEntries {
		keys := make([]string, 0, len(result))
		for key := range result {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys[limits.MaxEntries:] {
			delete(result, key)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Truncate shortens s to at most limit runes. A non-positive limit returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}

// FirstNonEmpty returns the first value that is not blank after trimming.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
