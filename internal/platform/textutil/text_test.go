package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims and drops blank entries", func(t *testing.T) {
		input := map[string]string{
			" orderNumber ": " 000042 ",
			"note":          " ",
			" ":             "ignored",
		}
		expected := map[string]string{"orderNumber": "000042"}
		if actual := NormalizeStringMap(input, MapLimits{}); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("applies limits", func(t *testing.T) {
		input := map[string]string{
			"b":          "two",
			"a":          "one",
			"c":          "three",
			"longer-key": "valuevalue",
		}
		actual := NormalizeStringMap(input, MapLimits{MaxEntries: 2, MaxKeyLength: 6, MaxValueLength: 4})
		expected := map[string]string{"a": "one", "b": "two"}
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}

		truncated := NormalizeStringMap(map[string]string{"longer-key": "valuevalue"}, MapLimits{MaxKeyLength: 6, MaxValueLength: 4})
		if truncated["longer"] != "valu" {
			t.Fatalf("expected truncated entry, got %#v", truncated)
		}
	})

	t.Run("returns nil for empty input", func(t *testing.T) {
		if NormalizeStringMap(nil, MapLimits{}) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{" ": " "}, MapLimits{}) != nil {
			t.Fatalf("expected nil when every entry is blank")
		}
	})
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"Retablo ayacuchano", 7, "Retablo"},
		{"Cerámica", 4, "Cerá"},
		{"short", 10, "short"},
		{"unbounded", 0, "unbounded"},
		{"Mate burilado", 5, "Mate"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", " PEN "); got != "PEN" {
		t.Fatalf("unexpected value %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
