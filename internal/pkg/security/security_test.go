package security

import (
	"net/http"
	"strings"
	"testing"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "What do lions eat?", "What do lions eat?"},
		{"newline", "line1\nline2", "line1\\nline2"},
		{"carriage return", "a\r\nb", "a\\r\\nb"},
		{"tab", "a\tb", "a\\tb"},
		{"control chars", "a\x00b\x07c", "abc"},
		{"invalid utf8", "a\xffb", "a�b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	got := SanitizeForLog(strings.Repeat("x", 500))
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncation marker, got %q", got[len(got)-5:])
	}
	if len(got) != DefaultLogLength+3 {
		t.Errorf("len = %d, want %d", len(got), DefaultLogLength+3)
	}

	if got := SanitizeForLogWithLength("abcdef", 3); got != "abc..." {
		t.Errorf("SanitizeForLogWithLength() = %q, want abc...", got)
	}
}

func TestMaskSensitiveHeaders(t *testing.T) {
	headers := http.Header{
		"Authorization": []string{"Bearer sk-123"},
		"X-Api-Key":     []string{"k"},
		"Content-Type":  []string{"application/json"},
		"X-Request-Id":  []string{"abc"},
	}

	masked := MaskSensitiveHeaders(headers)

	if masked.Get("Authorization") != Redacted {
		t.Errorf("Authorization = %q, want redacted", masked.Get("Authorization"))
	}
	if masked.Get("X-Api-Key") != Redacted {
		t.Errorf("X-Api-Key = %q, want redacted", masked.Get("X-Api-Key"))
	}
	if masked.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want unchanged", masked.Get("Content-Type"))
	}
	if headers.Get("Authorization") != "Bearer sk-123" {
		t.Error("original headers were modified")
	}

	if MaskSensitiveHeaders(nil) != nil {
		t.Error("MaskSensitiveHeaders(nil) should be nil")
	}
}

func TestMaskSensitiveMap(t *testing.T) {
	m := map[string]string{
		"ml.api_key":          "sk-123",
		"cache.s3_secret_key": "s3cr3t",
		"cache.s3_access_key": "",
		"ml.provider":         "openai",
	}

	masked := MaskSensitiveMap(m)

	if masked["ml.api_key"] != Redacted || masked["cache.s3_secret_key"] != Redacted {
		t.Errorf("secrets not masked: %v", masked)
	}
	if masked["cache.s3_access_key"] != "" {
		t.Errorf("unset secret = %q, want empty", masked["cache.s3_access_key"])
	}
	if masked["ml.provider"] != "openai" {
		t.Errorf("provider = %q, want openai", masked["ml.provider"])
	}
}

func TestLogArgs(t *testing.T) {
	args := LogArgs(map[string]string{"b": "2", "a": "1"})
	if len(args) != 4 || args[0] != "a" || args[1] != "1" || args[2] != "b" {
		t.Errorf("LogArgs() = %v, want sorted pairs", args)
	}
}
