package configutil

import (
	"strings"
	"testing"
)

type diskSettings struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out diskSettings
	err := DecodeSettings(map[string]any{"DIR": "/tmp/a", "retention-days": "7"}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Dir != "/tmp/a" || out.RetentionDays != 7 {
		t.Fatalf("unexpected result %+v", out)
	}
}

type strictSettings struct {
	Dir           string `mapstructure:"dir" validate:"required"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gte=0"`
}

func TestDecodeStrictReportsMissingAndUnknown(t *testing.T) {
	var out strictSettings
	err := DecodeStrict(map[string]any{"retention_days": 1, "bucket": "x"}, &out)
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "unknown: bucket") || !strings.Contains(msg, "dir: is required") {
		t.Fatalf("unexpected message %q", msg)
	}

	out = strictSettings{}
	if err := DecodeStrict(map[string]any{"dir": " "}, &out); err == nil {
		t.Fatalf("expected blank required value to be rejected")
	}

	out = strictSettings{}
	if err := DecodeStrict(map[string]any{"Dir": "/data", "retention_days": "-1"}, &out); err == nil || !strings.Contains(err.Error(), "retention_days: must be at least 0") {
		t.Fatalf("expected range error, got %v", err)
	}

	out = strictSettings{}
	if err := DecodeStrict(map[string]any{"dir": "/data"}, &out); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString("", "backend.base_url"); err == nil || err.Error() != "backend.base_url is required" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := RequireString("x", "a"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
