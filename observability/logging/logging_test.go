package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriterRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "lendingd", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("flow settled", MaskField("market", "DAI"), MaskField("token", "secret"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "lendingd",
		"env":      "test",
		"severity": "INFO",
		"message":  "flow settled",
		"market":   "DAI",
		"token":    RedactedValue,
	} {
		if line[key] != want {
			t.Fatalf("%s = %v, want %q", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("  ") != "  " {
		t.Fatalf("blank values must pass through")
	}
	if MaskValue("tok") != RedactedValue {
		t.Fatalf("values must be masked")
	}
	if !IsAllowlisted(" Request_ID ") {
		t.Fatalf("request_id should be allowlisted")
	}
}

func TestSensitiveKeysAreAlwaysRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "lendingd", "", slog.LevelInfo)
	logger.Info("auth", slog.String("bearer_token", "abc"), slog.String("X-Shared-Secret", "s3"), slog.String("api_key", ""), slog.Int("iterations", 3))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["bearer_token"] != RedactedValue || line["X-Shared-Secret"] != RedactedValue {
		t.Fatalf("credentials leaked: %v", line)
	}
	if line["api_key"] != "" {
		t.Fatalf("blank credential should stay blank: %v", line["api_key"])
	}
	if line["iterations"] != float64(3) {
		t.Fatalf("iterations = %v", line["iterations"])
	}
	if _, ok := line["env"]; ok {
		t.Fatalf("empty env should be omitted")
	}
}
