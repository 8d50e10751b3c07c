package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearTriggerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VIDEO_URL", "TASK_NAME", "GSHEET_ROW_INDEX", "ASSIGNEE", "PHOTOGRAPHER",
		"SHOOT_DATE", "NOTES", "R2_ACCOUNT_ID", "R2_ACCESS_KEY", "R2_SECRET_KEY",
		"R2_BUCKET", "R2_CUSTOM_DOMAIN", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"OPENAI_MODEL", "N8N_WEBHOOK_URL", "N8N_WEBHOOK_SECRET", "MAX_VIDEO_SIZE",
		"MAX_DURATION", "AI_TEMPERATURE", "AI_MAX_TOKENS", "TEST_MODE", "LOG_LEVEL",
		"CLIPLINE_CONFIG",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VIDEO_URL", "https://example.com/watch?v=abc")
	t.Setenv("TASK_NAME", "weekly clip")
	t.Setenv("GSHEET_ROW_INDEX", "42")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY", "ak")
	t.Setenv("R2_SECRET_KEY", "sk")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestParseByteSize_Units(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1024", 1024},
		{"1Ki", 1024},
		{"2MiB", 2 * 1024 * 1024},
		{"3Gi", 3 * 1024 * 1024 * 1024},
		{"10MB", 10 * 1000 * 1000},
		{"500Mi", 500 * 1024 * 1024},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
	if _, err := ParseByteSize("bad"); err == nil {
		t.Fatalf("expected error for invalid unit")
	}
}

func TestLoad_MissingFields_AllReported(t *testing.T) {
	clearTriggerEnv(t)
	// Only one of the seven required fields present.
	t.Setenv("TASK_NAME", "clip")

	_, err := Load("")
	if err == nil {
		t.Fatalf("expected config error")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %T: %v", err, err)
	}
	wantMissing := []string{
		"VIDEO_URL", "GSHEET_ROW_INDEX", "R2_ACCOUNT_ID",
		"R2_ACCESS_KEY", "R2_SECRET_KEY", "OPENAI_API_KEY",
	}
	joined := strings.Join(cfgErr.Problems, "\n")
	for _, field := range wantMissing {
		if !strings.Contains(joined, field) {
			t.Errorf("problem list missing %s: %v", field, cfgErr.Problems)
		}
	}
	if len(cfgErr.Problems) != len(wantMissing) {
		t.Errorf("got %d problems, want %d: %v", len(cfgErr.Problems), len(wantMissing), cfgErr.Problems)
	}
}

func TestLoad_InvalidURLAndNumerics_Collected(t *testing.T) {
	clearTriggerEnv(t)
	setRequiredEnv(t)
	t.Setenv("VIDEO_URL", "not a url")
	t.Setenv("MAX_VIDEO_SIZE", "plenty")
	t.Setenv("MAX_DURATION", "-5")
	t.Setenv("AI_MAX_TOKENS", "zero")

	_, err := Load("")
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error, got %v", err)
	}
	joined := strings.Join(cfgErr.Problems, "\n")
	for _, field := range []string{"VIDEO_URL", "MAX_VIDEO_SIZE", "MAX_DURATION", "AI_MAX_TOKENS"} {
		if !strings.Contains(joined, field) {
			t.Errorf("problem list missing %s: %v", field, cfgErr.Problems)
		}
	}
}

func TestLoad_EnvOnly_Defaults(t *testing.T) {
	clearTriggerEnv(t)
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if uint64(cfg.Fetch.MaxVideoSize) != 500<<20 {
		t.Errorf("maxVideoSize default = %d", cfg.Fetch.MaxVideoSize)
	}
	if cfg.Fetch.MaxDuration != 10*time.Minute {
		t.Errorf("maxDuration default = %v", cfg.Fetch.MaxDuration)
	}
	if cfg.AI.Model != "gpt-4-turbo-preview" || cfg.AI.MaxTokens != 1000 {
		t.Errorf("AI defaults: model=%q maxTokens=%d", cfg.AI.Model, cfg.AI.MaxTokens)
	}
	if cfg.Storage.Bucket != "video-automation" {
		t.Errorf("bucket default = %q", cfg.Storage.Bucket)
	}
	if cfg.Webhook.Retries != 3 || cfg.Webhook.Timeout != 30*time.Second {
		t.Errorf("webhook defaults: retries=%d timeout=%v", cfg.Webhook.Retries, cfg.Webhook.Timeout)
	}
	if cfg.Task.ShootDate == "" {
		t.Errorf("shootDate should default to today")
	}
}

func TestLoad_YAMLWithEnvExpansion_EnvOverlayWins(t *testing.T) {
	clearTriggerEnv(t)
	setRequiredEnv(t)
	t.Setenv("SECRET_FROM_ENV", "hush")
	t.Setenv("TASK_NAME", "from-env")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := `
logLevel: debug
task:
  taskName: "from-yaml"
  notes: "yaml notes"
fetch:
  maxVideoSize: 100Mi
  maxDuration: 2m
webhook:
  url: "https://hooks.example.com/run"
  secret: "${SECRET_FROM_ENV}"
  retries: 5
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write cfg: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Task.TaskName != "from-env" {
		t.Errorf("env overlay should win: taskName=%q", cfg.Task.TaskName)
	}
	if cfg.Task.Notes != "yaml notes" {
		t.Errorf("yaml value lost: notes=%q", cfg.Task.Notes)
	}
	if uint64(cfg.Fetch.MaxVideoSize) != 100<<20 || cfg.Fetch.MaxDuration != 2*time.Minute {
		t.Errorf("fetch limits not parsed: %d %v", cfg.Fetch.MaxVideoSize, cfg.Fetch.MaxDuration)
	}
	if cfg.Webhook.Secret != "hush" {
		t.Errorf("env expansion failed: secret=%q", cfg.Webhook.Secret)
	}
	if cfg.Webhook.Retries != 5 {
		t.Errorf("webhook retries = %d", cfg.Webhook.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("logLevel = %q", cfg.LogLevel)
	}
}

func TestParseDurationOrSeconds(t *testing.T) {
	if d, err := parseDurationOrSeconds("600"); err != nil || d != 10*time.Minute {
		t.Fatalf("600 -> %v, %v", d, err)
	}
	if d, err := parseDurationOrSeconds("90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s -> %v, %v", d, err)
	}
	if _, err := parseDurationOrSeconds("soon"); err == nil {
		t.Fatalf("expected error")
	}
}
