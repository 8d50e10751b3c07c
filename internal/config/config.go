package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one invocation. It is constructed once
// by Load and treated as immutable afterwards; components receive it (or a
// section of it) by reference and never read process state themselves.
type Config struct {
	LogLevel string        `yaml:"logLevel"` // debug|info|warn|error
	TestMode bool          `yaml:"testMode"` // skip webhook delivery
	Task     TaskConfig    `yaml:"task"`
	Fetch    FetchConfig   `yaml:"fetch"`
	Storage  StorageConfig `yaml:"storage"`
	AI       AIConfig      `yaml:"ai"`
	Webhook  WebhookConfig `yaml:"webhook"`
}

// TaskConfig is the raw task descriptor as supplied by the trigger layer.
type TaskConfig struct {
	VideoURL     string `yaml:"videoUrl"`
	TaskName     string `yaml:"taskName"`
	RowIndex     string `yaml:"rowIndex"` // opaque caller reference, echoed back verbatim
	Assignee     string `yaml:"assignee"`
	Photographer string `yaml:"photographer"`
	ShootDate    string `yaml:"shootDate"`
	Notes        string `yaml:"notes"`
}

// FetchConfig bounds the media fetch stage.
type FetchConfig struct {
	MaxVideoSize ByteSize      `yaml:"maxVideoSize"`
	MaxDuration  time.Duration `yaml:"maxDuration"`
	Timeout      time.Duration `yaml:"timeout"` // per-attempt
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
}

// StorageConfig holds R2 (S3-compatible) credentials and bucket settings.
type StorageConfig struct {
	AccountID    string        `yaml:"accountId"`
	AccessKey    string        `yaml:"accessKey"`
	SecretKey    string        `yaml:"secretKey"`
	Bucket       string        `yaml:"bucket"`
	CustomDomain string        `yaml:"customDomain"` // optional public CDN domain
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
}

// AIConfig selects the OpenAI-compatible model endpoint and its parameters.
type AIConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
}

// WebhookConfig configures the completion-report callback.
type WebhookConfig struct {
	URL     string        `yaml:"url"` // optional; delivery is skipped when empty
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// Error reports every missing or invalid configuration field at once, so the
// operator fixes one dispatch instead of replaying the task per field.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// ByteSize represents a size in bytes that parses from strings like "10Mi",
// "500MB", "512KiB" or bare byte counts.
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
	}
	parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a quantity like "10Mi", "20MB", "512KiB" or "1024"
// into bytes. Binary units may be written with or without the trailing B.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	if reNumeric.MatchString(s) {
		return strconv.ParseUint(s, 10, 64)
	}
	up := strings.ToUpper(s)
	units := []struct {
		suffix string
		value  uint64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KI", 1 << 10}, {"MI", 1 << 20}, {"GI", 1 << 30},
		{"KB", 1e3}, {"MB", 1e6}, {"GB", 1e9},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load builds the invocation configuration. An optional YAML file (path, or
// CLIPLINE_CONFIG, or ./config.yaml) provides base settings with ${VAR}
// expansion; the task and credential environment variables set by the trigger
// layer are then overlaid on top. Validation failures are collected into a
// single *Error naming every problem.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		if env := os.Getenv("CLIPLINE_CONFIG"); env != "" {
			path = env
			explicit = true
		} else {
			path = "config.yaml"
		}
	}

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - sanitized config path
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file; the environment alone supplies everything.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	problems := applyEnv(&cfg)
	applyDefaults(&cfg)
	problems = append(problems, validate(&cfg)...)
	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return &cfg, nil
}

// applyEnv overlays the trigger-supplied environment variables onto cfg and
// returns parse problems for numeric overrides it could not accept.
func applyEnv(cfg *Config) []string {
	var problems []string

	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setStr("VIDEO_URL", &cfg.Task.VideoURL)
	setStr("TASK_NAME", &cfg.Task.TaskName)
	setStr("GSHEET_ROW_INDEX", &cfg.Task.RowIndex)
	setStr("ASSIGNEE", &cfg.Task.Assignee)
	setStr("PHOTOGRAPHER", &cfg.Task.Photographer)
	setStr("SHOOT_DATE", &cfg.Task.ShootDate)
	setStr("NOTES", &cfg.Task.Notes)

	setStr("R2_ACCOUNT_ID", &cfg.Storage.AccountID)
	setStr("R2_ACCESS_KEY", &cfg.Storage.AccessKey)
	setStr("R2_SECRET_KEY", &cfg.Storage.SecretKey)
	setStr("R2_BUCKET", &cfg.Storage.Bucket)
	setStr("R2_CUSTOM_DOMAIN", &cfg.Storage.CustomDomain)

	setStr("OPENAI_API_KEY", &cfg.AI.APIKey)
	setStr("OPENAI_BASE_URL", &cfg.AI.BaseURL)
	setStr("OPENAI_MODEL", &cfg.AI.Model)

	setStr("N8N_WEBHOOK_URL", &cfg.Webhook.URL)
	setStr("N8N_WEBHOOK_SECRET", &cfg.Webhook.Secret)
	setStr("LOG_LEVEL", &cfg.LogLevel)

	if v := os.Getenv("TEST_MODE"); v != "" {
		cfg.TestMode = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("MAX_VIDEO_SIZE"); v != "" {
		size, err := ParseByteSize(v)
		if err != nil || size == 0 {
			problems = append(problems, fmt.Sprintf("MAX_VIDEO_SIZE must be a positive size, got %q", v))
		} else {
			cfg.Fetch.MaxVideoSize = ByteSize(size)
		}
	}
	if v := os.Getenv("MAX_DURATION"); v != "" {
		d, err := parseDurationOrSeconds(v)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("MAX_DURATION must be a positive duration, got %q", v))
		} else {
			cfg.Fetch.MaxDuration = d
		}
	}
	if v := os.Getenv("AI_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 {
			problems = append(problems, fmt.Sprintf("AI_TEMPERATURE must be a non-negative number, got %q", v))
		} else {
			cfg.AI.Temperature = float32(f)
		}
	}
	if v := os.Getenv("AI_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			problems = append(problems, fmt.Sprintf("AI_MAX_TOKENS must be a positive integer, got %q", v))
		} else {
			cfg.AI.MaxTokens = n
		}
	}
	return problems
}

// parseDurationOrSeconds accepts either a Go duration ("10m") or a bare
// number of seconds ("600"), which is what spreadsheet-driven triggers send.
func parseDurationOrSeconds(s string) (time.Duration, error) {
	if reNumeric.MatchString(strings.TrimSpace(s)) {
		secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Task.ShootDate == "" {
		cfg.Task.ShootDate = time.Now().UTC().Format("2006-01-02")
	}

	if cfg.Fetch.MaxVideoSize == 0 {
		cfg.Fetch.MaxVideoSize = ByteSize(500 << 20) // 500 MiB
	}
	if cfg.Fetch.MaxDuration == 0 {
		cfg.Fetch.MaxDuration = 10 * time.Minute
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 10 * time.Minute
	}
	if cfg.Fetch.Retries <= 0 {
		cfg.Fetch.Retries = 3
	}
	if cfg.Fetch.Backoff == 0 {
		cfg.Fetch.Backoff = 2 * time.Second
	}

	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "video-automation"
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = 5 * time.Minute
	}
	if cfg.Storage.Retries <= 0 {
		cfg.Storage.Retries = 3
	}
	if cfg.Storage.Backoff == 0 {
		cfg.Storage.Backoff = 2 * time.Second
	}

	if strings.TrimSpace(cfg.AI.BaseURL) == "" {
		cfg.AI.BaseURL = "https://api.openai.com"
	}
	if strings.TrimSpace(cfg.AI.Model) == "" {
		cfg.AI.Model = "gpt-4-turbo-preview"
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 1000
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 60 * time.Second
	}
	if cfg.AI.Retries <= 0 {
		cfg.AI.Retries = 3
	}
	if cfg.AI.Backoff == 0 {
		cfg.AI.Backoff = 2 * time.Second
	}

	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = 30 * time.Second
	}
	if cfg.Webhook.Retries <= 0 {
		cfg.Webhook.Retries = 3
	}
	if cfg.Webhook.Backoff == 0 {
		cfg.Webhook.Backoff = 2 * time.Second
	}
}

// validate checks every required field and returns the full problem list.
// Problem strings use the trigger-layer environment variable names since
// that is what the operator sees in the dispatch form.
func validate(cfg *Config) []string {
	var problems []string

	switch u := strings.TrimSpace(cfg.Task.VideoURL); u {
	case "":
		problems = append(problems, "VIDEO_URL is required")
	default:
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			problems = append(problems, fmt.Sprintf("VIDEO_URL is not a valid http(s) URL: %q", u))
		}
	}
	if strings.TrimSpace(cfg.Task.TaskName) == "" {
		problems = append(problems, "TASK_NAME is required")
	}
	if strings.TrimSpace(cfg.Task.RowIndex) == "" {
		problems = append(problems, "GSHEET_ROW_INDEX is required")
	}

	if strings.TrimSpace(cfg.Storage.AccountID) == "" {
		problems = append(problems, "R2_ACCOUNT_ID is required")
	}
	if strings.TrimSpace(cfg.Storage.AccessKey) == "" {
		problems = append(problems, "R2_ACCESS_KEY is required")
	}
	if strings.TrimSpace(cfg.Storage.SecretKey) == "" {
		problems = append(problems, "R2_SECRET_KEY is required")
	}

	if strings.TrimSpace(cfg.AI.APIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}

	if u := strings.TrimSpace(cfg.Webhook.URL); u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			problems = append(problems, fmt.Sprintf("N8N_WEBHOOK_URL is not a valid http(s) URL: %q", u))
		}
	}
	return problems
}
