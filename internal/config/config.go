// Package config loads agent configuration from the environment.
//
// Configuration sources:
//   - ZABBAR_DATA_DIR/.env (or the working directory's .env) loaded via godotenv
//   - process environment, which always wins over .env values
//
// The result is an immutable snapshot: the agent reads one Config per cycle
// and is told about changes through the Watcher, never by mutating a shared
// Config in place.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zabbar/zabbar/internal/models"
)

// Summarization provider names.
const (
	ProviderDisabled  = "disabled"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store backend names.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// DefaultPromptTemplate is used when no template is configured. %s receives
// the newline-joined alert lines.
const DefaultPromptTemplate = "Summarize the following active monitoring alerts in two sentences, " +
	"most severe first. Be terse and factual.\n\n%s"

// SummaryConfig selects and parameterizes the summarization backend.
type SummaryConfig struct {
	Enabled        bool
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	PromptTemplate string
	Timeout        time.Duration
}

// Config is the immutable per-cycle configuration snapshot.
type Config struct {
	ServerURL         string
	ServerIdentity    string        // normalized host, used as the credential key
	PollInterval      time.Duration // 0 = manual-only
	VerifyTLS         bool
	TLSFingerprint    string // SHA-256 pin for self-signed deployments
	PrimaryFilter     models.SeveritySet
	SecondaryFilter   models.SeveritySet // "widget view" filter, drives the published snapshot
	SortPreference    string
	TitlePattern      string // optional wildcard pattern an alert title must match
	ResultCap         int
	AuthTimeout       time.Duration
	FetchTimeout      time.Duration
	Summary           SummaryConfig
	StoreBackend      string
	DataDir           string
	LogLevel          string
	LogFormat         string
	LogFile           string
	MetricsListenAddr string // empty disables the /metrics listener
}

// DataDir resolves the agent's data directory.
func DataDir() string {
	if dir := os.Getenv("ZABBAR_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".zabbar")
}

// EnvFilePath returns the path of the .env file the watcher observes.
func EnvFilePath() string {
	return filepath.Join(DataDir(), ".env")
}

// Load reads configuration from .env and the process environment.
func Load() (*Config, error) {
	dataDir := DataDir()

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("path", envFile).Msg("Failed to load .env file")
		}
	} else if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env from working directory")
	}

	cfg := &Config{
		ServerURL:         strings.TrimSpace(os.Getenv("ZABBAR_SERVER_URL")),
		PollInterval:      envDuration("ZABBAR_POLL_INTERVAL", 60*time.Second),
		VerifyTLS:         envBool("ZABBAR_VERIFY_TLS", true),
		TLSFingerprint:    os.Getenv("ZABBAR_TLS_FINGERPRINT"),
		PrimaryFilter:     envSeveritySet("ZABBAR_SEVERITY_FILTER", models.NewSeveritySet(2, 3, 4, 5)),
		SecondaryFilter:   envSeveritySet("ZABBAR_WIDGET_FILTER", models.NewSeveritySet(3, 4, 5)),
		SortPreference:    envDefault("ZABBAR_SORT", "severity"),
		TitlePattern:      os.Getenv("ZABBAR_TITLE_PATTERN"),
		ResultCap:         envInt("ZABBAR_RESULT_CAP", models.DefaultResultCap),
		AuthTimeout:       envDuration("ZABBAR_AUTH_TIMEOUT", 15*time.Second),
		FetchTimeout:      envDuration("ZABBAR_FETCH_TIMEOUT", 30*time.Second),
		StoreBackend:      envDefault("ZABBAR_STORE", StoreBackendFile),
		DataDir:           dataDir,
		LogLevel:          envDefault("LOG_LEVEL", "info"),
		LogFormat:         envDefault("LOG_FORMAT", "auto"),
		LogFile:           os.Getenv("ZABBAR_LOG_FILE"),
		MetricsListenAddr: os.Getenv("ZABBAR_METRICS_ADDR"),
		Summary: SummaryConfig{
			Enabled:        envBool("ZABBAR_AI_ENABLED", false),
			Provider:       envDefault("ZABBAR_AI_PROVIDER", ProviderDisabled),
			Model:          os.Getenv("ZABBAR_AI_MODEL"),
			APIKey:         os.Getenv("ZABBAR_AI_API_KEY"),
			BaseURL:        os.Getenv("ZABBAR_AI_BASE_URL"),
			PromptTemplate: envDefault("ZABBAR_AI_PROMPT", DefaultPromptTemplate),
			Timeout:        envDuration("ZABBAR_AI_TIMEOUT", 120*time.Second),
		},
	}

	if cfg.ServerURL != "" {
		identity, err := normalizeServerIdentity(cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ZABBAR_SERVER_URL: %w", err)
		}
		cfg.ServerIdentity = identity
	}

	if cfg.ResultCap <= 0 {
		cfg.ResultCap = models.DefaultResultCap
	}
	if !cfg.Summary.Enabled {
		cfg.Summary.Provider = ProviderDisabled
	}

	return cfg, nil
}

// Validate checks the parts required to run the agent loop.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is not configured (set ZABBAR_SERVER_URL)")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch c.StoreBackend {
	case StoreBackendFile, StoreBackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Summary.Enabled {
		switch c.Summary.Provider {
		case ProviderOllama, ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("unknown summarization provider %q", c.Summary.Provider)
		}
	}
	return nil
}

// normalizeServerIdentity reduces a server URL to a stable identity string
// (scheme-less host[:port]) used as the credential-store key and embedded in
// published snapshots.
func normalizeServerIdentity(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	return u.Host, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring non-numeric env value")
		return fallback
	}
	return n
}

// envDuration accepts either a Go duration string ("90s") or a bare number of
// seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn().Str("key", key).Str("value", v).Msg("Ignoring unparseable duration")
	return fallback
}

func envSeveritySet(key string, fallback models.SeveritySet) models.SeveritySet {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	set := models.ParseSeveritySet(v)
	if len(set) == 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Severity filter parsed empty, keeping default")
		return fallback
	}
	return set
}
