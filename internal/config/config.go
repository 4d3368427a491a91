// Package config resolves engine settings from defaults, an optional .env
// file, and STATE_* environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iambrandonn/statekeeper/internal/intent"
)

// Defaults
const (
	DefaultReviewMaxPending    = 10
	DefaultReviewLimit         = 5
	DefaultReviewMinConfidence = 0.5
	DefaultReviewInterval      = 45 * time.Second
	DefaultIngestMinChars      = 12
	DefaultIngestMaxPending    = 10
)

// Config is the resolved engine configuration
type Config struct {
	RootDir    string
	EntityID   string
	GogAccount string // upstream calendar/mail account for the poller

	PollerCronExpr string

	ReviewMaxPending    int
	ReviewLimit         int
	ReviewMinConfidence float64

	TelegramTarget   string
	TelegramThreadID string
	ReviewInterval   time.Duration

	IntentExtractorMode string   // intent.ModeRule | intent.ModeCommand
	IntentExtractorCmd  []string // argv for command mode

	AdaptiveMode string // off | shadow | apply

	IngestChannels       []string
	IngestAllowedSenders []string
	IngestMinChars       int
	IngestMaxPending     int
	IngestSourceType     string
}

// LoadDotenv loads a .env file when present; absence is not an error
func LoadDotenv(path string) {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

// FromEnv builds the configuration from STATE_* environment variables over
// the defaults.
func FromEnv() *Config {
	return &Config{
		RootDir:    envStr("STATE_ROOT_DIR", "."),
		EntityID:   os.Getenv("STATE_ENTITY_ID"),
		GogAccount: os.Getenv("STATE_GOG_ACCOUNT"),

		PollerCronExpr: os.Getenv("STATE_POLLER_CRON_EXPR"),

		ReviewMaxPending:    envInt("STATE_REVIEW_MAX_PENDING", DefaultReviewMaxPending),
		ReviewLimit:         envInt("STATE_REVIEW_LIMIT", DefaultReviewLimit),
		ReviewMinConfidence: envFloat("STATE_REVIEW_MIN_CONFIDENCE", DefaultReviewMinConfidence),

		TelegramTarget:   os.Getenv("STATE_TELEGRAM_TARGET"),
		TelegramThreadID: os.Getenv("STATE_TELEGRAM_THREAD_ID"),
		ReviewInterval:   envDuration("STATE_TELEGRAM_REVIEW_INTERVAL", DefaultReviewInterval),

		IntentExtractorMode: envStr("STATE_INTENT_EXTRACTOR_MODE", intent.ModeRule),
		IntentExtractorCmd:  envArgv("STATE_INTENT_EXTRACTOR_CMD"),

		AdaptiveMode: envStr("STATE_ADAPTIVE_MODE", "off"),

		IngestChannels:       envList("STATE_INGEST_CHANNELS"),
		IngestAllowedSenders: envList("STATE_INGEST_ALLOWED_SENDERS"),
		IngestMinChars:       envInt("STATE_INGEST_MIN_CHARS", DefaultIngestMinChars),
		IngestMaxPending:     envInt("STATE_INGEST_MAX_PENDING", DefaultIngestMaxPending),
		IngestSourceType:     os.Getenv("STATE_INGEST_SOURCE_TYPE"),
	}
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envDuration accepts Go duration syntax ("45s", "2m") or a bare number of
// seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// envList splits a comma-separated value, trimming blanks
func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envArgv splits a command line on whitespace
func envArgv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}
