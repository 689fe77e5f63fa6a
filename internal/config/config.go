package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/pitched26/pitched/internal/logging"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	CoachAPIKey  string
	CoachAPIURL  string
	CoachModelID string

	// Pipeline tunables. Hand-tuned defaults; the right values depend on
	// the analysis service's latency profile and the capture environment.
	CyclePeriod       time.Duration
	MinSegment        time.Duration
	MaxInflight       int
	ContextCharBudget int
	PaceTick          time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logging.Debugw("no .env file loaded", "err", err)
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	apiKey := os.Getenv("COACH_API_KEY")
	if apiKey == "" {
		logging.Warnw("COACH_API_KEY not set - analysis will not work")
	}

	apiURL := os.Getenv("COACH_API_URL")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/chat/completions"
	}

	model := os.Getenv("COACH_MODEL_ID")
	if model == "" {
		model = "gpt-4o-audio-preview"
	}

	cfg := Config{
		HTTPAddress:       addr,
		CoachAPIKey:       apiKey,
		CoachAPIURL:       apiURL,
		CoachModelID:      model,
		CyclePeriod:       envDurationMs("ANALYSIS_CYCLE_MS", 2000),
		MinSegment:        envDurationMs("MIN_SEGMENT_MS", 100),
		MaxInflight:       envInt("MAX_INFLIGHT", 3),
		ContextCharBudget: envInt("CONTEXT_CHAR_BUDGET", 2000),
		PaceTick:          envDurationMs("PACE_TICK_MS", 100),
	}
	logging.Infow("config loaded", "http_address", cfg.HTTPAddress, "coach_model", cfg.CoachModelID,
		"cycle_ms", cfg.CyclePeriod.Milliseconds(), "max_inflight", cfg.MaxInflight)
	return cfg
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logging.Warnw("invalid integer env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDurationMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}
