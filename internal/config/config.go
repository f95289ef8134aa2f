// Package config loads the mission spine's runtime configuration from
// the environment, the way the teacher's proxy loaded its LLM
// settings: .env first, then os.Getenv with sane defaults, then a
// validation pass before anything starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env  string `validate:"oneof=development production test"`
	Port string `validate:"required"`

	DBPath string `validate:"required"`

	DefaultMode      string `validate:"oneof=stealth balanced aggressive"`
	MaxWorkers       int    `validate:"min=1,max=64"`
	RiskThreshold    int    `validate:"min=0,max=100"`
	MinSubdomains    int
	MaxIterations    int `validate:"min=0,max=10"`
	ScriptTimeoutSec int `validate:"min=1,max=120"`

	PassiveTimeout  time.Duration
	ActiveTimeout   time.Duration
	VerifyTimeout   time.Duration
	DefaultTimeout  time.Duration
	KeepaliveEvery  time.Duration
	RingBufferSize  int `validate:"min=1"`
	DedupWindowSize int `validate:"min=1"`

	LLM LLMConfig
}

type LLMConfig struct {
	Provider      string
	Model         string
	APIKey        string
	ModelFast     string
	ModelSmart    string
	BaseURL       string
	Format        string
	Enabled       bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Load reads .env (if present), binds environment variables onto a
// Config, and validates required fields. A missing .env file is not
// an error — the teacher's proxy required one; the mission spine
// tolerates pure-environment deployment (containers rarely ship .env).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:    getEnvOrDefault("ENV", "development"),
		Port:   getEnvOrDefault("PORT", "8080"),
		DBPath: getEnvOrDefault("DB_PATH", "./recon.db"),

		DefaultMode:      getEnvOrDefault("DEFAULT_MODE", "balanced"),
		MaxWorkers:       getEnvIntOrDefault("MAX_WORKERS", 5),
		RiskThreshold:    getEnvIntOrDefault("RISK_THRESHOLD", 40),
		MinSubdomains:    getEnvIntOrDefault("MIN_SUBDOMAINS_FOR_ACTIVE", 0),
		MaxIterations:    getEnvIntOrDefault("REFLECTION_MAX_ITERATIONS", 3),
		ScriptTimeoutSec: getEnvIntOrDefault("SCRIPT_TIMEOUT_SEC", 30),

		PassiveTimeout:  getEnvDurationOrDefault("PASSIVE_TIMEOUT", 120*time.Second),
		ActiveTimeout:   getEnvDurationOrDefault("ACTIVE_TIMEOUT", 600*time.Second),
		VerifyTimeout:   getEnvDurationOrDefault("VERIFY_TIMEOUT", 600*time.Second),
		DefaultTimeout:  getEnvDurationOrDefault("DEFAULT_PHASE_TIMEOUT", 300*time.Second),
		KeepaliveEvery:  getEnvDurationOrDefault("SSE_KEEPALIVE", 15*time.Second),
		RingBufferSize:  getEnvIntOrDefault("RING_BUFFER_SIZE", 1000),
		DedupWindowSize: getEnvIntOrDefault("DEDUP_WINDOW_SIZE", 5000),

		LLM: LLMConfig{
			Provider:   getEnvOrDefault("LLM_PROVIDER", "gemini"),
			Model:      os.Getenv("LLM_MODEL"),
			APIKey:     os.Getenv("API_KEY"),
			ModelFast:  os.Getenv("LLM_MODEL_FAST"),
			ModelSmart: os.Getenv("LLM_MODEL_SMART"),
			BaseURL:    os.Getenv("LLM_BASE_URL"),
			Format:     getEnvOrDefault("LLM_FORMAT", "openai"),
			Enabled:    getEnvOrDefault("LLM_ENABLED", "false") == "true",
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if cfg.LLM.Enabled {
		if cfg.LLM.ModelFast == "" || cfg.LLM.ModelSmart == "" {
			return nil, fmt.Errorf("LLM_MODEL_FAST and LLM_MODEL_SMART are required when LLM_ENABLED=true")
		}
	}

	return cfg, nil
}
