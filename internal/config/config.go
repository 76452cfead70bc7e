package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AnalysisModeSync  = "sync"
	AnalysisModeAsync = "async"
)

type Config struct {
	// Gemini inference API
	GeminiAPIKey        string        `yaml:"gemini_api_key"`
	GeminiAPIBaseURL    string        `yaml:"gemini_api_base_url"`
	GeminiAnalysisModel string        `yaml:"gemini_analysis_model"`
	GeminiChatModel     string        `yaml:"gemini_chat_model"`
	GeminiTimeout       time.Duration `yaml:"gemini_timeout"`
	GeminiRateLimit     float64       `yaml:"gemini_rate_limit"`

	// Workflow
	AnalysisMode   string `yaml:"analysis_mode"`
	MaxImageBytes  int64  `yaml:"max_image_bytes"`
	MaxImagePixels int64  `yaml:"max_image_pixels"`

	// Supabase image archive (optional)
	SupabaseURL           string `yaml:"supabase_url"`
	SupabaseServiceKey    string `yaml:"supabase_service_key"`
	SupabaseStorageBucket string `yaml:"supabase_storage_bucket"`

	// Auth (optional)
	AuthJWTSecret string `yaml:"auth_jwt_secret"`

	// Redis chat-turn guard (optional)
	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	// Server
	Port           string   `yaml:"port"`
	Environment    string   `yaml:"environment"`
	BaseURL        string   `yaml:"base_url"`
	LogMode        string   `yaml:"log_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() *Config {
	return &Config{
		GeminiAPIBaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		GeminiAnalysisModel: "gemini-2.0-flash",
		GeminiChatModel:     "gemini-2.5-flash",
		GeminiTimeout:       60 * time.Second,
		GeminiRateLimit:     2,

		AnalysisMode:   AnalysisModeSync,
		MaxImageBytes:  5 << 20,
		MaxImagePixels: 50_000_000,

		SupabaseStorageBucket: "pcb-images",

		DatabaseURL: "sqlite:///./pcbrecon.db",

		Port:           "8000",
		Environment:    "development",
		BaseURL:        "http://localhost:8000",
		LogMode:        "development",
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and the environment, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GeminiAPIBaseURL = getEnv("GEMINI_API_BASE_URL", c.GeminiAPIBaseURL)
	c.GeminiAnalysisModel = getEnv("GEMINI_ANALYSIS_MODEL", c.GeminiAnalysisModel)
	c.GeminiChatModel = getEnv("GEMINI_CHAT_MODEL", c.GeminiChatModel)

	if v := os.Getenv("GEMINI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GEMINI_TIMEOUT: %w", err)
		}
		c.GeminiTimeout = d
	}
	if v := os.Getenv("GEMINI_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GEMINI_RATE_LIMIT: %w", err)
		}
		c.GeminiRateLimit = f
	}

	c.AnalysisMode = getEnv("ANALYSIS_MODE", c.AnalysisMode)
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_IMAGE_BYTES: %w", err)
		}
		c.MaxImageBytes = n
	}
	if v := os.Getenv("MAX_IMAGE_PIXELS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_IMAGE_PIXELS: %w", err)
		}
		c.MaxImagePixels = n
	}

	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.SupabaseServiceKey)
	c.SupabaseStorageBucket = getEnv("SUPABASE_STORAGE_BUCKET", c.SupabaseStorageBucket)

	c.AuthJWTSecret = getEnv("AUTH_JWT_SECRET", c.AuthJWTSecret)

	c.RedisAddress = getEnv("REDIS_ADDRESS", c.RedisAddress)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.BaseURL = getEnv("BASE_URL", c.BaseURL)
	c.LogMode = getEnv("LOG_MODE", c.LogMode)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.GeminiAPIBaseURL == "" {
		return fmt.Errorf("GEMINI_API_BASE_URL must not be empty")
	}
	if c.GeminiTimeout <= 0 {
		return fmt.Errorf("GEMINI_TIMEOUT must be positive")
	}
	if c.GeminiRateLimit < 0 {
		return fmt.Errorf("GEMINI_RATE_LIMIT must not be negative")
	}
	if c.AnalysisMode != AnalysisModeSync && c.AnalysisMode != AnalysisModeAsync {
		return fmt.Errorf("ANALYSIS_MODE must be %q or %q, got %q", AnalysisModeSync, AnalysisModeAsync, c.AnalysisMode)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	return nil
}

// ArchiveEnabled reports whether uploaded images are copied to Supabase Storage.
func (c *Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// AuthEnabled reports whether /projects routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.AuthJWTSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
