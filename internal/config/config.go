// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.haral/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: model selection per agent role, embedder
//   - Providers: Google Custom Search, YouTube Data API, Imagen
//   - Storage: PostgreSQL connection for long-term vector memory
//   - Server: listen address, CORS, rate limiting
//
// Sensitive fields (API keys, passwords) are masked in MarshalJSON and
// must never be logged.
//
// Error handling uses sentinel errors for errors.Is() checks, wrapped
// with context via fmt.Errorf("...: %w", err).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidHistoryWindow indicates the session history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is not positive.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// text-embedding-004 outputs 768 dimensions, which matches the
	// pgvector schema; see memory.DefaultDimension.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultHistoryWindow is the sliding-window size for in-memory
	// session history. Entries beyond the window are only reachable
	// through long-term memory retrieval.
	DefaultHistoryWindow = 20

	// MaxHistoryWindow bounds the window to prevent unbounded context growth.
	MaxHistoryWindow = 200
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Model configuration per agent role.
	// Provider-qualified Genkit names (e.g. "googleai/gemini-2.5-flash").
	ToolingModel   string `mapstructure:"tooling_model" json:"tooling_model"`
	ReasoningModel string `mapstructure:"reasoning_model" json:"reasoning_model"`
	VisionModel    string `mapstructure:"vision_model" json:"vision_model"`
	ImageModel     string `mapstructure:"image_model" json:"image_model"`

	// Embedder for long-term memory.
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Session history sliding window (number of messages).
	HistoryWindow int `mapstructure:"history_window" json:"history_window"`

	// External providers.
	GoogleAPIKey  string `mapstructure:"google_api_key" json:"google_api_key"` // SENSITIVE: masked in MarshalJSON
	GoogleCSEID   string `mapstructure:"google_cse_id" json:"google_cse_id"`
	YouTubeAPIKey string `mapstructure:"youtube_api_key" json:"youtube_api_key"` // SENSITIVE: masked in MarshalJSON

	// Storage configuration for long-term memory.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration.
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateRPS     float64  `mapstructure:"rate_rps" json:"rate_rps"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability (optional OTLP trace export).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".haral")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("tooling_model", "googleai/gemini-2.5-flash")
	viper.SetDefault("reasoning_model", "googleai/gemini-2.5-pro")
	viper.SetDefault("vision_model", "googleai/gemini-2.5-flash")
	viper.SetDefault("image_model", "imagen-4.0-generate-001")

	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", 768)

	viper.SetDefault("history_window", DefaultHistoryWindow)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "haral")
	viper.SetDefault("postgres_password", "haral_dev_password")
	viper.SetDefault("postgres_db_name", "haral")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("addr", "127.0.0.1:8000")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_rps", 10)
	viper.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the Genkit googleai plugin, not via
// Viper; Validate() only checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("google_api_key", "GOOGLE_API_KEY")
	mustBind("google_cse_id", "GOOGLE_CSE_ID")
	mustBind("youtube_api_key", "YOUTUBE_API_KEY")

	mustBind("tooling_model", "HARAL_TOOLING_MODEL")
	mustBind("reasoning_model", "HARAL_REASONING_MODEL")
	mustBind("vision_model", "HARAL_VISION_MODEL")
	mustBind("image_model", "HARAL_IMAGE_MODEL")

	mustBind("postgres_host", "HARAL_POSTGRES_HOST")
	mustBind("postgres_port", "HARAL_POSTGRES_PORT")
	mustBind("postgres_user", "HARAL_POSTGRES_USER")
	mustBind("postgres_password", "HARAL_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "HARAL_POSTGRES_DB_NAME")

	mustBind("addr", "HARAL_ADDR")
	mustBind("cors_origins", "HARAL_CORS_ORIGINS")
	mustBind("trust_proxy", "HARAL_TRUST_PROXY")
	mustBind("rate_rps", "HARAL_RATE_RPS")
	mustBind("rate_burst", "HARAL_RATE_BURST")

	mustBind("otlp_endpoint", "HARAL_OTLP_ENDPOINT")
}

// Validate checks configuration consistency for all run modes.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	for name, v := range map[string]string{
		"tooling_model":   c.ToolingModel,
		"reasoning_model": c.ReasoningModel,
		"vision_model":    c.VisionModel,
		"image_model":     c.ImageModel,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidModelName, name)
		}
	}

	if c.HistoryWindow <= 0 || c.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidHistoryWindow, c.HistoryWindow, MaxHistoryWindow)
	}

	if c.EmbedderDimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	return nil
}

// ValidateServe checks requirements specific to the HTTP server mode.
// The Gemini API key is read by Genkit from GEMINI_API_KEY; search and
// video tools degrade to error-string results when their keys are
// missing, so they are not required here.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if os.Getenv("GEMINI_API_KEY") == "" && c.GoogleAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY or GOOGLE_API_KEY required", ErrMissingAPIKey)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return nil
}

// ConnString returns the PostgreSQL connection URL for pgx and
// golang-migrate.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.GoogleAPIKey != "" {
		masked.GoogleAPIKey = maskedValue
	}
	if masked.YouTubeAPIKey != "" {
		masked.YouTubeAPIKey = maskedValue
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = maskedValue
	}
	return json.Marshal(masked)
}
