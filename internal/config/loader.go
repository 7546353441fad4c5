package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thruflo/ppgcam/internal/logging"
)

// Default values for Config.
const (
	DefaultServerURL      = "wss://renderr-jk83.onrender.com/ws"
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultOutboxSize     = 8

	DefaultAPIBaseURL = "https://renderr-jk83.onrender.com/api"
	DefaultAPITimeout = 30 * time.Second

	DefaultSessionDuration = 40 * time.Second
	DefaultThrottleEvery   = 2
	DefaultSampleCapacity  = 150
	DefaultResultGrace     = 10 * time.Second

	DefaultJPEGQuality = 80

	DefaultFPS           = 30.0
	DefaultCaptureWidth  = 320
	DefaultCaptureHeight = 240

	DefaultLogLevel = "warn"
)

// Environment variables that override file values.
const (
	EnvServerURL = "PPGCAM_SERVER_URL"
	EnvAPIURL    = "PPGCAM_API_URL"
	EnvAPIToken  = "PPGCAM_API_TOKEN"
)

// Dir is the per-project directory holding config.yaml and .env.
const Dir = ".ppgcam"

// DefaultConfig returns a Config with the values the analyzer service expects.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL:            DefaultServerURL,
			ConnectTimeout: DefaultConnectTimeout,
			ReadTimeout:    DefaultReadTimeout,
			WriteTimeout:   DefaultWriteTimeout,
			OutboxSize:     DefaultOutboxSize,
		},
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
			Timeout: DefaultAPITimeout,
		},
		Session: SessionConfig{
			Duration:       DefaultSessionDuration,
			ThrottleEvery:  DefaultThrottleEvery,
			SampleCapacity: DefaultSampleCapacity,
			ResultGrace:    DefaultResultGrace,
		},
		Encoder: EncoderConfig{
			Quality: DefaultJPEGQuality,
		},
		Capture: CaptureConfig{
			FPS:    DefaultFPS,
			Width:  DefaultCaptureWidth,
			Height: DefaultCaptureHeight,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig reads and parses .ppgcam/config.yaml from the given base path.
// A missing file yields defaults; fields absent from the file keep their
// defaults. Environment overrides and .ppgcam/.env are applied last.
func LoadConfig(basePath string) (*Config, error) {
	configPath := filepath.Join(basePath, Dir, "config.yaml")

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	env, err := LoadEnvFile(basePath)
	if err != nil {
		return nil, err
	}
	applyEnv(&cfg, env)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv layers .env entries and then process environment variables on top
// of the file values. The process environment wins.
func applyEnv(cfg *Config, fileEnv map[string]string) {
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fileEnv[key]
	}
	if v := lookup(EnvServerURL); v != "" {
		cfg.Server.URL = v
	}
	if v := lookup(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := lookup(EnvAPIToken); v != "" {
		cfg.API.Token = v
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if err := validateURL("server.url", cfg.Server.URL, "ws", "wss"); err != nil {
		return err
	}
	if cfg.Server.ConnectTimeout <= 0 {
		return ValidationError{Field: "server.connect_timeout", Message: "must be positive"}
	}
	if cfg.Server.ReadTimeout <= 0 {
		return ValidationError{Field: "server.read_timeout", Message: "must be positive"}
	}
	if cfg.Server.WriteTimeout <= 0 {
		return ValidationError{Field: "server.write_timeout", Message: "must be positive"}
	}
	if cfg.Server.OutboxSize <= 0 {
		return ValidationError{Field: "server.outbox_size", Message: "must be positive"}
	}

	if err := validateURL("api.base_url", cfg.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if cfg.API.Timeout <= 0 {
		return ValidationError{Field: "api.timeout", Message: "must be positive"}
	}

	if cfg.Session.Duration < time.Second {
		return ValidationError{Field: "session.duration", Message: "must be at least 1s"}
	}
	if cfg.Session.ThrottleEvery <= 0 {
		return ValidationError{Field: "session.throttle_every", Message: "must be positive"}
	}
	if cfg.Session.SampleCapacity <= 0 {
		return ValidationError{Field: "session.sample_capacity", Message: "must be positive"}
	}
	if cfg.Session.ResultGrace < 0 {
		return ValidationError{Field: "session.result_grace", Message: "must not be negative"}
	}

	if cfg.Encoder.Quality < 1 || cfg.Encoder.Quality > 100 {
		return ValidationError{Field: "encoder.quality", Message: "must be between 1 and 100"}
	}
	if cfg.Encoder.MaxDimension < 0 {
		return ValidationError{Field: "encoder.max_dimension", Message: "must not be negative"}
	}

	if cfg.Capture.FPS <= 0 {
		return ValidationError{Field: "capture.fps", Message: "must be positive"}
	}
	if cfg.Capture.Width <= 0 || cfg.Capture.Width%2 != 0 {
		return ValidationError{Field: "capture.width", Message: "must be a positive even number"}
	}
	if cfg.Capture.Height <= 0 || cfg.Capture.Height%2 != 0 {
		return ValidationError{Field: "capture.height", Message: "must be a positive even number"}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return ValidationError{Field: "logging.level", Message: err.Error()}
	}

	if cfg.Status.Port < 0 || cfg.Status.Port > 65535 {
		return ValidationError{Field: "status.port", Message: "must be between 0 and 65535"}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return ValidationError{Field: field, Message: "required field is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationError{Field: field, Message: err.Error()}
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return ValidationError{Field: field, Message: fmt.Sprintf("must be a %s URL", strings.Join(schemes, "/"))}
}

// LoadEnvFile parses .ppgcam/.env into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// A missing file yields an empty map.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, Dir, ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
