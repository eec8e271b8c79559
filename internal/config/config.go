// Package config provides configuration management for Inkwell.
// It loads settings from environment variables with the INKWELL_ prefix
// and provides sensible defaults for all configuration options.
//
// User settings (e.g., author_name) are persisted to the settings table
// in the template catalog database. LoadConfigFromDB reads from the
// database first and falls back to environment variables. SaveConfig
// writes user settings to the database.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Inkwell application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Verifier  VerifierConfig
	Security  SecurityConfig
	Features  FeaturesConfig
	Templates TemplatesConfig
	User      UserConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6470)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains filesystem layout configuration.
type StorageConfig struct {
	ProjectsPath  string // Path to the projects base directory (default: ./projects)
	DataPath      string // Path to the service data directory (default: ./data)
	DurableWrites bool   // fsync files before renaming them into place (default: false)
}

// VerifierConfig contains backup verification daemon configuration.
type VerifierConfig struct {
	Enabled          bool          // Run the verification daemon (default: true)
	BaseInterval     time.Duration // Interval between cycles when content exists (default: 5m)
	MaxInterval      time.Duration // Cap for the adaptive idle interval (default: 1h)
	SampleChunkBytes int           // Leading chunk size for sample reads (default: 65536)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	VoiceNotes  bool // Verify voice-note transcript/audio pairs (default: false)
	EnableWebUI bool // Serve the web UI (default: true)
}

// TemplatesConfig configures the project template catalog.
type TemplatesConfig struct {
	DBPath string // Path to the template catalog SQLite database (default: <data>/templates.db)
}

// UserConfig contains user-specific settings that persist across restarts.
// These settings are stored in the settings table in the catalog database.
type UserConfig struct {
	// AuthorName is the display name stamped into new project metadata.
	// Env var: INKWELL_AUTHOR_NAME
	// Database key: author_name
	AuthorName string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the INKWELL_ prefix.
// User settings (UserConfig) are loaded from environment variables only.
// Use LoadConfigFromDB to also read persisted user settings from the database.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDB loads configuration from both environment variables and
// the database. The database value takes precedence over the environment
// variable for user settings. Falls back to the environment variable when no
// DB entry exists.
//
// Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	authorName, err := getSetting(db, "author_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load author_name from database: %w", err)
	}
	if authorName != "" {
		cfg.User.AuthorName = authorName
	}

	return cfg, nil
}

// SaveConfig persists user configuration settings to the settings table in
// the catalog database. Uses upsert semantics so settings survive restarts.
//
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}
	if err := setSetting(db, "author_name", c.User.AuthorName); err != nil {
		return fmt.Errorf("config: failed to save author_name: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Verifier.BaseInterval <= 0 {
		return fmt.Errorf("config: verifier base interval must be positive, got %v", c.Verifier.BaseInterval)
	}
	if c.Verifier.MaxInterval < c.Verifier.BaseInterval {
		return fmt.Errorf("config: verifier max interval %v below base interval %v",
			c.Verifier.MaxInterval, c.Verifier.BaseInterval)
	}
	if c.Verifier.SampleChunkBytes <= 0 {
		return fmt.Errorf("config: sample chunk bytes must be positive, got %d", c.Verifier.SampleChunkBytes)
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return errors.New("config: production security mode requires INKWELL_API_TOKEN")
	}
	return nil
}

// getSetting retrieves a single setting value by key from the settings table.
// Returns an empty string and sql.ErrNoRows if the key does not exist.
func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// setSetting writes a key-value pair to the settings table using upsert semantics.
func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults. This is the shared base for both LoadConfig and LoadConfigFromDB.
func buildBaseConfig() *Config {
	dataPath := getEnv("INKWELL_DATA_PATH", "./data")
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("INKWELL_PORT", 6470),
			Host: getEnv("INKWELL_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			ProjectsPath:  getEnv("INKWELL_PROJECTS_PATH", "./projects"),
			DataPath:      dataPath,
			DurableWrites: getEnvBool("INKWELL_DURABLE_WRITES", false),
		},
		Verifier: VerifierConfig{
			Enabled:          getEnvBool("INKWELL_VERIFIER_ENABLED", true),
			BaseInterval:     getEnvDuration("INKWELL_VERIFIER_INTERVAL", 5*time.Minute),
			MaxInterval:      getEnvDuration("INKWELL_VERIFIER_MAX_INTERVAL", time.Hour),
			SampleChunkBytes: getEnvInt("INKWELL_VERIFIER_SAMPLE_BYTES", 64*1024),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("INKWELL_SECURITY_MODE", "development"),
			APIToken:     getEnv("INKWELL_API_TOKEN", ""),
		},
		Features: FeaturesConfig{
			VoiceNotes:  getEnvBool("INKWELL_ENABLE_VOICE_NOTES", false),
			EnableWebUI: getEnvBool("INKWELL_ENABLE_WEB_UI", true),
		},
		Templates: TemplatesConfig{
			DBPath: getEnv("INKWELL_TEMPLATES_DB", dataPath+"/templates.db"),
		},
		User: UserConfig{
			AuthorName: getEnv("INKWELL_AUTHOR_NAME", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("5m", "1h30m")
// or returns a default value when unset or unparseable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
