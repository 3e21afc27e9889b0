package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned when the Last.fm API key or username
// is not configured.
var ErrMissingCredentials = errors.New("Last.fm credentials not configured. Run 'scrollback setup' first")

// Config holds application configuration
type Config struct {
	// Output format template for the recent command
	// Default: "{{.Time}}  {{.Artist}} - {{.Track}}"
	OutputFormat string `validate:"required"`

	// Directory holding the shard store and the progress database
	DataDir string `validate:"required"`

	// Sync interval for the daemon (in minutes)
	SyncInterval int `validate:"min=1"`

	// Delay before retrying a page after HTTP 500 (in seconds)
	RetryDelay int `validate:"min=1"`

	// Retries per page after HTTP 500
	MaxRetries int `validate:"min=1,max=10"`

	// Pause between page requests (in milliseconds)
	PageDelayMS int `validate:"min=0"`

	// Client-side request limit, 0 disables it
	RequestsPerSecond float64 `validate:"gte=0"`

	// Listen address for the Prometheus endpoint, empty disables it
	MetricsAddr string `validate:"omitempty,hostname_port"`

	// Last.fm API credentials
	LastFM LastFMConfig
}

// LastFMConfig holds Last.fm specific configuration
type LastFMConfig struct {
	APIKey   string `validate:"omitempty,len=32,hexadecimal"`
	Username string `validate:"omitempty,min=2,max=15"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from the default config file, .env files and
// the environment
func Load() (*Config, error) {
	return LoadFile(filepath.Join(getConfigDir(), "config.yaml"))
}

// LoadFile reads configuration from path, which may not exist
func LoadFile(path string) (*Config, error) {
	// .env files only fill variables that are not already set
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(getConfigDir(), ".env"))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults
	v.SetDefault("output_format", "{{.Time}}  {{.Artist}} - {{.Track}}")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("sync_interval", 15)
	v.SetDefault("retry_delay", 60)
	v.SetDefault("max_retries", 3)
	v.SetDefault("page_delay_ms", 500)
	v.SetDefault("requests_per_second", 0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("lastfm.api_key", "")
	v.SetDefault("lastfm.username", "")

	// Read config file (optional - don't fail if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables, e.g. SCROLLBACK_LASTFM_API_KEY
	v.SetEnvPrefix("SCROLLBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map config to struct
	cfg := &Config{
		OutputFormat:      v.GetString("output_format"),
		DataDir:           expandHome(v.GetString("data_dir")),
		SyncInterval:      v.GetInt("sync_interval"),
		RetryDelay:        v.GetInt("retry_delay"),
		MaxRetries:        v.GetInt("max_retries"),
		PageDelayMS:       v.GetInt("page_delay_ms"),
		RequestsPerSecond: v.GetFloat64("requests_per_second"),
		MetricsAddr:       v.GetString("metrics_addr"),
		LastFM: LastFMConfig{
			APIKey:   strings.TrimSpace(v.GetString("lastfm.api_key")),
			Username: strings.TrimSpace(v.GetString("lastfm.username")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and formats
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasCredentials reports whether both API key and username are set
func (c *Config) HasCredentials() bool {
	return c.LastFM.APIKey != "" && c.LastFM.Username != ""
}

// RequireCredentials returns ErrMissingCredentials unless both API key
// and username are set
func (c *Config) RequireCredentials() error {
	if !c.HasCredentials() {
		return ErrMissingCredentials
	}
	return nil
}

// SyncIntervalDuration returns the daemon sync interval
func (c *Config) SyncIntervalDuration() time.Duration {
	return time.Duration(c.SyncInterval) * time.Minute
}

// RetryDelayDuration returns the delay before retrying a failed page
func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// PageDelayDuration returns the pause between page requests
func (c *Config) PageDelayDuration() time.Duration {
	return time.Duration(c.PageDelayMS) * time.Millisecond
}

// ShardDir returns the root directory of the shard store
func (c *Config) ShardDir() string {
	return filepath.Join(c.DataDir, "scrobbles")
}

// ProgressDBPath returns the path of the progress database
func (c *Config) ProgressDBPath() string {
	return filepath.Join(c.DataDir, "progress.db")
}

// StatusPath returns the path of the daemon status file
func (c *Config) StatusPath() string {
	return filepath.Join(c.DataDir, "status.json")
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "scrollback")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "scrollback-data"
	}
	return filepath.Join(homeDir, ".local", "share", "scrollback")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Save writes configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(getConfigDir(), "config.yaml"))
}

// SaveTo writes configuration to path
func (c *Config) SaveTo(path string) error {
	v := viper.New()

	// Set values in viper
	v.Set("output_format", c.OutputFormat)
	v.Set("data_dir", c.DataDir)
	v.Set("sync_interval", c.SyncInterval)
	v.Set("retry_delay", c.RetryDelay)
	v.Set("max_retries", c.MaxRetries)
	v.Set("page_delay_ms", c.PageDelayMS)
	v.Set("requests_per_second", c.RequestsPerSecond)
	v.Set("metrics_addr", c.MetricsAddr)
	v.Set("lastfm.api_key", c.LastFM.APIKey)
	v.Set("lastfm.username", c.LastFM.Username)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to file
	return v.WriteConfigAs(path)
}
