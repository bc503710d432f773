package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	Plex    PlexConfig    `toml:"plex"`
}

// SpotifyConfig contains Spotify API credentials and, after authorization,
// the tokens obtained through the OAuth2 flow.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token,omitempty"`
	RefreshToken string `toml:"refresh_token,omitempty"`
}

// Map returns the credentials as a string map for service constructors.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
		"access_token":  s.AccessToken,
		"refresh_token": s.RefreshToken,
	}
}

// Update stores freshly obtained OAuth2 tokens.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrAuthFailed)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	return nil
}

// PlexConfig contains Plex account credentials.
//
// BaseURL is optional; when empty the server is resolved through account
// device discovery instead.
type PlexConfig struct {
	Token   string `toml:"token"`
	BaseURL string `toml:"base_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig contains tunable parameters for the synchronization engine.
//
// FuzzyThreshold and the delay values were chosen empirically; they are
// design parameters, not hard domain constants.
type SyncConfig struct {
	BatchSize            int    `toml:"batch_size"`
	FuzzyThreshold       int    `toml:"fuzzy_threshold"`
	BatchDelayMS         int    `toml:"batch_delay_ms"`
	SourceDelayMS        int    `toml:"source_delay_ms"`
	CacheDir             string `toml:"cache_dir"`
	CacheMaxAgeHours     int    `toml:"cache_max_age_hours"`
	CleanupIntervalHours int    `toml:"cleanup_interval_hours"`
}

// BatchDelay returns the inter-batch pause as a [time.Duration].
func (s SyncConfig) BatchDelay() time.Duration {
	return time.Duration(s.BatchDelayMS) * time.Millisecond
}

// SourceDelay returns the pause between source API calls in hot loops.
func (s SyncConfig) SourceDelay() time.Duration {
	return time.Duration(s.SourceDelayMS) * time.Millisecond
}

// CacheMaxAge returns the missing-cache entry age threshold.
func (s SyncConfig) CacheMaxAge() time.Duration {
	return time.Duration(s.CacheMaxAgeHours) * time.Hour
}

// CleanupInterval returns the period of the background cache sweep.
func (s SyncConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalHours) * time.Hour
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.applyDefaults()
	return &config
}

// SaveConfig writes the configuration back to the specified path as TOML.
func SaveConfig(path string, config *Config) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 50
	}
	if c.Sync.FuzzyThreshold <= 0 {
		c.Sync.FuzzyThreshold = 3
	}
	if c.Sync.BatchDelayMS <= 0 {
		c.Sync.BatchDelayMS = 200
	}
	if c.Sync.SourceDelayMS <= 0 {
		c.Sync.SourceDelayMS = 500
	}
	if c.Sync.CacheMaxAgeHours <= 0 {
		c.Sync.CacheMaxAgeHours = 24
	}
	if c.Sync.CleanupIntervalHours <= 0 {
		c.Sync.CleanupIntervalHours = 6
	}
	if c.Sync.CacheDir == "" {
		c.Sync.CacheDir = "cache"
	}
}
