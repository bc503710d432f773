package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[credentials.spotify]
client_id = "cid"
client_secret = "secret"
redirect_uri = "http://localhost:3000/callback"

[credentials.plex]
token = "plex-token"
base_url = "http://192.168.1.10:32400"

[database]
path = "plexport.db"

[server]
host = "127.0.0.1"
port = 3000

[sync]
batch_size = 25
fuzzy_threshold = 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Credentials.Spotify.ClientID != "cid" {
		t.Errorf("ClientID = %q", config.Credentials.Spotify.ClientID)
	}
	if config.Credentials.Plex.BaseURL != "http://192.168.1.10:32400" {
		t.Errorf("Plex BaseURL = %q", config.Credentials.Plex.BaseURL)
	}
	if config.Sync.BatchSize != 25 || config.Sync.FuzzyThreshold != 2 {
		t.Errorf("sync tunables = %d/%d, want 25/2", config.Sync.BatchSize, config.Sync.FuzzyThreshold)
	}

	// Unset sync fields pick up defaults.
	if config.Sync.BatchDelayMS != 200 {
		t.Errorf("BatchDelayMS = %d, want default 200", config.Sync.BatchDelayMS)
	}
	if config.Sync.CacheDir != "cache" {
		t.Errorf("CacheDir = %q, want default cache", config.Sync.CacheDir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("LoadConfig() expected error for missing file")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Sync.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", config.Sync.BatchSize)
	}
	if config.Sync.FuzzyThreshold != 3 {
		t.Errorf("FuzzyThreshold = %d, want 3", config.Sync.FuzzyThreshold)
	}
	if config.Sync.CacheMaxAge() != 24*time.Hour {
		t.Errorf("CacheMaxAge() = %v, want 24h", config.Sync.CacheMaxAge())
	}
	// 500ms spacing between source API calls, i.e. two calls per second.
	if config.Sync.SourceDelay() != 500*time.Millisecond {
		t.Errorf("SourceDelay() = %v, want 500ms", config.Sync.SourceDelay())
	}
	if config.Sync.CleanupInterval() != 6*time.Hour {
		t.Errorf("CleanupInterval() = %v, want 6h", config.Sync.CleanupInterval())
	}
}

func TestSaveConfig_RoundTripsTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	config := DefaultConfig()
	config.Credentials.Spotify.ClientID = "cid"
	config.Credentials.Spotify.AccessToken = "tok-1"
	config.Credentials.Spotify.RefreshToken = "refresh-1"

	if err := SaveConfig(path, config); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Credentials.Spotify.AccessToken != "tok-1" {
		t.Errorf("AccessToken = %q, want tok-1", loaded.Credentials.Spotify.AccessToken)
	}
	if loaded.Credentials.Spotify.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want refresh-1", loaded.Credentials.Spotify.RefreshToken)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600 for a file holding tokens", info.Mode().Perm())
	}
}

func TestSpotifyConfig_Update(t *testing.T) {
	t.Run("stores new tokens", func(t *testing.T) {
		config := SpotifyConfig{}
		err := config.Update(&oauth2.Token{AccessToken: "tok-1", RefreshToken: "refresh-1"})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if config.AccessToken != "tok-1" || config.RefreshToken != "refresh-1" {
			t.Errorf("tokens = %q/%q", config.AccessToken, config.RefreshToken)
		}
	})

	t.Run("keeps refresh token when response omits it", func(t *testing.T) {
		config := SpotifyConfig{RefreshToken: "refresh-old"}
		if err := config.Update(&oauth2.Token{AccessToken: "tok-2"}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if config.RefreshToken != "refresh-old" {
			t.Errorf("RefreshToken = %q, want refresh-old retained", config.RefreshToken)
		}
	})

	t.Run("rejects empty token", func(t *testing.T) {
		config := SpotifyConfig{}
		if err := config.Update(nil); !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Update(nil) error = %v, want ErrAuthFailed", err)
		}
		if err := config.Update(&oauth2.Token{}); !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Update(empty) error = %v, want ErrAuthFailed", err)
		}
	})
}

func TestSpotifyConfig_Map(t *testing.T) {
	config := SpotifyConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:3000/callback",
		AccessToken:  "tok-1",
		RefreshToken: "refresh-1",
	}

	m := config.Map()
	want := map[string]string{
		"client_id":     "cid",
		"client_secret": "secret",
		"redirect_uri":  "http://localhost:3000/callback",
		"access_token":  "tok-1",
		"refresh_token": "refresh-1",
	}
	for key, value := range want {
		if m[key] != value {
			t.Errorf("Map()[%q] = %q, want %q", key, m[key], value)
		}
	}
}

func TestCreateConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := CreateConfigFile(path); err != nil {
		t.Fatalf("CreateConfigFile() error = %v", err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Errorf("generated config does not parse: %v", err)
	}

	if err := CreateConfigFile(path); err == nil {
		t.Error("CreateConfigFile() expected error for existing file")
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState() error = %v", err)
	}

	if len(a) != 32 {
		t.Errorf("state length = %d, want 32 hex characters", len(a))
	}
	if a == b {
		t.Error("consecutive states are identical")
	}
}
