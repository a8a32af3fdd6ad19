// Package syncconfig holds the client's settings and credentials under
// ~/.config/settingsync.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL string `json:"url"`
}

// Config is the client config stored at ~/.config/settingsync/config.json.
type Config struct {
	Sync        SyncConfig `json:"sync"`
	ProductName string     `json:"product_name,omitempty"`
	DataDir     string     `json:"data_dir,omitempty"`
	LogLevel    string     `json:"log_level,omitempty"`
}

// AuthCredentials stores authentication state at ~/.config/settingsync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
}

const (
	defaultServerURL = "http://localhost:8080"
	defaultProduct   = "settingsync"
	defaultLogLevel  = "warn"
)

// ConfigDir returns ~/.config/settingsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "settingsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the client config from ~/.config/settingsync/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the client config to ~/.config/settingsync/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials. Returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/settingsync/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// GetServerURL returns the sync server URL.
// Priority: SETTINGSYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("SETTINGSYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: SETTINGSYNC_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("SETTINGSYNC_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetProductName returns the product name shown in version errors.
// Priority: SETTINGSYNC_PRODUCT env > config.json product_name > "settingsync".
func GetProductName() string {
	if v := os.Getenv("SETTINGSYNC_PRODUCT"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.ProductName != "" {
		return cfg.ProductName
	}
	return defaultProduct
}

// GetDataDir returns the directory holding the machine id.
// Priority: SETTINGSYNC_DATA_DIR env > config.json data_dir > config dir.
func GetDataDir() (string, error) {
	if v := os.Getenv("SETTINGSYNC_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return ConfigDir()
}

// GetLogLevel returns the client log level.
// Priority: SETTINGSYNC_LOG_LEVEL env > config.json log_level > warn.
func GetLogLevel() slog.Level {
	v := os.Getenv("SETTINGSYNC_LOG_LEVEL")
	if v == "" {
		if cfg, err := LoadConfig(); err == nil {
			v = cfg.LogLevel
		}
	}
	if v == "" {
		v = defaultLogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
		return slog.LevelWarn
	}
	return level
}
