package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// SettingsFileName is the name of the user settings file.
	SettingsFileName = "settings.yaml"

	// DefaultTokenURL is the authorization server's token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DefaultRevokeURL is the authorization server's revoke endpoint.
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	// DefaultMetadataURL is the instance metadata token endpoint root.
	DefaultMetadataURL = "http://metadata.google.internal/computeMetadata/v1"
	// DefaultReauthURL is the reauth session API root.
	DefaultReauthURL = "https://reauth.googleapis.com/v2"

	// DefaultHTTPTimeout bounds a single HTTP call.
	DefaultHTTPTimeout = 30 * time.Second
)

// Settings holds user-level configuration persisted in settings.yaml.
type Settings struct {
	// ActiveAccount is the account used when a command names none.
	ActiveAccount string `yaml:"active_account,omitempty" mapstructure:"active_account"`

	// Endpoint overrides, primarily for tests and private deployments.
	TokenURL    string `yaml:"token_url,omitempty" mapstructure:"token_url"`
	RevokeURL   string `yaml:"revoke_url,omitempty" mapstructure:"revoke_url"`
	MetadataURL string `yaml:"metadata_url,omitempty" mapstructure:"metadata_url"`
	ReauthURL   string `yaml:"reauth_url,omitempty" mapstructure:"reauth_url"`

	// HTTPTimeout bounds a single HTTP call. CREDKEEP_HTTP_TIMEOUT
	// takes precedence over the file value.
	HTTPTimeout time.Duration `yaml:"http_timeout,omitempty" mapstructure:"http_timeout"`

	Logging LoggingSettings `yaml:"logging,omitempty" mapstructure:"logging"`
}

// LoggingSettings configures file logging.
type LoggingSettings struct {
	MaxSizeMB  int `yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxAgeDays int `yaml:"max_age_days,omitempty" mapstructure:"max_age_days"`
	MaxBackups int `yaml:"max_backups,omitempty" mapstructure:"max_backups"`
}

// DefaultSettings returns settings with all defaults applied.
func DefaultSettings() *Settings {
	return &Settings{
		TokenURL:    DefaultTokenURL,
		RevokeURL:   DefaultRevokeURL,
		MetadataURL: DefaultMetadataURL,
		ReauthURL:   DefaultReauthURL,
		HTTPTimeout: DefaultHTTPTimeout,
	}
}

// SettingsLoader handles loading and saving of user settings.
type SettingsLoader struct {
	path string
}

// NewSettingsLoader resolves the settings path from CREDKEEP_HOME or
// the default location.
func NewSettingsLoader() (*SettingsLoader, error) {
	home, err := CredkeepHome()
	if err != nil {
		return nil, fmt.Errorf("failed to determine credkeep home: %w", err)
	}
	return &SettingsLoader{path: filepath.Join(home, SettingsFileName)}, nil
}

// Path returns the full path to the settings file.
func (l *SettingsLoader) Path() string { return l.path }

// Exists checks if the settings file exists.
func (l *SettingsLoader) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Load reads and parses the settings file, applying defaults for
// unset keys and the CREDKEEP_HTTP_TIMEOUT env override. A missing
// file yields pure defaults, not an error.
func (l *SettingsLoader) Load() (*Settings, error) {
	settings := DefaultSettings()

	if l.Exists() {
		v := viper.New()
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := v.Unmarshal(settings, viper.DecodeHook(
			mapstructure.StringToTimeDurationHookFunc(),
		)); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	if raw := os.Getenv(HTTPTimeoutEnv); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", HTTPTimeoutEnv, raw, err)
		}
		settings.HTTPTimeout = d
	}
	if settings.HTTPTimeout <= 0 {
		settings.HTTPTimeout = DefaultHTTPTimeout
	}

	return settings, nil
}

// Save writes the settings to the file, creating the parent directory
// if needed.
func (l *SettingsLoader) Save(s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
