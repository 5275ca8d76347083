package config

import (
	"os"
	"path/filepath"
)

const (
	// CredkeepHomeEnv is the environment variable overriding the
	// configuration root directory.
	CredkeepHomeEnv = "CREDKEEP_HOME"
	// HTTPTimeoutEnv is the environment variable overriding the default
	// HTTP transport timeout (a Go duration string, e.g. "30s").
	HTTPTimeoutEnv = "CREDKEEP_HTTP_TIMEOUT"
	// DefaultCredkeepDir is the default directory name under user home.
	DefaultCredkeepDir = ".credkeep"
	// CredentialsSubdir holds the canonical per-account record files.
	CredentialsSubdir = "credentials"
	// LegacySubdir holds the derived per-account legacy artifacts.
	LegacySubdir = "legacy_credentials"
	// LogsSubdir holds rotated log files.
	LogsSubdir = "logs"
)

// CredkeepHome returns the configuration root directory.
// It checks CREDKEEP_HOME first, then defaults to ~/.credkeep.
func CredkeepHome() (string, error) {
	if home := os.Getenv(CredkeepHomeEnv); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultCredkeepDir), nil
}

// CredentialsDir returns the canonical record directory.
func CredentialsDir() (string, error) {
	home, err := CredkeepHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, CredentialsSubdir), nil
}

// LogsDir returns the log file directory.
func LogsDir() (string, error) {
	home, err := CredkeepHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, LogsSubdir), nil
}

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}
