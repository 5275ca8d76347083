package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsLoader_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(CredkeepHomeEnv, t.TempDir())

	loader, err := NewSettingsLoader()
	require.NoError(t, err)

	s, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenURL, s.TokenURL)
	assert.Equal(t, DefaultRevokeURL, s.RevokeURL)
	assert.Equal(t, DefaultHTTPTimeout, s.HTTPTimeout)
	assert.Empty(t, s.ActiveAccount)
}

func TestSettingsLoader_RoundTrip(t *testing.T) {
	t.Setenv(CredkeepHomeEnv, t.TempDir())

	loader, err := NewSettingsLoader()
	require.NoError(t, err)

	require.NoError(t, loader.Save(&Settings{
		ActiveAccount: "alice@example.com",
		TokenURL:      "https://token.test/token",
		HTTPTimeout:   10 * time.Second,
	}))

	s, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", s.ActiveAccount)
	assert.Equal(t, "https://token.test/token", s.TokenURL)
	assert.Equal(t, 10*time.Second, s.HTTPTimeout)
	// Unset keys keep defaults.
	assert.Equal(t, DefaultRevokeURL, s.RevokeURL)
}

func TestSettingsLoader_HTTPTimeoutEnvOverride(t *testing.T) {
	t.Setenv(CredkeepHomeEnv, t.TempDir())
	t.Setenv(HTTPTimeoutEnv, "5s")

	loader, err := NewSettingsLoader()
	require.NoError(t, err)

	s, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, s.HTTPTimeout)
}

func TestSettingsLoader_BadTimeoutEnv(t *testing.T) {
	t.Setenv(CredkeepHomeEnv, t.TempDir())
	t.Setenv(HTTPTimeoutEnv, "soon")

	loader, err := NewSettingsLoader()
	require.NoError(t, err)

	_, err = loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), HTTPTimeoutEnv)
}

func TestSettingsLoader_MalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv(CredkeepHomeEnv, home)
	require.NoError(t, os.WriteFile(filepath.Join(home, SettingsFileName), []byte("{not yaml"), 0o600))

	loader, err := NewSettingsLoader()
	require.NoError(t, err)

	_, err = loader.Load()
	require.Error(t, err)
}
