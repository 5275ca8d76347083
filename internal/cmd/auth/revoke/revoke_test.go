package revoke

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/legacy"
	"github.com/schmitthub/credkeep/internal/store"
	"github.com/schmitthub/credkeep/internal/testutil"
)

func TestNewCmdRevoke(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantAccount   string
		wantLocalOnly bool
	}{
		{name: "no flags", input: "alice@example.com", wantAccount: "alice@example.com"},
		{name: "local only", input: "alice@example.com --local-only", wantAccount: "alice@example.com", wantLocalOnly: true},
		{name: "no account", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &cmdutil.Factory{}

			var gotOpts *RevokeOptions
			cmd := NewCmdRevoke(f, func(_ context.Context, opts *RevokeOptions) error {
				gotOpts = opts
				return nil
			})

			cmd.SetArgs(testutil.SplitArgs(tt.input))
			cmd.SetIn(&bytes.Buffer{})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})

			_, err := cmd.ExecuteC()
			require.NoError(t, err)
			require.NotNil(t, gotOpts)
			assert.Equal(t, tt.wantAccount, gotOpts.Account)
			assert.Equal(t, tt.wantLocalOnly, gotOpts.LocalOnly)
		})
	}
}

func TestRevokeRun_LocalOnly(t *testing.T) {
	home := t.TempDir()
	paths := config.NewPaths(home)
	st := store.New(store.Config{
		Paths:    paths,
		Clock:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Exporter: legacy.NewExporter(paths),
	})
	require.NoError(t, st.Save(context.Background(), "alice@example.com", &credential.UserAccount{
		ClientID: "cid", ClientSecret: "s", RefreshToken: "rt",
	}))

	loader := settingsLoaderAt(t, home)
	settings := &config.Settings{ActiveAccount: "alice@example.com"}

	ios, _, _, errOut := iostreams.Test()
	opts := &RevokeOptions{
		IOStreams:      ios,
		Store:          func() (*store.Store, error) { return st, nil },
		Settings:       func() (*config.Settings, error) { return settings, nil },
		SettingsLoader: func() (*config.SettingsLoader, error) { return loader, nil },
		Account:        "alice@example.com",
		LocalOnly:      true,
	}

	require.NoError(t, revokeRun(context.Background(), opts))
	assert.Contains(t, errOut.String(), "Removed local credentials for [alice@example.com].")
	assert.NoFileExists(t, paths.RecordPath("alice@example.com"))

	// The active-account setting no longer points at the revoked
	// account.
	saved, err := loader.Load()
	require.NoError(t, err)
	assert.Empty(t, saved.ActiveAccount)
}

func settingsLoaderAt(t *testing.T, home string) *config.SettingsLoader {
	t.Helper()
	t.Setenv(config.CredkeepHomeEnv, home)
	loader, err := config.NewSettingsLoader()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, config.SettingsFileName), loader.Path())
	_ = os.MkdirAll(home, 0o700)
	return loader
}
