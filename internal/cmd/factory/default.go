// Package factory wires the real dependency implementations into
// cmdutil.Factory. Called exactly once at the CLI entry point
// (internal/credkeep/cmd.go). Tests should NOT import this package —
// construct &cmdutil.Factory{} directly.
package factory

import (
	"os"
	"sync"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/devshell"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/legacy"
	"github.com/schmitthub/credkeep/internal/reauth"
	"github.com/schmitthub/credkeep/internal/refresh"
	"github.com/schmitthub/credkeep/internal/store"
	"github.com/schmitthub/credkeep/internal/transport"
)

// New creates a fully-wired Factory with lazy-initialized dependency
// closures.
func New(version, commit string) *cmdutil.Factory {
	ios := iostreams.System()

	// Respect CI environment (disable prompts)
	if os.Getenv("CI") != "" {
		ios.SetNeverPrompt(true)
	}

	f := &cmdutil.Factory{
		Version:   version,
		Commit:    commit,
		IOStreams: ios,
	}

	f.Clock = func() clock.Clock { return clock.System{} }

	// --- Lazy dependency closures ---

	// Settings
	var (
		settingsOnce   sync.Once
		settingsLoader *config.SettingsLoader
		settingsData   *config.Settings
		settingsErr    error
	)
	initSettings := func() {
		settingsOnce.Do(func() {
			settingsLoader, settingsErr = config.NewSettingsLoader()
			if settingsErr == nil {
				settingsData, settingsErr = settingsLoader.Load()
			}
		})
	}
	f.SettingsLoader = func() (*config.SettingsLoader, error) {
		initSettings()
		return settingsLoader, settingsErr
	}
	f.Settings = func() (*config.Settings, error) {
		initSettings()
		return settingsData, settingsErr
	}

	// Paths
	f.Paths = func() (config.Paths, error) {
		home, err := config.CredkeepHome()
		if err != nil {
			return config.Paths{}, err
		}
		return config.NewPaths(home), nil
	}

	// Store, with the refresh engine and its collaborators behind it
	var (
		storeOnce sync.Once
		storeInst *store.Store
		storeErr  error
	)
	f.Store = func() (*store.Store, error) {
		storeOnce.Do(func() {
			settings, err := f.Settings()
			if err != nil {
				storeErr = err
				return
			}
			paths, err := f.Paths()
			if err != nil {
				storeErr = err
				return
			}

			clk := f.Clock()
			client := transport.NewClient(settings.HTTPTimeout)

			engine := refresh.NewEngine(client, clk, settings)
			engine.Reauth = reauth.NewDriver(client, settings.ReauthURL,
				reauth.NewPasswordHandler(ios))
			engine.Shell = devshell.NewClient(clk)

			storeInst = store.New(store.Config{
				Paths:         paths,
				Clock:         clk,
				Engine:        engine,
				Exporter:      legacy.NewExporter(paths),
				HTTP:          client,
				RevokeURL:     settings.RevokeURL,
				InHostedShell: devshell.IsHosted,
			})
		})
		return storeInst, storeErr
	}

	return f
}
