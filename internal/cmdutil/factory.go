package cmdutil

import (
	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/store"
)

// Factory provides shared dependencies for CLI commands.
// It is a dependency injection container: the struct defines what
// dependencies exist (the contract), while internal/cmd/factory
// wires the real implementations.
//
// Closure fields are set by the factory constructor and use lazy
// initialization internally. Commands extract only the fields they
// need into per-command Options structs.
type Factory struct {
	// Debug enables verbose logging (set before command execution).
	Debug bool

	// Version info (set at build time via ldflags)
	Version string
	Commit  string

	// IO streams for input/output (for testability)
	IOStreams *iostreams.IOStreams

	// Dependency providers (closures wired by factory constructor)
	SettingsLoader func() (*config.SettingsLoader, error)
	Settings       func() (*config.Settings, error)
	Paths          func() (config.Paths, error)
	Store          func() (*store.Store, error)
	Clock          func() clock.Clock
}
