package root

import (
	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmd/auth"
	versioncmd "github.com/schmitthub/credkeep/internal/cmd/version"
	"github.com/schmitthub/credkeep/internal/cmdutil"
	internalconfig "github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/logger"
)

// NewCmdRoot creates the root command for the credkeep CLI.
func NewCmdRoot(f *cmdutil.Factory, version, commit string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "credkeep <command>",
		Short: "Manage cloud credentials and token lifecycles",
		Long: `Credkeep stores cloud account credentials on disk and keeps their
access tokens fresh.

Quick start:
  credkeep auth activate-service-account --key-file key.json
  credkeep auth list
  credkeep auth print-access-token`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Annotations: map[string]string{
			"versionInfo": versioncmd.Format(version, commit),
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			f.Debug = debug
			initializeLogger(debug)

			logger.Debug().
				Str("version", f.Version).
				Bool("debug", debug).
				Msg("credkeep starting")
		},
		Version: f.Version,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "D", false, "Enable debug logging")

	// Version template
	cmd.SetVersionTemplate(versioncmd.Format(version, commit))

	cmd.AddCommand(auth.NewCmdAuth(f))
	cmd.AddCommand(versioncmd.NewCmdVersion(f, version, commit))

	return cmd
}

// initializeLogger sets up the logger with file logging if possible.
// Falls back to console-only logging on any errors.
func initializeLogger(debug bool) {
	loader, err := internalconfig.NewSettingsLoader()
	if err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to create settings loader")
		return
	}

	settings, err := loader.Load()
	if err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to load settings")
		return
	}

	logsDir, err := internalconfig.LogsDir()
	if err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to get logs directory")
		return
	}

	fileCfg := &logger.FileConfig{
		MaxSizeMB:  settings.Logging.MaxSizeMB,
		MaxAgeDays: settings.Logging.MaxAgeDays,
		MaxBackups: settings.Logging.MaxBackups,
	}
	if err := logger.InitWithFile(debug, logsDir, fileCfg); err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: falling back to console")
	}
}
