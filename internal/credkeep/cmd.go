// Package credkeep holds the CLI entry point.
package credkeep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmd/factory"
	"github.com/schmitthub/credkeep/internal/cmd/root"
	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/logger"
	"github.com/schmitthub/credkeep/internal/store"
)

// Build-time variables injected via ldflags
var (
	Version = "dev"
	Commit  = "none"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitAuth  = 3
)

// Main is the entry point for the credkeep CLI.
// It initializes the Factory, creates the root command, and executes it.
func Main() int {
	// Ensure logs are flushed on exit
	defer logger.CloseFileWriter()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := factory.New(Version, Commit)
	rootCmd := root.NewCmdRoot(f, Version, Commit)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return exitOK
	}
	return handleError(f, cmd, err)
}

// handleError prints the error in the form its kind calls for and maps
// it to an exit code.
func handleError(f *cmdutil.Factory, cmd *cobra.Command, err error) int {
	if errors.Is(err, cmdutil.SilentError) {
		return exitError
	}

	var flagErr *cmdutil.FlagError
	if errors.As(err, &flagErr) {
		fmt.Fprintf(f.IOStreams.ErrOut, "Error: %v\n\n%s", flagErr, cmd.UsageString())
		return exitUsage
	}

	var reauthErr *store.ReauthRequiredError
	if errors.As(err, &reauthErr) {
		fmt.Fprintf(f.IOStreams.ErrOut, "Error: %v\n", err)
		return exitAuth
	}
	var revokedErr *store.RevokedError
	if errors.As(err, &revokedErr) {
		fmt.Fprintf(f.IOStreams.ErrOut, "Error: %v\n", err)
		return exitAuth
	}

	fmt.Fprintf(f.IOStreams.ErrOut, "Error: %v\n", err)
	return exitError
}
