package revoke

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/store"
)

// RevokeOptions holds options for the revoke command.
type RevokeOptions struct {
	IOStreams      *iostreams.IOStreams
	Store          func() (*store.Store, error)
	Settings       func() (*config.Settings, error)
	SettingsLoader func() (*config.SettingsLoader, error)

	Account   string
	LocalOnly bool
}

// NewCmdRevoke creates the auth revoke command.
func NewCmdRevoke(f *cmdutil.Factory, runF func(context.Context, *RevokeOptions) error) *cobra.Command {
	opts := &RevokeOptions{
		IOStreams:      f.IOStreams,
		Store:          f.Store,
		Settings:       f.Settings,
		SettingsLoader: f.SettingsLoader,
	}

	cmd := &cobra.Command{
		Use:   "revoke [ACCOUNT]",
		Short: "Revoke credentials for an account",
		Long: `Revokes the account's grant at the authorization server and removes
the stored credential with its legacy helper files. Without an
argument the active account is revoked.

With --local-only the server is not contacted; only local state is
removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Account = args[0]
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return revokeRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.LocalOnly, "local-only", false,
		"Remove local state without contacting the authorization server")

	return cmd
}

func revokeRun(ctx context.Context, opts *RevokeOptions) error {
	settings, err := opts.Settings()
	if err != nil {
		return err
	}
	account, err := cmdutil.ResolveAccount(opts.Account, settings)
	if err != nil {
		return err
	}

	st, err := opts.Store()
	if err != nil {
		return err
	}

	if opts.LocalOnly {
		if err := st.DeleteLocal(ctx, account); err != nil {
			return err
		}
		fmt.Fprintf(opts.IOStreams.ErrOut, "Removed local credentials for [%s].\n", account)
	} else {
		serverRevoked, err := st.Revoke(ctx, account)
		if err != nil {
			return err
		}
		if serverRevoked {
			fmt.Fprintf(opts.IOStreams.ErrOut, "Revoked credentials for [%s].\n", account)
		} else {
			fmt.Fprintf(opts.IOStreams.ErrOut,
				"Credentials for [%s] were not revocable at the server; removed local state.\n", account)
		}
	}

	// Drop the active-account setting when it pointed at the revoked
	// account.
	if settings.ActiveAccount == account {
		loader, err := opts.SettingsLoader()
		if err != nil {
			return err
		}
		settings.ActiveAccount = ""
		if err := loader.Save(settings); err != nil {
			return err
		}
	}
	return nil
}
