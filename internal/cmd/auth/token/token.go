package token

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/refresh"
	"github.com/schmitthub/credkeep/internal/store"
)

// TokenOptions holds options for the print-access-token command.
type TokenOptions struct {
	IOStreams *iostreams.IOStreams
	Store     func() (*store.Store, error)
	Settings  func() (*config.Settings, error)

	Account        string
	MinValidity    time.Duration
	Audiences      string
	TokenFormat    string
	IncludeLicense bool
}

// NewCmdToken creates the auth print-access-token command.
func NewCmdToken(f *cmdutil.Factory, runF func(context.Context, *TokenOptions) error) *cobra.Command {
	opts := &TokenOptions{
		IOStreams: f.IOStreams,
		Store:     f.Store,
		Settings:  f.Settings,
	}

	cmd := &cobra.Command{
		Use:   "print-access-token [ACCOUNT]",
		Short: "Print a fresh access token for an account",
		Long: `Prints an access token to stdout, refreshing the stored credential
first when it would expire within the validity window. Without an
argument the active account is used.

With --audiences an identity token minted for that audience is printed
instead (service-account and instance-metadata credentials only).`,
		Example: `  # Token for the active account
  credkeep auth print-access-token

  # Token valid for at least 10 minutes
  credkeep auth print-access-token --min-validity 10m

  # Identity token for a service
  credkeep auth print-access-token svc@proj.iam.example.com \
    --audiences https://svc.example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Account = args[0]
			}
			if opts.MinValidity < 0 {
				return cmdutil.FlagErrorf("--min-validity must not be negative")
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return tokenRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().DurationVar(&opts.MinValidity, "min-validity", store.DefaultMinValidity,
		"Minimum remaining token validity")
	cmd.Flags().StringVar(&opts.Audiences, "audiences", "",
		"Print an identity token minted for this audience")
	cmd.Flags().StringVar(&opts.TokenFormat, "token-format", "",
		"Identity token format for instance credentials: standard or full")
	cmd.Flags().BoolVar(&opts.IncludeLicense, "include-license", false,
		"Include license codes in instance identity tokens")

	return cmd
}

func tokenRun(ctx context.Context, opts *TokenOptions) error {
	if opts.TokenFormat != "" && opts.TokenFormat != "standard" && opts.TokenFormat != "full" {
		return cmdutil.FlagErrorf("--token-format must be standard or full, got %q", opts.TokenFormat)
	}

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
	cred, err := st.Load(ctx, account, store.LoadOptions{
		MinValidity: opts.MinValidity,
		Refresh: refresh.Options{
			IDTokenAudience: opts.Audiences,
			TokenFormat:     opts.TokenFormat,
			IncludeLicense:  opts.IncludeLicense,
		},
	})
	if err != nil {
		return err
	}

	tok := credential.TokenOf(cred)
	if opts.Audiences != "" {
		if tok.IDToken == "" {
			return fmt.Errorf("account %s cannot mint identity tokens", account)
		}
		fmt.Fprintln(opts.IOStreams.Out, tok.IDToken)
		return nil
	}
	fmt.Fprintln(opts.IOStreams.Out, tok.AccessToken)
	return nil
}
