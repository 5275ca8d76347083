package describe

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/store"
)

// DescribeOptions holds options for the describe command.
type DescribeOptions struct {
	IOStreams *iostreams.IOStreams
	Store     func() (*store.Store, error)
	Settings  func() (*config.Settings, error)

	Account string
}

// accountView is what describe prints. Secret material (refresh
// tokens, private keys, access tokens) never appears here.
type accountView struct {
	Account        string   `yaml:"account"`
	Type           string   `yaml:"type"`
	Scopes         []string `yaml:"scopes,omitempty"`
	TokenExpiry    string   `yaml:"token_expiry,omitempty"`
	ServiceAccount string   `yaml:"service_account,omitempty"`
	ClientEmail    string   `yaml:"client_email,omitempty"`
}

// NewCmdDescribe creates the auth describe command.
func NewCmdDescribe(f *cmdutil.Factory, runF func(context.Context, *DescribeOptions) error) *cobra.Command {
	opts := &DescribeOptions{
		IOStreams: f.IOStreams,
		Store:     f.Store,
		Settings:  f.Settings,
	}

	cmd := &cobra.Command{
		Use:   "describe [ACCOUNT]",
		Short: "Show details for a stored account",
		Long: `Shows the credential variant, scopes, and token expiry for an
account. Secret material is never printed. Without an argument the
active account is described.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Account = args[0]
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return describeRun(cmd.Context(), opts)
		},
	}

	return cmd
}

func describeRun(ctx context.Context, opts *DescribeOptions) error {
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
	cred, err := st.Load(ctx, account, store.LoadOptions{PreventRefresh: true})
	if err != nil {
		return err
	}

	view := accountView{
		Account: account,
		Type:    string(cred.Type()),
		Scopes:  credential.ScopesOf(cred),
	}
	if expiry := credential.TokenOf(cred).Expiry; !expiry.IsZero() {
		view.TokenExpiry = expiry.UTC().Format(time.RFC3339)
	}
	switch c := cred.(type) {
	case *credential.ServiceAccountKey:
		view.ClientEmail = c.ClientEmail
	case *credential.ServiceAccountP12:
		view.ClientEmail = c.ClientEmail
	case *credential.InstanceMetadata:
		view.ServiceAccount = c.ServiceAccount
	}

	out, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	fmt.Fprint(opts.IOStreams.Out, string(out))
	return nil
}
