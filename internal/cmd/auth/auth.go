// Package auth groups the credential management commands.
package auth

import (
	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmd/auth/activate"
	"github.com/schmitthub/credkeep/internal/cmd/auth/describe"
	"github.com/schmitthub/credkeep/internal/cmd/auth/list"
	"github.com/schmitthub/credkeep/internal/cmd/auth/revoke"
	"github.com/schmitthub/credkeep/internal/cmd/auth/token"
	"github.com/schmitthub/credkeep/internal/cmdutil"
)

// NewCmdAuth creates the auth command group.
func NewCmdAuth(f *cmdutil.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth <command>",
		Short: "Manage stored credentials",
		Long: `Manage the accounts credkeep holds credentials for.

Credentials live under ~/.credkeep/credentials (one file per account),
with legacy helper files derived alongside for tools that read
application default credentials or .boto files.`,
	}

	cmd.AddCommand(list.NewCmdList(f, nil))
	cmd.AddCommand(describe.NewCmdDescribe(f, nil))
	cmd.AddCommand(token.NewCmdToken(f, nil))
	cmd.AddCommand(revoke.NewCmdRevoke(f, nil))
	cmd.AddCommand(activate.NewCmdActivate(f, nil))

	return cmd
}
