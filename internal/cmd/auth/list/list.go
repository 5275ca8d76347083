package list

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/store"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	IOStreams *iostreams.IOStreams
	Store     func() (*store.Store, error)
	Settings  func() (*config.Settings, error)

	Quiet bool
}

// NewCmdList creates the auth list command.
func NewCmdList(f *cmdutil.Factory, runF func(*ListOptions) error) *cobra.Command {
	opts := &ListOptions{
		IOStreams: f.IOStreams,
		Store:     f.Store,
		Settings:  f.Settings,
	}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored accounts",
		Long: `Lists the accounts credkeep holds credentials for. The active
account, used by commands that take no account argument, is marked
with an asterisk.`,
		Example: `  # List all stored accounts
  credkeep auth list

  # Account names only, for scripting
  credkeep auth list -q`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(opts)
			}
			return listRun(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Print account names only")

	return cmd
}

func listRun(opts *ListOptions) error {
	st, err := opts.Store()
	if err != nil {
		return err
	}
	accounts, err := st.List()
	if err != nil {
		return err
	}

	if opts.Quiet {
		for _, a := range accounts {
			fmt.Fprintln(opts.IOStreams.Out, a)
		}
		return nil
	}

	if len(accounts) == 0 {
		fmt.Fprintln(opts.IOStreams.ErrOut, "No credentialed accounts.")
		return nil
	}

	settings, err := opts.Settings()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(opts.IOStreams.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tACCOUNT")
	for _, a := range accounts {
		marker := ""
		if a == settings.ActiveAccount {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\n", marker, a)
	}
	return w.Flush()
}
