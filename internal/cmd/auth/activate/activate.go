package activate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schmitthub/credkeep/internal/cmdutil"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/iostreams"
	"github.com/schmitthub/credkeep/internal/store"
)

// defaultP12Password is the password Google issues PKCS#12 keys with.
const defaultP12Password = "notasecret"

// ActivateOptions holds options for the activate-service-account
// command.
type ActivateOptions struct {
	IOStreams      *iostreams.IOStreams
	Store          func() (*store.Store, error)
	Settings       func() (*config.Settings, error)
	SettingsLoader func() (*config.SettingsLoader, error)

	Account           string
	KeyFile           string
	PasswordFile      string
	PromptForPassword bool
}

// NewCmdActivate creates the auth activate-service-account command.
func NewCmdActivate(f *cmdutil.Factory, runF func(context.Context, *ActivateOptions) error) *cobra.Command {
	opts := &ActivateOptions{
		IOStreams:      f.IOStreams,
		Store:          f.Store,
		Settings:       f.Settings,
		SettingsLoader: f.SettingsLoader,
	}

	cmd := &cobra.Command{
		Use:   "activate-service-account [ACCOUNT] --key-file=KEY_FILE",
		Short: "Store service account credentials from a key file",
		Long: `Stores a service account credential from a JSON or PKCS#12 key file
and makes it the active account.

For JSON key files the account name is taken from the key's client
email; an explicit ACCOUNT argument must match it. PKCS#12 key files
carry no email, so the ACCOUNT argument is required, along with the
key password when it is not the issuer default.`,
		Example: `  # JSON key file
  credkeep auth activate-service-account --key-file key.json

  # PKCS#12 key file
  credkeep auth activate-service-account svc@proj.iam.example.com \
    --key-file key.p12 --prompt-for-password`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.Account = args[0]
			}
			if opts.KeyFile == "" {
				return cmdutil.FlagErrorf("--key-file is required")
			}
			if opts.PasswordFile != "" && opts.PromptForPassword {
				return cmdutil.FlagErrorf("--password-file and --prompt-for-password are mutually exclusive")
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return activateRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.KeyFile, "key-file", "", "Path to the service account key file")
	cmd.Flags().StringVar(&opts.PasswordFile, "password-file", "",
		"File holding the password for a PKCS#12 key")
	cmd.Flags().BoolVar(&opts.PromptForPassword, "prompt-for-password", false,
		"Prompt for the password for a PKCS#12 key")

	return cmd
}

func activateRun(ctx context.Context, opts *ActivateOptions) error {
	data, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}

	var account string
	var cred credential.Credential
	if isP12File(opts.KeyFile) {
		account, cred, err = p12Credential(opts, data)
	} else {
		account, cred, err = jsonCredential(opts, data)
	}
	if err != nil {
		return err
	}

	st, err := opts.Store()
	if err != nil {
		return err
	}
	if err := st.Save(ctx, account, cred); err != nil {
		return err
	}

	loader, err := opts.SettingsLoader()
	if err != nil {
		return err
	}
	settings, err := opts.Settings()
	if err != nil {
		return err
	}
	settings.ActiveAccount = account
	if err := loader.Save(settings); err != nil {
		return err
	}

	fmt.Fprintf(opts.IOStreams.ErrOut, "Activated service account credentials for [%s].\n", account)
	return nil
}

func isP12File(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

func jsonCredential(opts *ActivateOptions, data []byte) (string, credential.Credential, error) {
	cred, err := credential.Decode(data)
	if err != nil {
		return "", nil, fmt.Errorf("parsing key file: %w", err)
	}
	sa, ok := cred.(*credential.ServiceAccountKey)
	if !ok {
		return "", nil, fmt.Errorf("key file holds a %s credential, not a service account key", cred.Type())
	}
	if opts.Account != "" && opts.Account != sa.ClientEmail {
		return "", nil, cmdutil.FlagErrorf("account %s does not match key file email %s",
			opts.Account, sa.ClientEmail)
	}
	return sa.ClientEmail, sa, nil
}

func p12Credential(opts *ActivateOptions, data []byte) (string, credential.Credential, error) {
	if opts.Account == "" {
		return "", nil, cmdutil.FlagErrorf("an ACCOUNT argument is required with a PKCS#12 key file")
	}

	password := defaultP12Password
	switch {
	case opts.PasswordFile != "":
		raw, err := os.ReadFile(opts.PasswordFile)
		if err != nil {
			return "", nil, fmt.Errorf("reading password file: %w", err)
		}
		password = strings.TrimSpace(string(raw))
	case opts.PromptForPassword:
		if !opts.IOStreams.CanPrompt() {
			return "", nil, fmt.Errorf("cannot prompt for the key password on a non-interactive terminal")
		}
		fmt.Fprint(opts.IOStreams.ErrOut, "Password: ")
		p, err := opts.IOStreams.ReadSecret()
		if err != nil {
			return "", nil, fmt.Errorf("reading password: %w", err)
		}
		password = p
	}

	return opts.Account, &credential.ServiceAccountP12{
		ClientEmail: opts.Account,
		KeyP12:      data,
		KeyPassword: password,
	}, nil
}
