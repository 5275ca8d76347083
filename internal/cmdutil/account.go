package cmdutil

import (
	"github.com/schmitthub/credkeep/internal/config"
)

// ResolveAccount picks the account a command operates on: an explicit
// argument wins, then the active account from settings.
func ResolveAccount(arg string, settings *config.Settings) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if settings.ActiveAccount != "" {
		return settings.ActiveAccount, nil
	}
	return "", FlagErrorf("no account specified and no active account is set")
}
