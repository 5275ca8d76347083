package refresh

import (
	"context"
	"errors"

	"github.com/schmitthub/credkeep/internal/credential"
)

// ErrNoShellSource indicates a devshell credential was refreshed
// outside a hosted-shell environment.
var ErrNoShellSource = errors.New("no devshell helper available")

func (e *Engine) refreshDevShell(ctx context.Context, c *credential.DevShell) (credential.Token, error) {
	if e.Shell == nil {
		return credential.Token{}, ErrNoShellSource
	}
	return e.Shell.Token(ctx, c.Address)
}
