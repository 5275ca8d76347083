package store

import (
	"time"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/credential"
)

// DefaultMinValidity is the freshness margin absorbing clock skew
// against the authorization server.
const DefaultMinValidity = 5 * time.Minute

// FreshnessGate decides when a credential must be refreshed before it
// is handed to a caller.
type FreshnessGate struct {
	clock clock.Clock
}

// NewFreshnessGate creates a gate reading time from clk.
func NewFreshnessGate(clk clock.Clock) FreshnessGate {
	return FreshnessGate{clock: clk}
}

// NeedsRefresh reports whether the credential would be invalid within
// minValidity. A credential with no token or no known expiry always
// needs a refresh; a zero minValidity refreshes only when already
// expired; negative values are rejected.
func (g FreshnessGate) NeedsRefresh(c credential.Credential, minValidity time.Duration) (bool, error) {
	if minValidity < 0 {
		return false, ErrNegativeMinValidity
	}
	tok := credential.TokenOf(c)
	if tok == nil || tok.AccessToken == "" || tok.Expiry.IsZero() {
		return true, nil
	}
	return tok.Expiry.Sub(g.clock.Now()) <= minValidity, nil
}
