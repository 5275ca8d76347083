// Package refresh implements the variant-appropriate token refresh
// protocols: OAuth2 refresh-token grants for user accounts, signed JWT
// assertions for service accounts, the host metadata service for
// instance credentials, and the local helper socket for devshell.
//
// The engine mutates the credential it is handed; persisting the
// result is the store's job, and the store never returns a refreshed
// credential to a caller before it is on disk.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/logger"
	"github.com/schmitthub/credkeep/internal/transport"
)

// safetyMargin is the minimum remaining validity a freshly minted
// token must have; it absorbs clock skew against the server.
const safetyMargin = 30 * time.Second

// assertionLifetime is the validity claimed in service-account JWT
// assertions.
const assertionLifetime = time.Hour

// Elevator obtains a reauth proof token when the server demands a
// step-up for a user account. Implemented by reauth.Driver.
type Elevator interface {
	Elevate(ctx context.Context, cred *credential.UserAccount) (string, error)
}

// ShellTokenSource mints tokens from the local devshell helper.
// Implemented by devshell.Client.
type ShellTokenSource interface {
	Token(ctx context.Context, address string) (credential.Token, error)
}

// Options modify a single refresh.
type Options struct {
	// IDTokenAudience requests an id token minted for this audience
	// (service-account and metadata variants).
	IDTokenAudience string
	// TokenFormat selects the metadata id-token format, "standard" or
	// "full". Empty means standard.
	TokenFormat string
	// IncludeLicense requests license codes in metadata id tokens.
	IncludeLicense bool
}

// Engine refreshes credentials against an injected HTTP transport.
type Engine struct {
	http        transport.Doer
	clock       clock.Clock
	tokenURL    string
	metadataURL string

	// Reauth handles rapt challenges for user accounts. When nil, a
	// rapt-required response surfaces as the elevation error.
	Reauth Elevator
	// Shell mints devshell tokens. When nil, devshell refresh fails.
	Shell ShellTokenSource
}

// NewEngine creates an Engine using the settings' endpoints as
// defaults for credentials that carry none.
func NewEngine(d transport.Doer, clk clock.Clock, settings *config.Settings) *Engine {
	return &Engine{
		http:        d,
		clock:       clk,
		tokenURL:    settings.TokenURL,
		metadataURL: settings.MetadataURL,
	}
}

// Refresh performs the variant-appropriate refresh protocol and
// updates the credential's token in place. On success the token
// outlives the safety margin; on failure the credential is unchanged.
func (e *Engine) Refresh(ctx context.Context, cred credential.Credential, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	old := *credential.TokenOf(cred)

	var (
		tok credential.Token
		err error
	)
	switch c := cred.(type) {
	case *credential.UserAccount:
		tok, err = e.refreshUser(ctx, c)
	case *credential.ServiceAccountKey:
		tok, err = e.refreshServiceAccountKey(ctx, c, opts)
	case *credential.ServiceAccountP12:
		tok, err = e.refreshServiceAccountP12(ctx, c, opts)
	case *credential.InstanceMetadata:
		tok, err = e.refreshMetadata(ctx, c, opts)
	case *credential.DevShell:
		tok, err = e.refreshDevShell(ctx, c)
	default:
		err = fmt.Errorf("%w: %T", credential.ErrUnknownVariant, cred)
	}
	if err != nil {
		return err
	}

	if !tok.Expiry.IsZero() && !tok.Expiry.After(e.clock.Now().Add(safetyMargin)) {
		return ErrStaleToken
	}

	applyToken(cred, old, tok)
	logger.Debug().
		Str("variant", string(cred.Type())).
		Time("expiry", credential.TokenOf(cred).Expiry).
		Msg("credential refreshed")
	return nil
}

// applyToken installs the minted token, never regressing the expiry
// while keeping the same access token.
func applyToken(cred credential.Credential, old, tok credential.Token) {
	if tok.AccessToken == old.AccessToken && !old.Expiry.IsZero() && tok.Expiry.Before(old.Expiry) {
		return
	}
	if tok.IDToken == "" {
		tok.IDToken = old.IDToken
	}
	*credential.TokenOf(cred) = tok
}

// tokenURLFor returns the credential's token endpoint, falling back to
// the engine default.
func (e *Engine) tokenURLFor(u string) string {
	if u != "" {
		return u
	}
	return e.tokenURL
}

// tokenResponse is the token endpoint's JSON body, success or error.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`

	Error            string `json:"error"`
	ErrorSubtype     string `json:"error_subtype"`
	ErrorDescription string `json:"error_description"`
}

func parseTokenResponse(body []byte) (*tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("malformed token endpoint response: %w", err)
	}
	return &tr, nil
}

func (e *Engine) tokenFromResponse(tr *tokenResponse) credential.Token {
	tok := credential.Token{AccessToken: tr.AccessToken, IDToken: tr.IDToken}
	if tr.ExpiresIn > 0 {
		tok.Expiry = e.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	return tok
}
