package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/logger"
)

// Reauth challenge subtypes the token endpoint uses to demand a proof
// token alongside invalid_grant.
const (
	subtypeRaptRequired = "rapt_required"
	subtypeInvalidRapt  = "invalid_rapt"
)

// refreshUser runs the OAuth2 refresh-token grant, driving one reauth
// elevation and a single retry when the server demands a proof token.
func (e *Engine) refreshUser(ctx context.Context, c *credential.UserAccount) (credential.Token, error) {
	tok, err := e.userGrant(ctx, c)
	if err == nil {
		return tok, nil
	}

	var ape *AuthProtocolError
	if !errors.As(err, &ape) || ape.Code != "invalid_grant" {
		return credential.Token{}, err
	}
	if ape.Subtype != subtypeRaptRequired && ape.Subtype != subtypeInvalidRapt {
		// invalid_grant with no challenge: the grant is dead.
		return credential.Token{}, ErrRevoked
	}
	if e.Reauth == nil {
		return credential.Token{}, err
	}

	logger.Debug().Msg("token endpoint demanded reauth proof")
	rapt, err := e.Reauth.Elevate(ctx, c)
	if err != nil {
		return credential.Token{}, err
	}
	c.RaptToken = rapt

	return e.userGrant(ctx, c)
}

func (e *Engine) userGrant(ctx context.Context, c *credential.UserAccount) (credential.Token, error) {
	values := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"refresh_token": {c.RefreshToken},
	}
	if c.RaptToken != "" {
		values.Set("rapt", c.RaptToken)
	}

	resp, err := postFormRetry(ctx, e.http, "refresh user account", e.tokenURLFor(c.TokenURL), values)
	if err != nil {
		return credential.Token{}, err
	}

	tr, err := parseTokenResponse(resp.Body)
	if err != nil {
		return credential.Token{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return credential.Token{}, &AuthProtocolError{
			StatusCode: resp.StatusCode,
			Code:       tr.Error,
			Subtype:    tr.ErrorSubtype,
		}
	}

	// Some servers rotate the refresh token on use.
	if tr.RefreshToken != "" {
		c.RefreshToken = tr.RefreshToken
	}
	return e.tokenFromResponse(tr), nil
}
