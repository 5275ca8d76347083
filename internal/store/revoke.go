package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/devshell"
	"github.com/schmitthub/credkeep/internal/logger"
	"github.com/schmitthub/credkeep/internal/transport"
)

// Revoke revokes the account's credential against the authorization
// server, then deletes the local record and legacy files. The bool
// reports whether a server-side revocation actually happened: false
// for already-revoked tokens and for variants the endpoint will not
// revoke (service accounts), both of which still clear local state.
func (s *Store) Revoke(ctx context.Context, account string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.inHostedShell() {
		return false, ErrRevokeInHostedShell
	}

	rec, err := s.read(account)
	if err != nil {
		return false, err
	}

	serverRevoked := false
	if token := revocationToken(rec.Credential); token != "" {
		serverRevoked, err = s.revokeToken(ctx, account, token)
		if err != nil {
			return false, err
		}
	}

	if err := s.DeleteLocal(ctx, account); err != nil {
		return serverRevoked, err
	}
	logger.Info().Str("account", account).Bool("server_side", serverRevoked).Msg("credential revoked")
	return serverRevoked, nil
}

/// revocationToken picks the token the revoke endpoint consumes: the
// refresh token for user accounts, the access token otherwise.
func revocationToken(cred credential.Credential) string {
	if u, ok := cred.(*credential.UserAccount); ok {
		return u.RefreshToken
	}
	return credential.TokenOf(cred).AccessToken
}

func (s *Store) revokeToken(ctx context.Context, account, token string) (bool, error) {
	endpoint := s.revokeURL + "?token=" + url.QueryEscape(token)
	resp, err := transport.WithRetry(ctx, "revoke credential", func() (*transport.Response, error) {
		return transport.PostForm(ctx, s.http, endpoint, url.Values{})
	})
	if err != nil {
		return false, &RefreshFailedError{Account: account, Err: redactTokenQuery(s.revokeURL, err)}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusBadRequest:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body, &body)
		switch body.Error {
		case "invalid_token":
			// Already revoked; clearing local state is all that is left.
			return false, nil
		case "invalid_request":
			// Not revocable at this endpoint (service accounts).
			return false, nil
		}
		return false, fmt.Errorf("revoke endpoint rejected the request for %s: %s", account, body.Error)
	default:
		return false, fmt.Errorf("revoke endpoint returned %d for %s", resp.StatusCode, account)
	}
}

// redactTokenQuery rebuilds a transport failure without the request
// URL, whose query carries the token being revoked. The bare endpoint
// and the underlying network cause survive; the token does not.
func redactTokenQuery(endpoint string, err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return fmt.Errorf("revoke credential: transport failure: %s %s: %v", ue.Op, endpoint, ue.Err)
}

func (s *Store) inHostedShell() bool {
	if s.hosted != nil {
		return s.hosted()
	}
	return devshell.IsHosted()
}
