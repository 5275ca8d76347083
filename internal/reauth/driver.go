// Package reauth drives the step-up ("reauth") challenge flow a token
// endpoint may demand before honoring a user-account refresh. The
// driver walks server-ordered challenges through registered handlers
// until the server issues a proof-of-reauth (rapt) token.
package reauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/logger"
	"github.com/schmitthub/credkeep/internal/transport"
)

var (
	// ErrWebLoginRequired means the challenge cannot be satisfied
	// outside a browser; the caller must rerun interactive login.
	ErrWebLoginRequired = errors.New("web login required to reauthenticate")
	// ErrUserAborted means the user declined a challenge.
	ErrUserAborted = errors.New("reauthentication aborted by user")
)

// Session statuses returned by the reauth API.
const (
	statusAuthenticated     = "AUTHENTICATED"
	statusChallengeRequired = "CHALLENGE_REQUIRED"
	statusChallengePending  = "CHALLENGE_PENDING"
)

// challengeTypeSAML always requires a browser.
const challengeTypeSAML = "SAML"

// maxRounds bounds the challenge loop against a misbehaving server.
const maxRounds = 5

// ChallengeHandler satisfies one challenge type. Handlers receive the
// challenge's supplementary parameters as an opaque map and return the
// proposal response map, or ErrUserAborted.
type ChallengeHandler interface {
	ChallengeType() string
	Handle(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Challenge is one entry of the server's challenge list. Fields beyond
// the fixed three arrive in Params.
type Challenge struct {
	ID     int            `mapstructure:"challengeId"`
	Type   string         `mapstructure:"challengeType"`
	Status string         `mapstructure:"status"`
	Params map[string]any `mapstructure:",remain"`
}

// session mirrors the reauth API response envelope.
type session struct {
	Status     string           `json:"status"`
	SessionID  string           `json:"sessionId"`
	Challenges []map[string]any `json:"challenges"`
	ProofToken string           `json:"encodedProofOfReauthToken"`

	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Driver runs the challenge loop against the reauth API.
type Driver struct {
	http     transport.Doer
	baseURL  string
	handlers map[string]ChallengeHandler
}

// NewDriver creates a Driver for the API root (e.g.
// https://reauth.googleapis.com/v2) with the given handlers.
func NewDriver(d transport.Doer, baseURL string, handlers ...ChallengeHandler) *Driver {
	drv := &Driver{http: d, baseURL: baseURL, handlers: map[string]ChallengeHandler{}}
	for _, h := range handlers {
		drv.Register(h)
	}
	return drv
}

// Register adds or replaces the handler for a challenge type.
func (d *Driver) Register(h ChallengeHandler) {
	d.handlers[h.ChallengeType()] = h
}

// Elevate obtains a rapt token for the credential. The loop checks
// cancellation once per round; on any terminal error no state is kept.
func (d *Driver) Elevate(ctx context.Context, cred *credential.UserAccount) (string, error) {
	sess, err := d.start(ctx, cred.Token.AccessToken)
	if err != nil {
		return "", err
	}

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch sess.Status {
		case statusAuthenticated:
			return sess.ProofToken, nil
		case statusChallengeRequired, statusChallengePending:
			ch, err := nextChallenge(sess)
			if err != nil {
				return "", err
			}
			logger.Debug().Str("challenge", ch.Type).Msg("answering reauth challenge")

			resp, err := d.answer(ctx, ch)
			if err != nil {
				return "", err
			}
			sess, err = d.continueSession(ctx, cred.Token.AccessToken, sess.SessionID, ch.ID, resp)
			if err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("reauth session in unexpected state %q", sess.Status)
		}
	}

	return "", fmt.Errorf("reauth unfinished after %d challenge rounds", maxRounds)
}

// nextChallenge picks the first ready challenge in server order.
func nextChallenge(sess *session) (*Challenge, error) {
	for _, raw := range sess.Challenges {
		var ch Challenge
		if err := mapstructure.Decode(raw, &ch); err != nil {
			return nil, fmt.Errorf("malformed reauth challenge: %w", err)
		}
		if ch.Status == "READY" || ch.Status == "" {
			return &ch, nil
		}
	}
	return nil, errors.New("reauth session offered no ready challenge")
}

func (d *Driver) answer(ctx context.Context, ch *Challenge) (map[string]any, error) {
	if ch.Type == challengeTypeSAML {
		return nil, ErrWebLoginRequired
	}
	h, ok := d.handlers[ch.Type]
	if !ok {
		// No local handler can satisfy it; the browser flow can.
		return nil, fmt.Errorf("%w: unsupported challenge type %q", ErrWebLoginRequired, ch.Type)
	}
	return h.Handle(ctx, ch.Params)
}

func (d *Driver) start(ctx context.Context, accessToken string) (*session, error) {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	body, err := json.Marshal(map[string]any{"supportedChallengeTypes": types})
	if err != nil {
		return nil, err
	}
	return d.post(ctx, d.baseURL+"/sessions:start", accessToken, body)
}

func (d *Driver) continueSession(ctx context.Context, accessToken, sessionID string, challengeID int, proposal map[string]any) (*session, error) {
	body, err := json.Marshal(map[string]any{
		"sessionId":        sessionID,
		"challengeId":      challengeID,
		"action":           "RESPOND",
		"proposalResponse": proposal,
	})
	if err != nil {
		return nil, err
	}
	return d.post(ctx, fmt.Sprintf("%s/sessions/%s:continue", d.baseURL, sessionID), accessToken, body)
}

func (d *Driver) post(ctx context.Context, endpoint, accessToken string, body []byte) (*session, error) {
	resp, err := transport.WithRetry(ctx, "reauth", func() (*transport.Response, error) {
		return transport.PostJSON(ctx, d.http, endpoint, body, map[string]string{
			"Authorization": "Bearer " + accessToken,
		})
	})
	if err != nil {
		return nil, err
	}

	var sess session
	if err := json.Unmarshal(resp.Body, &sess); err != nil {
		return nil, fmt.Errorf("malformed reauth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reauth endpoint returned %d: %s", resp.StatusCode, sess.Error.Message)
	}
	return &sess, nil
}
