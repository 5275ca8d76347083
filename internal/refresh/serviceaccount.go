package refresh

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pkcs12"

	"github.com/schmitthub/credkeep/internal/credential"
)

// jwtBearerGrant is the assertion grant type for service accounts.
const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

func (e *Engine) refreshServiceAccountKey(ctx context.Context, c *credential.ServiceAccountKey, opts Options) (credential.Token, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.PrivateKeyPEM))
	if err != nil {
		return credential.Token{}, fmt.Errorf("parsing private key for %s: %w", c.ClientEmail, err)
	}
	return e.assertionFlow(ctx, assertionSigner{
		email:    c.ClientEmail,
		key:      key,
		keyID:    c.PrivateKeyID,
		scopes:   c.Scopes,
		tokenURL: e.tokenURLFor(c.TokenURL),
	}, opts)
}

func (e *Engine) refreshServiceAccountP12(ctx context.Context, c *credential.ServiceAccountP12, opts Options) (credential.Token, error) {
	priv, _, err := pkcs12.Decode(c.KeyP12, c.KeyPassword)
	if err != nil {
		return credential.Token{}, fmt.Errorf("decoding PKCS#12 key for %s: %w", c.ClientEmail, err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return credential.Token{}, fmt.Errorf("PKCS#12 key for %s is not an RSA key", c.ClientEmail)
	}
	return e.assertionFlow(ctx, assertionSigner{
		email:    c.ClientEmail,
		key:      key,
		scopes:   c.Scopes,
		tokenURL: e.tokenURLFor(c.TokenURL),
	}, opts)
}

// assertionSigner builds and signs the JWT assertions for one service
// account, whatever the key material came from.
type assertionSigner struct {
	email    string
	key      *rsa.PrivateKey
	keyID    string
	scopes   []string
	tokenURL string
}

func (s assertionSigner) sign(claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		t.Header["kid"] = s.keyID
	}
	assertion, err := t.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing assertion for %s: %w", s.email, err)
	}
	return assertion, nil
}

// assertionFlow exchanges a signed assertion for an access token, and
// optionally a second audience-bound assertion for an id token.
func (e *Engine) assertionFlow(ctx context.Context, s assertionSigner, opts Options) (credential.Token, error) {
	now := e.clock.Now()
	assertion, err := s.sign(jwt.MapClaims{
		"iss":   s.email,
		"scope": strings.Join(credential.NormalizeScopes(s.scopes), " "),
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	})
	if err != nil {
		return credential.Token{}, err
	}

	tr, err := e.exchangeAssertion(ctx, s.tokenURL, assertion)
	if err != nil {
		return credential.Token{}, err
	}
	tok := e.tokenFromResponse(tr)

	if opts.IDTokenAudience != "" {
		idAssertion, err := s.sign(jwt.MapClaims{
			"iss":             s.email,
			"aud":             s.tokenURL,
			"target_audience": opts.IDTokenAudience,
			"iat":             now.Unix(),
			"exp":             now.Add(assertionLifetime).Unix(),
		})
		if err != nil {
			return credential.Token{}, err
		}
		idResp, err := e.exchangeAssertion(ctx, s.tokenURL, idAssertion)
		if err != nil {
			return credential.Token{}, err
		}
		tok.IDToken = idResp.IDToken
	}

	return tok, nil
}

func (e *Engine) exchangeAssertion(ctx context.Context, tokenURL, assertion string) (*tokenResponse, error) {
	resp, err := postFormRetry(ctx, e.http, "refresh service account", tokenURL, url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	})
	if err != nil {
		return nil, err
	}

	tr, err := parseTokenResponse(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthProtocolError{
			StatusCode: resp.StatusCode,
			Code:       tr.Error,
			Subtype:    tr.ErrorSubtype,
		}
	}
	return tr, nil
}
