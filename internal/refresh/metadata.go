package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/schmitthub/credkeep/internal/credential"
)

// metadataFlavor is the header proving the request originated on-host.
var metadataHeaders = map[string]string{"Metadata-Flavor": "Google"}

// refreshMetadata mints tokens from the host metadata service. There
// is no signing; possession of the instance is the credential.
func (e *Engine) refreshMetadata(ctx context.Context, c *credential.InstanceMetadata, opts Options) (credential.Token, error) {
	account := c.ServiceAccount
	if account == "" {
		account = "default"
	}
	base := fmt.Sprintf("%s/instance/service-accounts/%s", e.metadataURL, url.PathEscape(account))

	tokenEndpoint := base + "/token"
	if len(c.Scopes) > 0 {
		q := url.Values{"scopes": {strings.Join(credential.NormalizeScopes(c.Scopes), ",")}}
		tokenEndpoint += "?" + q.Encode()
	}

	resp, err := getRetry(ctx, e.http, "refresh metadata credential", tokenEndpoint, metadataHeaders)
	if err != nil {
		return credential.Token{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return credential.Token{}, &AuthProtocolError{StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return credential.Token{}, fmt.Errorf("malformed metadata token response: %w", err)
	}
	tok := e.tokenFromResponse(&tr)

	if opts.IDTokenAudience != "" {
		idToken, err := e.metadataIdentity(ctx, base, opts)
		if err != nil {
			return credential.Token{}, err
		}
		tok.IDToken = idToken
	}

	return tok, nil
}

// metadataIdentity fetches an id token; the response body is the raw
// JWT, not JSON.
func (e *Engine) metadataIdentity(ctx context.Context, base string, opts Options) (string, error) {
	q := url.Values{"audience": {opts.IDTokenAudience}}
	format := opts.TokenFormat
	if format == "" {
		format = "standard"
	}
	q.Set("format", format)
	if opts.IncludeLicense {
		q.Set("licenses", "TRUE")
	}

	resp, err := getRetry(ctx, e.http, "mint metadata id token", base+"/identity?"+q.Encode(), metadataHeaders)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthProtocolError{StatusCode: resp.StatusCode}
	}
	return strings.TrimSpace(string(resp.Body)), nil
}
