// Package credential defines the credential variants stored by
// credkeep and the canonical JSON codec for their on-disk form.
//
// The five variants form a closed sum: code that needs per-variant
// behavior type-switches over Credential and handles every case.
package credential

import (
	"sort"
	"time"
)

// Type discriminates the credential variants on disk.
type Type string

const (
	// TypeUserAccount is an end user who consented via the OAuth2
	// authorization-code flow.
	TypeUserAccount Type = "authorized_user"
	// TypeServiceAccountKey is a service account with a PEM private key.
	TypeServiceAccountKey Type = "service_account"
	// TypeServiceAccountP12 is a service account with PKCS#12 key material.
	TypeServiceAccountP12 Type = "service_account_p12"
	// TypeInstanceMetadata mints tokens from the host metadata service.
	TypeInstanceMetadata Type = "gce"
	// TypeDevShell mints tokens from a local helper socket.
	TypeDevShell Type = "devshell"
)

// Token is the short-lived material shared by all variants.
// A zero Expiry means the expiry is unknown.
type Token struct {
	AccessToken string
	Expiry      time.Time
	IDToken     string
}

// Credential is one of the five variant structs. The sealed marker
// keeps the sum closed to this package.
type Credential interface {
	Type() Type
	isCredential()
}

// UserAccount represents an end user credential. Refreshable; may
// require a reauth proof (rapt) token.
type UserAccount struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	RaptToken    string
	Scopes       []string
	Token        Token
}

func (*UserAccount) Type() Type    { return TypeUserAccount }
func (*UserAccount) isCredential() {}

// ServiceAccountKey is a service account backed by a PEM private key.
// Refresh signs a JWT assertion and exchanges it for tokens.
type ServiceAccountKey struct {
	ClientEmail   string
	ClientID      string
	PrivateKeyID  string
	PrivateKeyPEM string
	TokenURL      string
	ProjectID     string
	Scopes        []string
	Token         Token
}

func (*ServiceAccountKey) Type() Type    { return TypeServiceAccountKey }
func (*ServiceAccountKey) isCredential() {}

// ServiceAccountP12 is a service account whose signer consumes PKCS#12
// key material and its password.
type ServiceAccountP12 struct {
	ClientEmail string
	KeyP12      []byte
	KeyPassword string
	TokenURL    string
	Scopes      []string
	Token       Token
}

func (*ServiceAccountP12) Type() Type    { return TypeServiceAccountP12 }
func (*ServiceAccountP12) isCredential() {}

// InstanceMetadata mints tokens from the host metadata service; there
// is no key material to hold.
type InstanceMetadata struct {
	ServiceAccount string
	Scopes         []string
	Token          Token
}

func (*InstanceMetadata) Type() Type    { return TypeInstanceMetadata }
func (*InstanceMetadata) isCredential() {}

// DevShell mints tokens from a local helper socket. Address is the
// remote-endpoint descriptor (host:port); empty means "resolve from
// the DEVSHELL_CLIENT_PORT environment".
type DevShell struct {
	Address string
	Token   Token
}

func (*DevShell) Type() Type    { return TypeDevShell }
func (*DevShell) isCredential() {}

// TokenOf returns the variant's token for reading or in-place update.
func TokenOf(c Credential) *Token {
	switch v := c.(type) {
	case *UserAccount:
		return &v.Token
	case *ServiceAccountKey:
		return &v.Token
	case *ServiceAccountP12:
		return &v.Token
	case *InstanceMetadata:
		return &v.Token
	case *DevShell:
		return &v.Token
	}
	return nil
}

// ScopesOf returns the variant's scope set, nil for DevShell.
func ScopesOf(c Credential) []string {
	switch v := c.(type) {
	case *UserAccount:
		return v.Scopes
	case *ServiceAccountKey:
		return v.Scopes
	case *ServiceAccountP12:
		return v.Scopes
	case *InstanceMetadata:
		return v.Scopes
	}
	return nil
}

// NormalizeScopes returns a sorted, deduplicated copy of scopes.
// Scope sets are order-independent; normalizing keeps encoded records
// diffable.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Record is a persisted credential with its owning account.
type Record struct {
	Account    string
	Credential Credential
	UpdatedAt  time.Time
}
