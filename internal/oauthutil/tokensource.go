// Package oauthutil adapts stored credentials to oauth2.TokenSource so
// API clients built on golang.org/x/oauth2 can draw tokens straight
// from the store, with refresh and persistence handled underneath.
package oauthutil

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/store"
)

// Loader is the slice of the store the adapter needs.
type Loader interface {
	Load(ctx context.Context, account string, opts store.LoadOptions) (credential.Credential, error)
}

// StoreTokenSource adapts one stored account to oauth2.TokenSource.
// Every Token call goes through the store's freshness gate, so the
// returned token always satisfies the configured minimum validity.
type StoreTokenSource struct {
	loader  Loader
	account string
	opts    store.LoadOptions
	ctx     context.Context
}

// NewTokenSource creates an oauth2.TokenSource for the account. The
// context bounds every subsequent Token call, matching the lifetime of
// the API client that consumes the source.
func NewTokenSource(ctx context.Context, loader Loader, account string, opts store.LoadOptions) oauth2.TokenSource {
	return &StoreTokenSource{
		loader:  loader,
		account: account,
		opts:    opts,
		ctx:     ctx,
	}
}

// Token implements oauth2.TokenSource.
func (s *StoreTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.loader.Load(s.ctx, s.account, s.opts)
	if err != nil {
		return nil, err
	}

	tok := credential.TokenOf(cred)
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Expiry:      tok.Expiry,
	}, nil
}
