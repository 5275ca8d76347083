package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchAccount is returned when a named account has no record.
	ErrNoSuchAccount = errors.New("no such account")
	// ErrMalformedStore indicates a record file that cannot be decoded.
	ErrMalformedStore = errors.New("malformed credential store")
	// ErrNegativeMinValidity rejects a negative freshness window.
	ErrNegativeMinValidity = errors.New("minimum validity must not be negative")
	// ErrRevokeInHostedShell blocks revocation inside a hosted shell,
	// where the local credentials are not the user's to revoke.
	ErrRevokeInHostedShell = errors.New("cannot revoke credentials from inside a hosted shell")
)

// RefreshFailedError wraps a refresh failure for an account. Messages
// name the account and operation but never token material.
type RefreshFailedError struct {
	Account string
	Err     error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("refreshing credentials for %s: %v", e.Account, e.Err)
}

func (e *RefreshFailedError) Unwrap() error { return e.Err }

// ReauthRequiredError means the user must rerun the interactive login
// flow before the account can refresh again.
type ReauthRequiredError struct {
	Account       string
	Unrecoverable bool
	Err           error
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("account %s requires reauthentication: %v", e.Account, e.Err)
}

func (e *ReauthRequiredError) Unwrap() error { return e.Err }

// RevokedError means the authorization server declared the credential
// dead; the local record has already been deleted.
type RevokedError struct {
	Account string
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("credentials for %s have been revoked; run the login flow again", e.Account)
}
