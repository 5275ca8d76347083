package refresh

import (
	"errors"
	"fmt"
)

// ErrRevoked indicates the authorization server declared the
// credential dead (invalid_grant with no reauth challenge).
var ErrRevoked = errors.New("credential has been revoked by the authorization server")

// AuthProtocolError is a non-retriable 4xx from a token endpoint.
// It carries protocol codes only, never token material.
type AuthProtocolError struct {
	StatusCode int
	Code       string
	Subtype    string
}

func (e *AuthProtocolError) Error() string {
	if e.Subtype != "" {
		return fmt.Sprintf("token endpoint returned %d: %s (%s)", e.StatusCode, e.Code, e.Subtype)
	}
	if e.Code != "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

// TransportError is a network-level failure that survived the retry
// budget.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrStaleToken indicates a refresh nominally succeeded but the minted
// token does not outlive the safety margin.
var ErrStaleToken = errors.New("refreshed token is already within the safety margin")
