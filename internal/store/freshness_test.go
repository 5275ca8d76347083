package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/credential"
)

func gateAt(t time.Time) FreshnessGate {
	return NewFreshnessGate(clock.NewFake(t))
}

func withToken(expiry time.Time) *credential.UserAccount {
	return &credential.UserAccount{
		Token: credential.Token{AccessToken: "tok", Expiry: expiry},
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate := gateAt(now)

	tests := []struct {
		name        string
		cred        credential.Credential
		minValidity time.Duration
		want        bool
	}{
		{
			name:        "no token yet",
			cred:        &credential.UserAccount{},
			minValidity: DefaultMinValidity,
			want:        true,
		},
		{
			name:        "token without expiry",
			cred:        &credential.UserAccount{Token: credential.Token{AccessToken: "tok"}},
			minValidity: DefaultMinValidity,
			want:        true,
		},
		{
			name:        "already expired",
			cred:        withToken(now.Add(-time.Minute)),
			minValidity: DefaultMinValidity,
			want:        true,
		},
		{
			name:        "inside the validity window",
			cred:        withToken(now.Add(4 * time.Minute)),
			minValidity: DefaultMinValidity,
			want:        true,
		},
		{
			name:        "exactly at the window boundary",
			cred:        withToken(now.Add(DefaultMinValidity)),
			minValidity: DefaultMinValidity,
			want:        true,
		},
		{
			name:        "comfortably fresh",
			cred:        withToken(now.Add(time.Hour)),
			minValidity: DefaultMinValidity,
			want:        false,
		},
		{
			name:        "zero min validity accepts any unexpired token",
			cred:        withToken(now.Add(time.Second)),
			minValidity: 0,
			want:        false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.NeedsRefresh(tt.cred, tt.minValidity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsRefresh_NegativeMinValidity(t *testing.T) {
	gate := gateAt(time.Now())
	_, err := gate.NeedsRefresh(withToken(time.Now().Add(time.Hour)), -time.Second)
	assert.ErrorIs(t, err, ErrNegativeMinValidity)
}
