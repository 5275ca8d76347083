package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/legacy"
	"github.com/schmitthub/credkeep/internal/refresh"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *Store
	paths  config.Paths
	clock  *clock.Fake
	engine *refresh.Engine
	hits   *int32
}

// newFixture builds a store whose engine talks to handler. The hit
// counter counts every request the engine makes.
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()

	var hits int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	paths := config.NewPaths(t.TempDir())
	clk := clock.NewFake(t0)
	settings := config.DefaultSettings()
	settings.TokenURL = srv.URL + "/token"
	settings.RevokeURL = srv.URL + "/revoke"
	settings.MetadataURL = srv.URL + "/metadata"

	engine := refresh.NewEngine(srv.Client(), clk, settings)
	st := New(Config{
		Paths:         paths,
		Clock:         clk,
		Engine:        engine,
		Exporter:      legacy.NewExporter(paths),
		HTTP:          srv.Client(),
		RevokeURL:     settings.RevokeURL,
		InHostedShell: func() bool { return false },
	})
	return &fixture{store: st, paths: paths, clock: clk, engine: engine, hits: &hits}
}

func userCred(expiry time.Time) *credential.UserAccount {
	return &credential.UserAccount{
		ClientID:     "cid",
		ClientSecret: "csecret",
		RefreshToken: "rt-1",
		Scopes:       []string{"cloud"},
		Token:        credential.Token{AccessToken: "t1", Expiry: expiry},
	}
}

func writeTokenResponse(w http.ResponseWriter, token string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"expires_in":%d}`, token, expiresIn)
}

func TestLoad_FreshCredentialMakesNoHTTPCall(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected HTTP call for a fresh credential")
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(30*time.Minute))))

	got, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, "t1", credential.TokenOf(got).AccessToken)
	assert.Zero(t, *f.hits)
}

func TestLoad_ExpiredCredentialRefreshesAndPersists(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		writeTokenResponse(w, "t2", 3600)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(-time.Minute))))

	got, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	require.NoError(t, err)

	tok := credential.TokenOf(got)
	assert.Equal(t, "t2", tok.AccessToken)
	assert.Equal(t, t0.Add(time.Hour), tok.Expiry)

	// On-disk record reflects the new token.
	data, err := os.ReadFile(f.paths.RecordPath("alice@example.com"))
	require.NoError(t, err)
	rec, err := credential.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "t2", credential.TokenOf(rec.Credential).AccessToken)

	// Legacy helper still carries the same refresh token.
	boto, err := os.ReadFile(f.paths.LegacyBotoPath("alice@example.com"))
	require.NoError(t, err)
	assert.Contains(t, string(boto), "gs_oauth2_refresh_token = rt-1")
}

func TestLoad_FreshnessProperty(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeTokenResponse(w, "t2", 3600)
	})
	ctx := context.Background()

	// Valid for 10m but the caller demands 30m.
	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(10*time.Minute))))

	got, err := f.store.Load(ctx, "alice@example.com", LoadOptions{MinValidity: 30 * time.Minute})
	require.NoError(t, err)
	assert.True(t, credential.TokenOf(got).Expiry.Sub(f.clock.Now()) >= 30*time.Minute)
}

func TestLoad_PreventRefreshReturnsStaleVerbatim(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected HTTP call with PreventRefresh")
	})
	ctx := context.Background()

	stale := userCred(t0.Add(-time.Hour))
	require.NoError(t, f.store.Save(ctx, "alice@example.com", stale))

	got, err := f.store.Load(ctx, "alice@example.com", LoadOptions{PreventRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, "t1", credential.TokenOf(got).AccessToken)
	assert.Equal(t, stale.Token.Expiry, credential.TokenOf(got).Expiry)
}

type fakeElevator struct {
	rapt string
	err  error
}

func (f *fakeElevator) Elevate(ctx context.Context, cred *credential.UserAccount) (string, error) {
	return f.rapt, f.err
}

func TestLoad_ReauthChallengeThenSuccess(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("rapt") == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_subtype":"rapt_required"}`)
			return
		}
		assert.Equal(t, "r1", r.Form.Get("rapt"))
		writeTokenResponse(w, "t3", 3600)
	})
	f.engine.Reauth = &fakeElevator{rapt: "r1"}
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(-time.Minute))))

	got, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, "t3", credential.TokenOf(got).AccessToken)

	data, err := os.ReadFile(f.paths.RecordPath("alice@example.com"))
	require.NoError(t, err)
	rec, err := credential.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Credential.(*credential.UserAccount).RaptToken)
	assert.Equal(t, "t3", credential.TokenOf(rec.Credential).AccessToken)
}

func TestLoad_RevokedServerSideDeletesRecord(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(-time.Minute))))

	_, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	var revoked *RevokedError
	require.ErrorAs(t, err, &revoked)
	assert.Equal(t, "alice@example.com", revoked.Account)

	_, err = f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrNoSuchAccount)
	assert.NoFileExists(t, f.paths.LegacyBotoPath("alice@example.com"))
}

func serviceAccountPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func TestLoad_ServiceAccountKeyRefresh(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.NotEmpty(t, r.Form.Get("assertion"))
		writeTokenResponse(w, "sa1", 3600)
	})
	ctx := context.Background()

	pemKey := serviceAccountPEM(t)
	sa := &credential.ServiceAccountKey{
		ClientEmail:   "svc@proj.iam.example.com",
		ClientID:      "12345",
		PrivateKeyID:  "kid-1",
		PrivateKeyPEM: pemKey,
		Scopes:        []string{"cloud"},
	}
	require.NoError(t, f.store.Save(ctx, "svc@proj.iam.example.com", sa))

	got, err := f.store.Load(ctx, "svc@proj.iam.example.com", DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, "sa1", credential.TokenOf(got).AccessToken)

	// Derived ADC carries the original private key.
	adc, err := os.ReadFile(f.paths.LegacyADCPath("svc@proj.iam.example.com"))
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(adc, &fields))
	assert.Equal(t, "service_account", fields["type"])
	assert.Equal(t, pemKey, fields["private_key"])
}

func TestRevoke_AlreadyRevoked(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/revoke"))
		assert.Equal(t, "rt-1", r.URL.Query().Get("token"))
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_token"}`)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(time.Hour))))

	serverRevoked, err := f.store.Revoke(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, serverRevoked)

	_, err = f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrNoSuchAccount)
}

func TestRevoke_Success(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(time.Hour))))

	serverRevoked, err := f.store.Revoke(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, serverRevoked)
	assert.NoFileExists(t, f.paths.RecordPath("alice@example.com"))
	assert.NoDirExists(t, f.paths.LegacyDir("alice@example.com"))
}

func TestRevoke_TransportErrorCarriesNoToken(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	cred := userCred(t0.Add(time.Hour))
	cred.RefreshToken = "rt-supersecret"
	require.NoError(t, f.store.Save(ctx, "alice@example.com", cred))

	// Nothing listens on port 1; every revoke POST fails at dial time.
	f.store.revokeURL = "http://127.0.0.1:1/revoke"

	_, err := f.store.Revoke(ctx, "alice@example.com")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "rt-supersecret")
	assert.Contains(t, err.Error(), "http://127.0.0.1:1/revoke")

	// Local state survives a failed server call.
	_, err = f.store.Load(ctx, "alice@example.com", LoadOptions{PreventRefresh: true})
	require.NoError(t, err)
}

func TestRevoke_HostedShellRejected(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no HTTP call expected")
	})
	f.store.hosted = func() bool { return true }

	_, err := f.store.Revoke(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrRevokeInHostedShell)
}

func TestRevoke_UnknownAccount(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.store.Revoke(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNoSuchAccount)
}

func TestSave_RejectsInvalidCredential(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	cred := userCred(t0)
	cred.RefreshToken = ""

	err := f.store.Save(context.Background(), "alice@example.com", cred)
	var mfe *credential.MissingFieldError
	require.ErrorAs(t, err, &mfe)
}

func TestDeleteLocal_Idempotent(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(time.Hour))))
	require.NoError(t, f.store.DeleteLocal(ctx, "alice@example.com"))
	require.NoError(t, f.store.DeleteLocal(ctx, "alice@example.com"))

	_, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrNoSuchAccount)
}

func TestLoad_ShortMintedTokenFailsValidityWindow(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeTokenResponse(w, "t2", 60)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(-time.Minute))))

	_, err := f.store.Load(ctx, "alice@example.com", LoadOptions{MinValidity: 30 * time.Minute})
	var rfe *RefreshFailedError
	require.ErrorAs(t, err, &rfe)
	assert.Equal(t, "alice@example.com", rfe.Account)

	// The refresh itself succeeded; the minted token is still persisted
	// even though this load could not honor the demanded window.
	got, err := f.store.Load(ctx, "alice@example.com", LoadOptions{PreventRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, "t2", credential.TokenOf(got).AccessToken)
	assert.EqualValues(t, 1, *f.hits)
}

func TestFlightKey_ScopedByRefreshOptions(t *testing.T) {
	base := flightKey("alice@example.com", LoadOptions{})
	assert.Equal(t, "alice@example.com", base)

	withAud := flightKey("alice@example.com", LoadOptions{
		Refresh: refresh.Options{IDTokenAudience: "https://svc.example.com"},
	})
	withFormat := flightKey("alice@example.com", LoadOptions{
		Refresh: refresh.Options{TokenFormat: "full"},
	})
	withLicense := flightKey("alice@example.com", LoadOptions{
		Refresh: refresh.Options{TokenFormat: "full", IncludeLicense: true},
	})

	keys := []string{base, withAud, withFormat, withLicense}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.False(t, seen[k], "flight key %q reused across differing refresh options", k)
		seen[k] = true
	}
}

func TestList_SortedAndEmptyStore(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	accounts, err := f.store.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, f.store.Save(ctx, "zoe@example.com", userCred(t0.Add(time.Hour))))
	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(time.Hour))))

	accounts, err = f.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "zoe@example.com"}, accounts)
}

func TestList_SkipsMalformedRecords(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "alice@example.com", userCred(t0.Add(time.Hour))))
	require.NoError(t, os.WriteFile(f.paths.RecordPath("mallory@example.com"), []byte("{broken"), 0o600))

	accounts, err := f.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, accounts)
}

func TestLoad_MalformedRecord(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, os.MkdirAll(f.paths.CredentialsDir(), 0o700))
	require.NoError(t, os.WriteFile(f.paths.RecordPath("alice@example.com"), []byte("{broken"), 0o600))

	_, err := f.store.Load(context.Background(), "alice@example.com", DefaultLoadOptions())
	assert.ErrorIs(t, err, ErrMalformedStore)
}

func TestConcurrentSaves_OneWinnerNoCorruption(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()

	c1 := userCred(t0.Add(time.Hour))
	c1.RefreshToken = "rt-one"
	c2 := userCred(t0.Add(time.Hour))
	c2.RefreshToken = "rt-two"

	var wg sync.WaitGroup
	for _, c := range []*credential.UserAccount{c1, c2} {
		wg.Add(1)
		go func(c *credential.UserAccount) {
			defer wg.Done()
			assert.NoError(t, f.store.Save(ctx, "bob@example.com", c))
		}(c)
	}
	wg.Wait()

	got, err := f.store.Load(ctx, "bob@example.com", LoadOptions{PreventRefresh: true})
	require.NoError(t, err)
	winner := got.(*credential.UserAccount).RefreshToken
	assert.Contains(t, []string{"rt-one", "rt-two"}, winner)

	// Legacy files match the winning canonical record.
	boto, err := os.ReadFile(f.paths.LegacyBotoPath("bob@example.com"))
	require.NoError(t, err)
	assert.Contains(t, string(boto), "gs_oauth2_refresh_token = "+winner)
}

func TestConcurrentLoads_SingleRefreshCall(t *testing.T) {
	var mu sync.Mutex
	tokenCalls := 0
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokenCalls++
		mu.Unlock()
		writeTokenResponse(w, "t2", 3600)
	})
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "bob@example.com", userCred(t0.Add(-time.Minute))))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.store.Load(ctx, "bob@example.com", DefaultLoadOptions())
			assert.NoError(t, err)
			assert.Equal(t, "t2", credential.TokenOf(got).AccessToken)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, tokenCalls)
}

func TestErrors_CarryNoSecretMaterial(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	ctx := context.Background()

	cred := userCred(t0.Add(-time.Minute))
	require.NoError(t, f.store.Save(ctx, "alice@example.com", cred))

	_, err := f.store.Load(ctx, "alice@example.com", DefaultLoadOptions())
	require.Error(t, err)
	for _, secret := range []string{"rt-1", "t1", "csecret"} {
		assert.NotContains(t, err.Error(), secret)
	}
}
