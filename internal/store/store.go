// Package store is the persistent per-account credential store and
// the policy layer above it: freshness-gated loads, serialized saves,
// legacy-file derivation, and revocation.
//
// Layout under the configuration root: one canonical record file per
// account plus a sibling lock file, and a legacy_credentials tree of
// derived artifacts. Records are replaced atomically, so readers are
// lock-free; writers serialize per account through an in-process
// mutex (goroutines) and an advisory file lock (processes).
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/schmitthub/credkeep/internal/clock"
	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
	"github.com/schmitthub/credkeep/internal/filelock"
	"github.com/schmitthub/credkeep/internal/legacy"
	"github.com/schmitthub/credkeep/internal/logger"
	"github.com/schmitthub/credkeep/internal/reauth"
	"github.com/schmitthub/credkeep/internal/refresh"
	"github.com/schmitthub/credkeep/internal/transport"
)

// defaultLockWait bounds how long a writer waits for another process
// to release an account's lock.
const defaultLockWait = 10 * time.Second

// Config wires a Store's collaborators.
type Config struct {
	Paths     config.Paths
	Clock     clock.Clock
	Engine    *refresh.Engine
	Exporter  *legacy.Exporter
	HTTP      transport.Doer
	RevokeURL string
	// LockWait overrides the per-account lock wait budget.
	LockWait time.Duration
	// InHostedShell marks the hosted-shell environment, where Revoke
	// is not allowed. Defaults to detection via DEVSHELL_CLIENT_PORT.
	InHostedShell func() bool
}

// Store is the persistent mapping from account to credential record.
type Store struct {
	paths     config.Paths
	clock     clock.Clock
	engine    *refresh.Engine
	exporter  *legacy.Exporter
	http      transport.Doer
	revokeURL string
	gate      FreshnessGate
	lockWait  time.Duration
	hosted    func() bool

	// sf collapses concurrent refreshes of one account into a single
	// token-endpoint call.
	sf singleflight.Group

	// accountMu serializes same-account mutation within this process;
	// the file lock serializes across processes.
	mu        sync.Mutex
	accountMu map[string]*sync.Mutex
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	return &Store{
		paths:     cfg.Paths,
		clock:     cfg.Clock,
		engine:    cfg.Engine,
		exporter:  cfg.Exporter,
		http:      cfg.HTTP,
		revokeURL: cfg.RevokeURL,
		gate:      NewFreshnessGate(cfg.Clock),
		lockWait:  cfg.LockWait,
		hosted:    cfg.InHostedShell,
		accountMu: map[string]*sync.Mutex{},
	}
}

// LoadOptions control Load.
type LoadOptions struct {
	// PreventRefresh returns the stored credential verbatim, bypassing
	// the freshness gate. Never mutates the record.
	PreventRefresh bool
	// MinValidity is the freshness margin; zero refreshes only when
	// already expired, negative is rejected.
	MinValidity time.Duration
	// Refresh carries per-call refresh options (id-token minting).
	Refresh refresh.Options
}

// DefaultLoadOptions returns the options most callers want: refresh
// when the credential would be invalid within the default margin.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{MinValidity: DefaultMinValidity}
}

// List returns all locally stored accounts in lexicographic order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.paths.CredentialsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing credential store: %w", err)
	}

	var accounts []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, config.RecordFileExt) {
			continue
		}
		rec, err := s.readPath(filepath.Join(s.paths.CredentialsDir(), name))
		if err != nil {
			// One corrupt record must not hide every other account.
			logger.Warn().Str("file", name).Err(err).Msg("skipping undecodable credential record")
			continue
		}
		accounts = append(accounts, rec.Account)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// Load returns the credential for account, refreshing it first when
// the freshness gate demands it. A refreshed credential is persisted
// before Load returns, so callers never hold a token that is not on
// disk.
func (s *Store) Load(ctx context.Context, account string, opts LoadOptions) (credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.read(account)
	if err != nil {
		return nil, err
	}
	if opts.PreventRefresh {
		return rec.Credential, nil
	}

	needs, err := s.gate.NeedsRefresh(rec.Credential, opts.MinValidity)
	if err != nil {
		return nil, err
	}
	if !needs {
		return rec.Credential, nil
	}

	v, err, _ := s.sf.Do(flightKey(account, opts), func() (any, error) {
		return s.refreshAndPersist(ctx, account, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(credential.Credential), nil
}

// flightKey scopes refresh deduplication. Loads demanding different
// refresh products (an id token for some audience, a different token
// format) must not be folded into one flight.
func flightKey(account string, opts LoadOptions) string {
	r := opts.Refresh
	if r == (refresh.Options{}) {
		return account
	}
	return fmt.Sprintf("%s\x00%s\x00%s\x00%t", account, r.IDTokenAudience, r.TokenFormat, r.IncludeLicense)
}

// refreshAndPersist re-reads under the account lock, refreshes if the
// record is still stale, and commits canonical plus legacy state.
func (s *Store) refreshAndPersist(ctx context.Context, account string, opts LoadOptions) (credential.Credential, error) {
	unlock, err := s.lockAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.read(account)
	if err != nil {
		return nil, err
	}

	// Another process may have refreshed while we waited for the lock.
	needs, err := s.gate.NeedsRefresh(rec.Credential, opts.MinValidity)
	if err != nil {
		return nil, err
	}
	if !needs {
		return rec.Credential, nil
	}

	if err := s.engine.Refresh(ctx, rec.Credential, opts.Refresh); err != nil {
		return nil, s.mapRefreshError(ctx, account, err)
	}

	rec.UpdatedAt = s.clock.Now().UTC()
	if err := s.persistLocked(rec); err != nil {
		return nil, err
	}

	// A server may mint a token shorter than the demanded window. The
	// refreshed record is kept, but the load must not claim a validity
	// it cannot deliver. Tokens without a stated expiry are exempt;
	// there is no window to measure them against.
	if exp := credential.TokenOf(rec.Credential).Expiry; !exp.IsZero() {
		still, err := s.gate.NeedsRefresh(rec.Credential, opts.MinValidity)
		if err != nil {
			return nil, err
		}
		if still {
			return nil, &RefreshFailedError{
				Account: account,
				Err:     fmt.Errorf("minted token expires within the demanded validity window (%s)", opts.MinValidity),
			}
		}
	}

	logger.Info().Str("account", account).Msg("credential refreshed")
	return rec.Credential, nil
}

// mapRefreshError translates engine errors into the store's taxonomy,
// deleting the local record when the server declared it revoked.
func (s *Store) mapRefreshError(ctx context.Context, account string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, refresh.ErrRevoked):
		if delErr := s.deleteLocked(account); delErr != nil {
			logger.Warn().Str("account", account).Err(delErr).Msg("failed to delete revoked record")
		}
		return &RevokedError{Account: account}
	case errors.Is(err, reauth.ErrUserAborted):
		return &ReauthRequiredError{Account: account, Unrecoverable: true, Err: err}
	case errors.Is(err, reauth.ErrWebLoginRequired):
		return &ReauthRequiredError{Account: account, Err: err}
	default:
		return &RefreshFailedError{Account: account, Err: err}
	}
}

// Save upserts the record for account and rewrites its legacy files.
func (s *Store) Save(ctx context.Context, account string, cred credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account == "" {
		return errors.New("account must not be empty")
	}
	if err := credential.Validate(cred); err != nil {
		return err
	}

	unlock, err := s.lockAccount(ctx, account)
	if err != nil {
		return err
	}
	defer unlock()

	rec := &credential.Record{
		Account:    account,
		Credential: cred,
		UpdatedAt:  s.clock.Now().UTC(),
	}
	if err := s.persistLocked(rec); err != nil {
		return err
	}
	logger.Info().Str("account", account).Str("variant", string(cred.Type())).Msg("credential saved")
	return nil
}

// DeleteLocal removes the record and its legacy files. Idempotent.
func (s *Store) DeleteLocal(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock, err := s.lockAccount(ctx, account)
	if err != nil {
		return err
	}
	defer unlock()

	return s.deleteLocked(account)
}

func (s *Store) deleteLocked(account string) error {
	if err := os.Remove(s.paths.RecordPath(account)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting record for %s: %w", account, err)
	}
	if err := s.exporter.Remove(account); err != nil {
		return fmt.Errorf("deleting legacy files for %s: %w", account, err)
	}
	return nil
}

// persistLocked commits a record: legacy artifacts are staged first,
// the canonical record is replaced atomically, then the staged files
// are renamed into place. A failure before the canonical write leaves
// both sides untouched.
func (s *Store) persistLocked(rec *credential.Record) error {
	staged, err := s.exporter.Stage(rec)
	if err != nil && !errors.Is(err, legacy.ErrUnsupportedExport) {
		return fmt.Errorf("exporting legacy files for %s: %w", rec.Account, err)
	}

	data, encErr := credential.EncodeRecord(rec)
	if encErr != nil {
		if staged != nil {
			staged.Abort()
		}
		return encErr
	}
	if err := config.AtomicWriteFile(s.paths.RecordPath(rec.Account), data, 0o600); err != nil {
		if staged != nil {
			staged.Abort()
		}
		return err
	}

	if staged == nil {
		// Variant with no legacy form: make sure stale artifacts from a
		// previous variant do not linger.
		return s.exporter.Remove(rec.Account)
	}
	if err := staged.Commit(); err != nil {
		return fmt.Errorf("exporting legacy files for %s: %w", rec.Account, err)
	}
	return nil
}

// read fetches a record without taking the lock; record files are
// replaced atomically so a reader sees a committed record or none.
func (s *Store) read(account string) (*credential.Record, error) {
	rec, err := s.readPath(s.paths.RecordPath(account))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchAccount, account)
		}
		return nil, err
	}
	return rec, nil
}

func (s *Store) readPath(path string) (*credential.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := credential.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedStore, filepath.Base(path), err)
	}
	return rec, nil
}

// lockAccount serializes same-account mutation: in-process mutex
// first, then the cross-process file lock. The returned func releases
// both.
func (s *Store) lockAccount(ctx context.Context, account string) (func(), error) {
	s.mu.Lock()
	m, ok := s.accountMu[account]
	if !ok {
		m = &sync.Mutex{}
		s.accountMu[account] = m
	}
	s.mu.Unlock()

	m.Lock()

	if err := config.EnsureDir(s.paths.CredentialsDir()); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("creating credential store: %w", err)
	}

	guard, err := filelock.Acquire(ctx, s.paths.LockPath(account), s.lockWait)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		guard.Release()
		m.Unlock()
	}, nil
}
