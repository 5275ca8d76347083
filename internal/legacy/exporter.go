// Package legacy derives the per-account credential files consumed by
// sibling tools: an application-default-credentials JSON, a gsutil
// .boto INI, and (for P12 service accounts) the raw key file. The
// canonical record is authoritative; these are rewritten on every save.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schmitthub/credkeep/internal/config"
	"github.com/schmitthub/credkeep/internal/credential"
)

// ErrUnsupportedExport is returned for variants with no legacy
// representation (instance metadata, devshell). No files are written.
var ErrUnsupportedExport = errors.New("credential variant has no legacy representation")

// Exporter writes legacy artifacts under the configured root.
type Exporter struct {
	paths config.Paths
}

// NewExporter creates an Exporter deriving paths from paths.
func NewExporter(paths config.Paths) *Exporter {
	return &Exporter{paths: paths}
}

type artifact struct {
	path string
	data []byte
}

// Staged holds fsynced temp files ready to be renamed over their
// destinations. Either Commit or Abort must be called.
type Staged struct {
	tmps    []string
	dsts    []string
	prune   []string
	aborted bool
}

// Stage prepares the full artifact set for a record without touching
// any destination file. It fails with ErrUnsupportedExport for
// variants that have no legacy form.
func (e *Exporter) Stage(rec *credential.Record) (*Staged, error) {
	arts, prune, err := e.artifacts(rec)
	if err != nil {
		return nil, err
	}

	dir := e.paths.LegacyDir(rec.Account)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating legacy directory for %s: %w", rec.Account, err)
	}

	st := &Staged{prune: prune}
	for _, a := range arts {
		tmp, err := stageFile(dir, a.data)
		if err != nil {
			st.Abort()
			return nil, err
		}
		st.tmps = append(st.tmps, tmp)
		st.dsts = append(st.dsts, a.path)
	}
	return st, nil
}

// Commit renames every staged temp over its destination and removes
// artifacts the new variant no longer produces.
func (s *Staged) Commit() error {
	if s.aborted {
		return errors.New("legacy export already aborted")
	}
	for i, tmp := range s.tmps {
		if err := os.Rename(tmp, s.dsts[i]); err != nil {
			s.Abort()
			return fmt.Errorf("renaming legacy file to %s: %w", s.dsts[i], err)
		}
		s.tmps[i] = ""
	}
	for _, stale := range s.prune {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale legacy file %s: %w", stale, err)
		}
	}
	return nil
}

// Abort removes any staged temp files, leaving destinations untouched.
func (s *Staged) Abort() {
	s.aborted = true
	for _, tmp := range s.tmps {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
	}
	s.tmps = nil
}

// Export stages and commits in one step.
func (e *Exporter) Export(rec *credential.Record) error {
	st, err := e.Stage(rec)
	if err != nil {
		return err
	}
	return st.Commit()
}

// Remove deletes the account's legacy directory. Idempotent.
func (e *Exporter) Remove(account string) error {
	return os.RemoveAll(e.paths.LegacyDir(account))
}

// artifacts builds the artifact set for the record's variant and the
// list of per-variant artifacts that must not survive the export.
func (e *Exporter) artifacts(rec *credential.Record) ([]artifact, []string, error) {
	adcPath := e.paths.LegacyADCPath(rec.Account)
	botoPath := e.paths.LegacyBotoPath(rec.Account)
	p12Path := e.paths.LegacyP12Path(rec.Account)

	switch c := rec.Credential.(type) {
	case *credential.UserAccount:
		adc, err := adcJSON(map[string]string{
			"type":          "authorized_user",
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
			"refresh_token": c.RefreshToken,
		})
		if err != nil {
			return nil, nil, err
		}
		boto := fmt.Sprintf("[OAuth2]\nclient_id = %s\nclient_secret = %s\n\n[Credentials]\ngs_oauth2_refresh_token = %s\n",
			c.ClientID, c.ClientSecret, c.RefreshToken)
		return []artifact{
			{adcPath, adc},
			{botoPath, []byte(boto)},
		}, []string{p12Path}, nil

	case *credential.ServiceAccountKey:
		adc, err := adcJSON(map[string]string{
			"type":           "service_account",
			"client_email":   c.ClientEmail,
			"client_id":      c.ClientID,
			"private_key":    c.PrivateKeyPEM,
			"private_key_id": c.PrivateKeyID,
		})
		if err != nil {
			return nil, nil, err
		}
		boto := fmt.Sprintf("[Credentials]\ngs_service_key_file = %s\n", adcPath)
		return []artifact{
			{adcPath, adc},
			{botoPath, []byte(boto)},
		}, []string{p12Path}, nil

	case *credential.ServiceAccountP12:
		boto := fmt.Sprintf("[Credentials]\ngs_service_client_id = %s\ngs_service_key_file = %s\ngs_service_key_file_password = %s\n",
			c.ClientEmail, p12Path, c.KeyPassword)
		return []artifact{
			{botoPath, []byte(boto)},
			{p12Path, c.KeyP12},
		}, []string{adcPath}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedExport, rec.Credential.Type())
	}
}

func adcJSON(fields map[string]string) ([]byte, error) {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding adc file: %w", err)
	}
	return append(data, '\n'), nil
}

// stageFile writes data to an fsynced 0600 temp file in dir.
func stageFile(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".credkeep-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating legacy temp file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("writing legacy temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("syncing legacy temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("closing legacy temp file: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("setting permissions on legacy temp file: %w", err)
	}
	return name, nil
}
