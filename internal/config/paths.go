package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// RecordFileExt is the extension of canonical record files.
	RecordFileExt = ".json"
	// ADCFileName is the application-default-credentials artifact name.
	ADCFileName = "adc.json"
	// BotoFileName is the gsutil-compatible INI artifact name.
	BotoFileName = ".boto"
	// P12FileName is the raw PKCS#12 key artifact name.
	P12FileName = "key.p12"
)

// Paths derives per-account file locations under a configuration root.
// All derivations are pure and stable across process restarts.
type Paths struct {
	root string
}

// NewPaths creates a Paths rooted at the given configuration directory.
func NewPaths(root string) Paths {
	return Paths{root: root}
}

// Root returns the configuration root directory.
func (p Paths) Root() string { return p.root }

// CredentialsDir returns the directory holding canonical record files.
func (p Paths) CredentialsDir() string {
	return filepath.Join(p.root, CredentialsSubdir)
}

// RecordPath returns the canonical record file for an account.
func (p Paths) RecordPath(account string) string {
	return filepath.Join(p.CredentialsDir(), EscapeAccount(account)+RecordFileExt)
}

// LockPath returns the lock file guarding an account's record and its
// derived legacy artifacts.
func (p Paths) LockPath(account string) string {
	return filepath.Join(p.CredentialsDir(), EscapeAccount(account)+".lock")
}

// LegacyDir returns the directory holding an account's legacy artifacts.
func (p Paths) LegacyDir(account string) string {
	return filepath.Join(p.root, LegacySubdir, EscapeAccount(account))
}

// LegacyADCPath returns the application-default-credentials JSON path.
func (p Paths) LegacyADCPath(account string) string {
	return filepath.Join(p.LegacyDir(account), ADCFileName)
}

// LegacyBotoPath returns the gsutil INI path.
func (p Paths) LegacyBotoPath(account string) string {
	return filepath.Join(p.LegacyDir(account), BotoFileName)
}

// LegacyP12Path returns the raw PKCS#12 key path.
func (p Paths) LegacyP12Path(account string) string {
	return filepath.Join(p.LegacyDir(account), P12FileName)
}

// EscapeAccount maps an account identifier to a safe, deterministic
// file name component. Characters outside [A-Za-z0-9.@_-] are
// percent-encoded so identifiers cannot traverse directories, and "."
// / ".." cannot be produced (a lone dot escapes).
func EscapeAccount(account string) string {
	if account == "" || account == "." || account == ".." {
		return percentEncodeAll(account)
	}
	var b strings.Builder
	b.Grow(len(account))
	for i := 0; i < len(account); i++ {
		c := account[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.' || c == '@' || c == '_' || c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func percentEncodeAll(s string) string {
	if s == "" {
		return "%00"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, "%%%02X", s[i])
	}
	return b.String()
}
