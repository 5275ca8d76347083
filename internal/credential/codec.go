package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedBlob indicates the blob is not valid JSON.
	ErrMalformedBlob = errors.New("malformed credential blob")
	// ErrUnknownVariant indicates the blob carries no type discriminator
	// and no field-signature inference matched.
	ErrUnknownVariant = errors.New("unknown credential variant")
)

// MissingFieldError indicates a blob matched a variant but violates
// the variant's schema.
type MissingFieldError struct {
	Variant Type
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("credential of type %q is missing required field %q", e.Variant, e.Field)
}

// wire is the superset of all variant fields in the canonical on-disk
// JSON form. Absent fields are omitted; the expiry is RFC 3339.
type wire struct {
	Type Type `json:"type,omitempty"`

	// UserAccount
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RaptToken    string `json:"rapt_token,omitempty"`

	// Service accounts
	ClientEmail        string `json:"client_email,omitempty"`
	PrivateKeyID       string `json:"private_key_id,omitempty"`
	PrivateKey         string `json:"private_key,omitempty"`
	PrivateKeyP12      string `json:"private_key_p12,omitempty"`
	PrivateKeyPassword string `json:"private_key_password,omitempty"`
	ProjectID          string `json:"project_id,omitempty"`

	// InstanceMetadata
	ServiceAccountName string `json:"service_account_name,omitempty"`

	// DevShell
	Address string `json:"devshell_address,omitempty"`

	TokenURL string   `json:"token_uri,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`

	AccessToken string     `json:"access_token,omitempty"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	IDToken     string     `json:"id_token,omitempty"`
}

func (w *wire) token() Token {
	tok := Token{AccessToken: w.AccessToken, IDToken: w.IDToken}
	if w.Expiry != nil {
		tok.Expiry = w.Expiry.UTC()
	}
	return tok
}

func (w *wire) setToken(tok Token) {
	w.AccessToken = tok.AccessToken
	w.IDToken = tok.IDToken
	if !tok.Expiry.IsZero() {
		utc := tok.Expiry.UTC()
		w.Expiry = &utc
	}
}

// Encode serializes a credential to its canonical JSON form. Scope
// sets are normalized so equal credentials encode to equal bytes.
func Encode(c Credential) ([]byte, error) {
	w := wire{Type: c.Type(), Scopes: NormalizeScopes(ScopesOf(c))}
	w.setToken(*TokenOf(c))

	switch v := c.(type) {
	case *UserAccount:
		w.ClientID = v.ClientID
		w.ClientSecret = v.ClientSecret
		w.RefreshToken = v.RefreshToken
		w.RaptToken = v.RaptToken
		w.TokenURL = v.TokenURL
	case *ServiceAccountKey:
		w.ClientEmail = v.ClientEmail
		w.ClientID = v.ClientID
		w.PrivateKeyID = v.PrivateKeyID
		w.PrivateKey = v.PrivateKeyPEM
		w.ProjectID = v.ProjectID
		w.TokenURL = v.TokenURL
	case *ServiceAccountP12:
		w.ClientEmail = v.ClientEmail
		w.PrivateKeyP12 = base64.StdEncoding.EncodeToString(v.KeyP12)
		w.PrivateKeyPassword = v.KeyPassword
		w.TokenURL = v.TokenURL
	case *InstanceMetadata:
		w.ServiceAccountName = v.ServiceAccount
	case *DevShell:
		w.Address = v.Address
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, c)
	}

	return json.MarshalIndent(&w, "", "  ")
}

// Decode parses a canonical or foreign JSON blob into a credential.
// Blobs without a type discriminator (e.g. raw service-account key
// files, ADC files) are classified by field signature.
func Decode(data []byte) (Credential, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}

	typ := w.Type
	if typ == "" {
		typ = inferType(&w)
		if typ == "" {
			return nil, ErrUnknownVariant
		}
	}

	switch typ {
	case TypeUserAccount:
		c := &UserAccount{
			ClientID:     w.ClientID,
			ClientSecret: w.ClientSecret,
			RefreshToken: w.RefreshToken,
			RaptToken:    w.RaptToken,
			TokenURL:     w.TokenURL,
			Scopes:       w.Scopes,
			Token:        w.token(),
		}
		return c, Validate(c)
	case TypeServiceAccountKey:
		c := &ServiceAccountKey{
			ClientEmail:   w.ClientEmail,
			ClientID:      w.ClientID,
			PrivateKeyID:  w.PrivateKeyID,
			PrivateKeyPEM: w.PrivateKey,
			ProjectID:     w.ProjectID,
			TokenURL:      w.TokenURL,
			Scopes:        w.Scopes,
			Token:         w.token(),
		}
		return c, Validate(c)
	case TypeServiceAccountP12:
		key, err := base64.StdEncoding.DecodeString(w.PrivateKeyP12)
		if err != nil {
			return nil, fmt.Errorf("%w: bad private_key_p12 encoding", ErrMalformedBlob)
		}
		c := &ServiceAccountP12{
			ClientEmail: w.ClientEmail,
			KeyP12:      key,
			KeyPassword: w.PrivateKeyPassword,
			TokenURL:    w.TokenURL,
			Scopes:      w.Scopes,
			Token:       w.token(),
		}
		return c, Validate(c)
	case TypeInstanceMetadata:
		c := &InstanceMetadata{
			ServiceAccount: w.ServiceAccountName,
			Scopes:         w.Scopes,
			Token:          w.token(),
		}
		return c, Validate(c)
	case TypeDevShell:
		return &DevShell{Address: w.Address, Token: w.token()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, typ)
	}
}

// Classify decodes just enough of a blob to tag its variant.
func Classify(data []byte) (Type, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if w.Type != "" {
		switch w.Type {
		case TypeUserAccount, TypeServiceAccountKey, TypeServiceAccountP12,
			TypeInstanceMetadata, TypeDevShell:
			return w.Type, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, w.Type)
	}
	if typ := inferType(&w); typ != "" {
		return typ, nil
	}
	return "", ErrUnknownVariant
}

// inferType recognizes discriminator-less blobs by field signature:
// a PEM private key marks a service-account key file, PKCS#12 material
// marks a P12 credential, a refresh token with a client secret marks
// an authorized user, a bare service account name marks metadata.
func inferType(w *wire) Type {
	switch {
	case w.PrivateKey != "":
		return TypeServiceAccountKey
	case w.PrivateKeyP12 != "":
		return TypeServiceAccountP12
	case w.RefreshToken != "" && w.ClientSecret != "":
		return TypeUserAccount
	case w.ServiceAccountName != "":
		return TypeInstanceMetadata
	case w.Address != "":
		return TypeDevShell
	}
	return ""
}

// Validate checks that the credential carries every field its variant
// requires.
func Validate(c Credential) error {
	switch v := c.(type) {
	case *UserAccount:
		if v.RefreshToken == "" {
			return &MissingFieldError{Variant: TypeUserAccount, Field: "refresh_token"}
		}
		if v.ClientID == "" {
			return &MissingFieldError{Variant: TypeUserAccount, Field: "client_id"}
		}
	case *ServiceAccountKey:
		if v.ClientEmail == "" {
			return &MissingFieldError{Variant: TypeServiceAccountKey, Field: "client_email"}
		}
		if v.PrivateKeyPEM == "" {
			return &MissingFieldError{Variant: TypeServiceAccountKey, Field: "private_key"}
		}
		if v.PrivateKeyID == "" {
			return &MissingFieldError{Variant: TypeServiceAccountKey, Field: "private_key_id"}
		}
	case *ServiceAccountP12:
		if v.ClientEmail == "" {
			return &MissingFieldError{Variant: TypeServiceAccountP12, Field: "client_email"}
		}
		if len(v.KeyP12) == 0 {
			return &MissingFieldError{Variant: TypeServiceAccountP12, Field: "private_key_p12"}
		}
	case *InstanceMetadata:
		if v.ServiceAccount == "" {
			return &MissingFieldError{Variant: TypeInstanceMetadata, Field: "service_account_name"}
		}
	case *DevShell:
		// Nothing required; the endpoint may come from the environment.
	}
	return nil
}

// recordWire is the persisted record envelope.
type recordWire struct {
	Account    string          `json:"account"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Credential json.RawMessage `json:"credential"`
}

// EncodeRecord serializes a record envelope around the canonical
// credential form.
func EncodeRecord(r *Record) ([]byte, error) {
	cred, err := Encode(r.Credential)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(&recordWire{
		Account:    r.Account,
		UpdatedAt:  r.UpdatedAt.UTC(),
		Credential: cred,
	}, "", "  ")
}

// DecodeRecord parses a record envelope.
func DecodeRecord(data []byte) (*Record, error) {
	var rw recordWire
	if err := json.Unmarshal(data, &rw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if rw.Account == "" {
		return nil, fmt.Errorf("%w: record has no account", ErrMalformedBlob)
	}
	cred, err := Decode(rw.Credential)
	if err != nil {
		return nil, err
	}
	return &Record{Account: rw.Account, Credential: cred, UpdatedAt: rw.UpdatedAt}, nil
}
