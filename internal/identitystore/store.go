// Package identitystore reads and writes identity.secret / identity.public files.
package identitystore

import (
	"errors"
	"fmt"
	"strings"

	"ztid/go-backend/internal/identity"
	"ztid/go-backend/internal/securestore"
)

var (
	ErrPassphraseRequired = errors.New("identity file is sealed and no passphrase is configured")
	ErrNoSecretKey        = errors.New("identity has no secret key to store")
	ErrPathRequired       = errors.New("identity path is required")
)

// Store locates identity files. The paths come from configuration; nothing is hardcoded here.
type Store struct {
	SecretPath string
	PublicPath string
	// Passphrase seals the secret file when set. Sealed files cannot be read without it.
	Passphrase string
}

func New(secretPath, publicPath, passphrase string) *Store {
	return &Store{
		SecretPath: strings.TrimSpace(secretPath),
		PublicPath: strings.TrimSpace(publicPath),
		Passphrase: passphrase,
	}
}

// Read loads the secret identity record, plain or sealed.
func (s *Store) Read() (identity.Identity, error) {
	return readPath(s.SecretPath, s.Passphrase)
}

// ReadPublic loads the public record. It falls back to the secret file, minus its secret key,
// when no public path is configured.
func (s *Store) ReadPublic() (identity.Identity, error) {
	if s.PublicPath == "" {
		id, err := s.Read()
		if err != nil {
			return identity.Identity{}, err
		}
		return id.PublicOnly(), nil
	}
	return readPath(s.PublicPath, "")
}

// Write stores the secret record (0600) and, if configured, the public record (0644).
func (s *Store) Write(id identity.Identity) error {
	if s.SecretPath == "" {
		return ErrPathRequired
	}
	if !id.HasSecretKey() {
		return ErrNoSecretKey
	}
	record := []byte(id.Text(true) + "\n")
	if s.Passphrase != "" {
		sealed, err := securestore.Seal(s.Passphrase, record)
		zero(record)
		if err != nil {
			return fmt.Errorf("seal identity: %w", err)
		}
		record = sealed
	}
	if err := securestore.WriteFileAtomic(s.SecretPath, record, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.SecretPath, err)
	}
	zero(record)
	if s.PublicPath == "" {
		return nil
	}
	if err := securestore.WriteFileAtomic(s.PublicPath, []byte(id.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.PublicPath, err)
	}
	return nil
}

// ReadFile parses the identity at path; sealed files need passphrase.
func ReadFile(path, passphrase string) (identity.Identity, error) {
	return readPath(strings.TrimSpace(path), passphrase)
}

func readPath(path, passphrase string) (identity.Identity, error) {
	if path == "" {
		return identity.Identity{}, ErrPathRequired
	}
	raw, sealed, err := securestore.ReadFile(path, passphrase)
	if err != nil {
		if sealed && errors.Is(err, securestore.ErrPassphraseRequired) {
			return identity.Identity{}, ErrPassphraseRequired
		}
		return identity.Identity{}, fmt.Errorf("read %s: %w", path, err)
	}
	defer zero(raw)
	id, err := identity.ParseIdentity(string(raw))
	if err != nil {
		return identity.Identity{}, fmt.Errorf("read %s: %w", path, err)
	}
	return id, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
