// Package credential resolves the bot tokens of the fleet's workers.
//
// Two sources exist: [FileSource] reads the workers declared in the config
// file, [PostgresSource] reads the active rows of the bots table. Encrypted
// tokens are age ciphertexts decrypted with an X25519 identity file by
// [AgeDecrypter]. This package only reads credentials; it never stores or
// encrypts them.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/starcommander/internal/config"
)

// ErrNoDecrypter is returned for an encrypted token when no identity is
// configured.
var ErrNoDecrypter = errors.New("credential: encrypted token but no age identity configured")

// Credential is one worker the fleet should run.
type Credential struct {
	WorkerID string
	Kind     config.WorkerKind
	Token    string
}

// String hides the token.
func (c Credential) String() string {
	return fmt.Sprintf("%s (%s)", c.WorkerID, c.Kind)
}

// Source lists worker credentials.
//
// Credentials returns every credential it could resolve. Failures for
// individual workers are joined into the error, so a non-nil error can
// accompany a non-empty result.
type Source interface {
	Credentials(ctx context.Context) ([]Credential, error)
}

// Decrypter turns a stored ciphertext into a token.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Lookup returns the credential of workerID from creds.
func Lookup(creds []Credential, workerID string) (Credential, bool) {
	for _, c := range creds {
		if c.WorkerID == workerID {
			return c, true
		}
	}
	return Credential{}, false
}

// FromConfig returns the source selected by cfg. The returned close
// function releases database connections and must be called once the
// source is no longer used.
func FromConfig(ctx context.Context, cfg *config.Config) (Source, func(), error) {
	var dec Decrypter
	if cfg.Credentials.AgeIdentityFile != "" {
		d, err := LoadAgeIdentity(cfg.Credentials.AgeIdentityFile)
		if err != nil {
			return nil, nil, err
		}
		dec = d
	}

	switch cfg.Credentials.Source {
	case config.CredentialsPostgres:
		pg, err := OpenPostgres(ctx, cfg.Credentials.PostgresDSN, dec)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case config.CredentialsFile, "":
		return &FileSource{Workers: cfg.Workers, Decrypter: dec}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("credential: unknown source %q", cfg.Credentials.Source)
}
