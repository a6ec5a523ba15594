package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MrWong99/starcommander/internal/config"
)

// FileSource resolves the workers declared in the config file.
type FileSource struct {
	Workers []config.WorkerConfig

	// Decrypter handles token_encrypted. May be nil when no worker uses it.
	Decrypter Decrypter

	// Getenv and ReadFile default to os.Getenv and os.ReadFile.
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
}

// Credentials implements [Source].
func (s *FileSource) Credentials(context.Context) ([]Credential, error) {
	out := make([]Credential, 0, len(s.Workers))
	var errs []error
	for _, w := range s.Workers {
		tok, err := s.token(w)
		if err != nil {
			errs = append(errs, fmt.Errorf("credential: worker %s: %w", w.ID, err))
			continue
		}
		out = append(out, Credential{WorkerID: w.ID, Kind: w.Kind, Token: tok})
	}
	return out, errors.Join(errs...)
}

func (s *FileSource) token(w config.WorkerConfig) (string, error) {
	var tok string
	switch {
	case w.Token != "":
		tok = w.Token
	case w.TokenEnv != "":
		getenv := s.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		tok = getenv(w.TokenEnv)
		if tok == "" {
			return "", fmt.Errorf("environment variable %s is empty", w.TokenEnv)
		}
	case w.TokenFile != "":
		read := s.ReadFile
		if read == nil {
			read = os.ReadFile
		}
		b, err := read(w.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		tok = string(b)
	case w.TokenEncrypted != "":
		if s.Decrypter == nil {
			return "", ErrNoDecrypter
		}
		return s.Decrypter.Decrypt(w.TokenEncrypted)
	default:
		return "", errors.New("no token configured")
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errors.New("token is empty")
	}
	return tok, nil
}
