package credential

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

// AgeDecrypter decrypts base64-encoded age ciphertexts.
type AgeDecrypter struct {
	identities []age.Identity
}

// NewAgeDecrypter returns a decrypter for identities.
func NewAgeDecrypter(identities ...age.Identity) *AgeDecrypter {
	return &AgeDecrypter{identities: identities}
}

// LoadAgeIdentity reads an identity file as written by age-keygen. Comment
// lines are ignored.
func LoadAgeIdentity(path string) (*AgeDecrypter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("credential: open age identity: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("credential: parse age identity %s: %w", path, err)
	}
	return NewAgeDecrypter(ids...), nil
}

// Decrypt implements [Decrypter]. Surrounding whitespace of the plaintext
// is trimmed.
func (d *AgeDecrypter) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("credential: decode ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), d.identities...)
	if err != nil {
		return "", fmt.Errorf("credential: decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("credential: read plaintext: %w", err)
	}
	return strings.TrimSpace(string(plain)), nil
}
