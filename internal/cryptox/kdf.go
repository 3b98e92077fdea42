// Package cryptox implements the vault's key derivation engine and the
// authenticated cipher used for every encrypted secret field.
//
// Keys are derived with PBKDF2-HMAC-SHA256 from a passphrase and a per-vault
// random salt. The work factor is a tunable: new keys use KDF.Iterations, and
// no derivation is ever allowed above KDF.MaxIterations.
package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize          = 32
	SaltSize         = 32
	PassphraseLength = 16

	// KDFVersionPBKDF2SHA256 identifies the derivation scheme stored with each vault.
	KDFVersionPBKDF2SHA256 = 1

	DefaultIterations    = 310_000
	DefaultMaxIterations = 2_000_000
)

const verificationLabel = "secretvault/key-verification/v1:"

var ErrUnsupportedKDF = errors.New("unsupported kdf version")

// KDF derives vault keys. Iterations is the cost applied to newly created
// keys; MaxIterations bounds every derivation, including ones requested with
// the parameters stored on an older vault.
type KDF struct {
	Iterations    int
	MaxIterations int
	rand          io.Reader
}

// NewKDF validates the work factor and returns a KDF reading salts from r
// (crypto/rand when r is nil).
func NewKDF(iterations, maxIterations int, r io.Reader) (*KDF, error) {
	if maxIterations < 1 {
		return nil, fmt.Errorf("%w: kdf max iterations must be positive", common.ErrValidation)
	}
	if iterations < 1 || iterations > maxIterations {
		return nil, fmt.Errorf("%w: kdf iterations %d outside [1, %d]", common.ErrValidation, iterations, maxIterations)
	}
	return &KDF{Iterations: iterations, MaxIterations: maxIterations, rand: r}, nil
}

// NewSalt returns a fresh random salt.
func (k *KDF) NewSalt() ([]byte, error) {
	return common.ReadRandom(k.rand, SaltSize)
}

// DeriveKey derives a key with the KDF's current work factor.
func (k *KDF) DeriveKey(passphrase string, salt []byte) (Key, error) {
	return k.Derive(KDFVersionPBKDF2SHA256, passphrase, salt, k.Iterations)
}

// Derive derives a key using explicitly supplied parameters, as stored on a vault.
func (k *KDF) Derive(version int, passphrase string, salt []byte, iterations int) (Key, error) {
	if version != KDFVersionPBKDF2SHA256 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKDF, version)
	}
	if iterations < 1 || iterations > k.MaxIterations {
		return nil, fmt.Errorf("%w: kdf iterations %d outside [1, %d]", common.ErrValidation, iterations, k.MaxIterations)
	}
	return DeriveKey(passphrase, salt, iterations)
}

// DeriveKey applies PBKDF2-HMAC-SHA256 and returns a KeySize-byte key.
func DeriveKey(passphrase string, salt []byte, iterations int) (Key, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", common.ErrValidation)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("%w: kdf iterations must be positive", common.ErrValidation)
	}
	return Key(pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)), nil
}

// MakeVerifier returns the one-way verification hash stored in place of the key.
func MakeVerifier(key Key) []byte {
	h := sha256.New()
	h.Write([]byte(verificationLabel))
	h.Write(key)
	return h.Sum(nil)
}

// ValidatePassphrase enforces the passphrase format: exactly PassphraseLength
// characters, letters and digits only, with at least one of each.
func ValidatePassphrase(passphrase string) error {
	if n := utf8.RuneCountInString(passphrase); n != PassphraseLength {
		return fmt.Errorf("%w: passphrase must be exactly %d characters, got %d", common.ErrValidation, PassphraseLength, n)
	}
	var letters, digits int
	for _, r := range passphrase {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		default:
			return fmt.Errorf("%w: passphrase may contain only letters and digits", common.ErrValidation)
		}
	}
	if letters == 0 || digits == 0 {
		return fmt.Errorf("%w: passphrase must contain at least one letter and one digit", common.ErrValidation)
	}
	return nil
}

// BenchmarkKDF measures a single derivation at the given work factor.
func BenchmarkKDF(iterations int) time.Duration {
	salt := make([]byte, SaltSize)
	start := time.Now()
	_, _ = DeriveKey("benchmark0passph", salt, iterations)
	return time.Since(start)
}
