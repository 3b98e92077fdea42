package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/secretvault/internal/common"
)

const (
	// EncryptionVersion tags ciphertext produced by Cipher: AES-CBC keyed with the
	// first half of the key, HMAC-SHA256 over iv||ciphertext keyed with the second.
	EncryptionVersion = 1

	IVSize  = aes.BlockSize
	TagSize = sha256.Size
)

var ErrInvalidKeySize = errors.New("invalid key size")

// Sealed is one encrypted field. Its three parts are produced and stored together.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// NewSealed rebuilds a Sealed value from stored columns. It returns nil when
// all parts are empty and an error when only some of them are present.
func NewSealed(ciphertext, iv, tag []byte) (*Sealed, error) {
	switch {
	case ciphertext == nil && iv == nil && tag == nil:
		return nil, nil
	case ciphertext == nil || iv == nil || tag == nil:
		return nil, fmt.Errorf("%w: ciphertext, iv and tag must be set together", common.ErrValidation)
	}
	return &Sealed{Ciphertext: ciphertext, IV: iv, Tag: tag}, nil
}

// Cipher encrypts and decrypts individual fields under a derived Key.
type Cipher struct {
	rand io.Reader
}

// NewCipher returns a Cipher drawing IVs from r (crypto/rand when r is nil).
func NewCipher(r io.Reader) *Cipher {
	return &Cipher{rand: r}
}

// Encrypt seals plaintext under key with a fresh random IV.
func (c *Cipher) Encrypt(plaintext []byte, key Key) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	iv, err := common.ReadRandom(c.rand, IVSize)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key.encKey())
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	common.WipeByteArray(padded)

	return &Sealed{Ciphertext: ciphertext, IV: iv, Tag: mac(key, iv, ciphertext)}, nil
}

// Decrypt verifies the tag over iv||ciphertext and only then decrypts.
// A tag mismatch yields common.ErrAuthentication.
func (c *Cipher) Decrypt(s *Sealed, key Key) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if s == nil || len(s.IV) != IVSize || len(s.Tag) != TagSize ||
		len(s.Ciphertext) == 0 || len(s.Ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: malformed sealed value", common.ErrAuthentication)
	}

	if !hmac.Equal(mac(key, s.IV, s.Ciphertext), s.Tag) {
		return nil, common.ErrAuthentication
	}

	block, err := aes.NewCipher(key.encKey())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	padded := make([]byte, len(s.Ciphertext))
	cipher.NewCBCDecrypter(block, s.IV).CryptBlocks(padded, s.Ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		common.WipeByteArray(padded)
		return nil, err
	}
	return plaintext, nil
}

func mac(key Key, iv, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key.macKey())
	h.Write(iv)
	h.Write(ciphertext)
	return h.Sum(nil)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad block alignment", common.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
