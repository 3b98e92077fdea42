// Package common defines the sentinel error kinds and small helpers shared by
// every layer of the vault. Callers should use errors.Is to match these values;
// details are attached by wrapping, e.g. fmt.Errorf("%w: name is required", ErrValidation).
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrDuplicate  = errors.New("duplicate record")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Input errors.
	ErrValidation = errors.New("validation error")

	// Vault lifecycle errors.
	ErrDuplicateVault    = errors.New("vault already exists")
	ErrAccessDenied      = errors.New("access denied")
	ErrVaultLocked       = errors.New("vault is locked")
	ErrVaultSuspended    = errors.New("vault is suspended")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrStaleKey          = errors.New("derived key no longer matches vault")

	// Sharing errors.
	ErrInvalidTargetKey    = errors.New("invalid target passphrase")
	ErrTargetVaultNotFound = errors.New("target vault not found")
	ErrShareRevoked        = errors.New("share already revoked")
	ErrShareExpired        = errors.New("share expired")

	// Cipher errors.
	ErrAuthentication = errors.New("authentication failed")
	ErrDecryption     = errors.New("decryption failed")

	// Ownership errors.
	ErrCrossVault = errors.New("resource belongs to a different vault")
)
