// Package models defines server-side data models persisted in the database.
package models

import "time"

// Vault status values.
const (
	VaultStatusActive    = "active"
	VaultStatusLocked    = "locked"
	VaultStatusSuspended = "suspended"
)

// Vault is the per (namespace, user) container of secrets.
// The derived key itself is never stored; KeySalt and KeyVerifier are
// enough to check a passphrase guess.
type Vault struct {
	ID          string
	NamespaceID string
	UserID      string
	Name        string

	KeySalt       []byte
	KeyVerifier   []byte
	KDFVersion    int
	KDFIterations int

	Status         string
	FailedAttempts int
	LockedAt       *time.Time
	LockReason     *string

	SecretsCount   int
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VaultInfo is the Vault without key material, safe to hand to callers.
type VaultInfo struct {
	ID             string
	NamespaceID    string
	UserID         string
	Name           string
	Status         string
	FailedAttempts int
	LockedAt       *time.Time
	LockReason     *string
	SecretsCount   int
	KDFIterations  int
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}

// Info strips the salt and verifier.
func (v *Vault) Info() *VaultInfo {
	return &VaultInfo{
		ID:             v.ID,
		NamespaceID:    v.NamespaceID,
		UserID:         v.UserID,
		Name:           v.Name,
		Status:         v.Status,
		FailedAttempts: v.FailedAttempts,
		LockedAt:       v.LockedAt,
		LockReason:     v.LockReason,
		SecretsCount:   v.SecretsCount,
		KDFIterations:  v.KDFIterations,
		LastAccessedAt: v.LastAccessedAt,
		CreatedAt:      v.CreatedAt,
	}
}
