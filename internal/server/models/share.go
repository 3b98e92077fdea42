package models

import "time"

const (
	ShareStatusActive  = "active"
	ShareStatusRevoked = "revoked"

	SharePermissionRead = "read"

	ShareDirectionOutbound = "outbound"
	ShareDirectionInbound  = "inbound"
)

// Share links a source secret to its re-encrypted copy in another vault.
// SourceSecretID is nil once the sharer deletes the source; the share stays
// revocable.
type Share struct {
	ID               string
	SourceSecretID   *string
	SourceVaultID    string
	SharedByUserID   string
	TargetSecretID   *string
	TargetVaultID    string
	SharedWithUserID string
	Permission       string
	CanReshare       bool
	ExpiresAt        *time.Time
	Status           string
	Message          *string
	RevokedAt        *time.Time
	RevokedBy        *string
	CreatedAt        time.Time
}

// Expired reports whether the share has an expiry at or before now.
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
