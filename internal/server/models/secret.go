package models

import (
	"time"

	"github.com/dmitrijs2005/secretvault/internal/cryptox"
)

const DefaultSecretType = "generic"

// Secret is one encrypted record. Value is always set; Metadata is optional
// and sealed with its own IV and tag.
type Secret struct {
	ID                string
	VaultID           string
	FolderID          *string
	Name              string
	SecretType        string
	Description       string
	Tags              []string
	Value             *cryptox.Sealed
	Metadata          *cryptox.Sealed
	EncryptionVersion int

	ExpiresAt          *time.Time
	RotationReminderAt *time.Time

	IsShared       bool
	ShareCount     int
	AccessCount    int
	LastAccessedAt *time.Time
	LastRotatedAt  *time.Time

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary drops every encrypted field.
func (s *Secret) Summary() *SecretSummary {
	return &SecretSummary{
		ID:                 s.ID,
		VaultID:            s.VaultID,
		FolderID:           s.FolderID,
		Name:               s.Name,
		SecretType:         s.SecretType,
		Description:        s.Description,
		Tags:               s.Tags,
		HasMetadata:        s.Metadata != nil,
		ExpiresAt:          s.ExpiresAt,
		RotationReminderAt: s.RotationReminderAt,
		IsShared:           s.IsShared,
		ShareCount:         s.ShareCount,
		AccessCount:        s.AccessCount,
		LastAccessedAt:     s.LastAccessedAt,
		LastRotatedAt:      s.LastRotatedAt,
		CreatedBy:          s.CreatedBy,
		UpdatedBy:          s.UpdatedBy,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

// SecretSummary is what listings return. It has no ciphertext fields at all.
type SecretSummary struct {
	ID                 string
	VaultID            string
	FolderID           *string
	Name               string
	SecretType         string
	Description        string
	Tags               []string
	HasMetadata        bool
	ExpiresAt          *time.Time
	RotationReminderAt *time.Time
	IsShared           bool
	ShareCount         int
	AccessCount        int
	LastAccessedAt     *time.Time
	LastRotatedAt      *time.Time
	CreatedBy          string
	UpdatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SecretFilter narrows a secret listing. A FolderID pointing at "" selects
// secrets at the vault root.
type SecretFilter struct {
	FolderID    *string
	SecretType  string
	Tag         string
	Search      string
	RotationDue bool
	Expired     bool
	Limit       int
	Offset      int
}

// SecretPage is one page of a listing plus the total number of matches.
type SecretPage struct {
	Items []*SecretSummary
	Total int
}

// PlainSecret is a decrypted secret returned to the immediate caller only.
type PlainSecret struct {
	Secret   *SecretSummary
	Value    string
	Metadata map[string]string
}
