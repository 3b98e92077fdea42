package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/cryptox"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/secrets"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/shares"
)

// CreateSecretInput describes a new secret. Name and Value are required.
type CreateSecretInput struct {
	Name               string
	Value              string
	SecretType         string
	Description        string
	Tags               []string
	FolderID           *string
	Metadata           map[string]string
	ExpiresAt          *time.Time
	RotationReminderAt *time.Time
}

// UpdateSecretInput changes a secret. Nil fields are left alone. A FolderID
// pointing at "" moves the secret to the root; an empty Metadata map removes
// the metadata. A new Value is encrypted afresh and stamps last_rotated_at.
type UpdateSecretInput struct {
	Name                  *string
	Value                 *string
	SecretType            *string
	Description           *string
	Tags                  *[]string
	FolderID              *string
	Metadata              *map[string]string
	ExpiresAt             *time.Time
	ClearExpiresAt        bool
	RotationReminderAt    *time.Time
	ClearRotationReminder bool
}

// SecretService is CRUD over individually encrypted secrets.
type SecretService struct {
	db          dbx.Conn
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.Cipher
	audit       *Auditor
	logger      logging.Logger
}

func NewSecretService(db dbx.Conn, m repomanager.RepositoryManager, cipher *cryptox.Cipher, audit *Auditor, logger logging.Logger) *SecretService {
	return &SecretService{db: db, repomanager: m, cipher: cipher, audit: audit, logger: logger.With("module", "secrets")}
}

// Create encrypts and stores a new secret. The response never carries the value.
func (s *SecretService) Create(ctx context.Context, u *UnlockedVault, in CreateSecretInput) (*models.SecretSummary, error) {
	var secret *models.Secret

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForUpdate, u); err != nil {
			return err
		}

		name := strings.TrimSpace(in.Name)
		if name == "" {
			return fmt.Errorf("%w: secret name is required", common.ErrValidation)
		}
		if in.Value == "" {
			return fmt.Errorf("%w: secret value is required", common.ErrValidation)
		}

		now := clock()
		sec := &models.Secret{
			ID:                 uuid.NewString(),
			VaultID:            u.vaultID,
			Name:               name,
			SecretType:         in.SecretType,
			Description:        in.Description,
			Tags:               normalizeTags(in.Tags),
			EncryptionVersion:  cryptox.EncryptionVersion,
			ExpiresAt:          in.ExpiresAt,
			RotationReminderAt: in.RotationReminderAt,
			CreatedBy:          u.userID,
			UpdatedBy:          u.userID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if sec.SecretType == "" {
			sec.SecretType = models.DefaultSecretType
		}

		folderRepo := s.repomanager.Folders(tx)
		if in.FolderID != nil && *in.FolderID != "" {
			f, err := loadFolder(ctx, folderRepo, u.vaultID, *in.FolderID)
			if err != nil {
				return err
			}
			sec.FolderID = &f.ID
		}

		var err error
		if sec.Value, err = s.cipher.Encrypt([]byte(in.Value), u.key); err != nil {
			return err
		}
		if sec.Metadata, err = s.sealMetadata(in.Metadata, u.key); err != nil {
			return err
		}

		if err := s.repomanager.Secrets(tx).Create(ctx, sec); err != nil {
			return err
		}
		if err := s.repomanager.Vaults(tx).AdjustSecretsCount(ctx, u.vaultID, 1); err != nil {
			return err
		}
		if sec.FolderID != nil {
			if err := folderRepo.AdjustSecretsCount(ctx, *sec.FolderID, 1); err != nil {
				return err
			}
		}
		secret = sec
		return nil
	})

	e := entry(u, models.ActionSecretCreate)
	if secret != nil {
		e.SecretID = strPtr(secret.ID)
		e.FolderID = secret.FolderID
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return secret.Summary(), nil
}

// List returns secret summaries only; ciphertext never leaves the store here.
func (s *SecretService) List(ctx context.Context, u *UnlockedVault, filter models.SecretFilter) (*models.SecretPage, error) {
	if _, err := guardKey(ctx, s.repomanager.Vaults(s.db).GetByID, u); err != nil {
		return nil, err
	}
	if filter.FolderID != nil && *filter.FolderID != "" {
		if err := checkID("folder", *filter.FolderID); err != nil {
			return nil, err
		}
	}
	return s.repomanager.Secrets(s.db).List(ctx, u.vaultID, filter, clock())
}

// Read decrypts a secret for the immediate caller and counts the access.
// A tag mismatch is reported as common.ErrAuthentication and audited as a
// failed read; nothing is returned in that case.
func (s *SecretService) Read(ctx context.Context, u *UnlockedVault, secretID string) (*models.PlainSecret, error) {
	var plain *models.PlainSecret

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForShare, u); err != nil {
			return err
		}
		secretRepo := s.repomanager.Secrets(tx)

		sec, err := loadSecret(ctx, secretRepo, u.vaultID, secretID)
		if err != nil {
			return err
		}
		if sec.IsShared {
			if err := checkInboundShare(ctx, s.repomanager.Shares(tx), sec.ID); err != nil {
				return err
			}
		}

		value, err := s.cipher.Decrypt(sec.Value, u.key)
		if err != nil {
			return err
		}
		metadata, err := s.openMetadata(sec.Metadata, u.key)
		if err != nil {
			return err
		}

		now := clock()
		if err := secretRepo.RecordAccess(ctx, sec.ID, now); err != nil {
			return err
		}
		sec.AccessCount++
		sec.LastAccessedAt = &now

		plain = &models.PlainSecret{Secret: sec.Summary(), Value: string(value), Metadata: metadata}
		common.WipeByteArray(value)
		return nil
	})

	e := entry(u, models.ActionSecretRead)
	e.SecretID = strPtr(secretID)
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// Update applies in to the secret. Value and metadata are re-encrypted
// independently of each other, each with a fresh IV.
func (s *SecretService) Update(ctx context.Context, u *UnlockedVault, secretID string, in UpdateSecretInput) (*models.SecretSummary, error) {
	var secret *models.Secret

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForShare, u); err != nil {
			return err
		}
		secretRepo := s.repomanager.Secrets(tx)
		folderRepo := s.repomanager.Folders(tx)

		sec, err := loadSecretForUpdate(ctx, secretRepo, u.vaultID, secretID)
		if err != nil {
			return err
		}
		now := clock()

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: secret name is required", common.ErrValidation)
			}
			sec.Name = name
		}
		if in.SecretType != nil {
			sec.SecretType = *in.SecretType
			if sec.SecretType == "" {
				sec.SecretType = models.DefaultSecretType
			}
		}
		if in.Description != nil {
			sec.Description = *in.Description
		}
		if in.Tags != nil {
			sec.Tags = normalizeTags(*in.Tags)
		}
		switch {
		case in.ClearExpiresAt:
			sec.ExpiresAt = nil
		case in.ExpiresAt != nil:
			sec.ExpiresAt = in.ExpiresAt
		}
		switch {
		case in.ClearRotationReminder:
			sec.RotationReminderAt = nil
		case in.RotationReminderAt != nil:
			sec.RotationReminderAt = in.RotationReminderAt
		}

		if in.Value != nil {
			if *in.Value == "" {
				return fmt.Errorf("%w: secret value is required", common.ErrValidation)
			}
			if sec.Value, err = s.cipher.Encrypt([]byte(*in.Value), u.key); err != nil {
				return err
			}
			sec.EncryptionVersion = cryptox.EncryptionVersion
			sec.LastRotatedAt = &now
		}
		if in.Metadata != nil {
			if sec.Metadata, err = s.sealMetadata(*in.Metadata, u.key); err != nil {
				return err
			}
		}

		if in.FolderID != nil {
			if err := s.moveSecret(ctx, folderRepo, u, sec, *in.FolderID); err != nil {
				return err
			}
		}

		sec.UpdatedBy = u.userID
		sec.UpdatedAt = now
		if err := secretRepo.Update(ctx, sec); err != nil {
			return err
		}
		secret = sec
		return nil
	})

	e := entry(u, models.ActionSecretUpdate)
	e.SecretID = strPtr(secretID)
	if err == nil && in.Value != nil {
		e.ActionDetail = strPtr("value rotated")
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return secret.Summary(), nil
}

func (s *SecretService) moveSecret(ctx context.Context, repo folders.Repository, u *UnlockedVault, sec *models.Secret, folderID string) error {
	var target *string
	if folderID != "" {
		f, err := loadFolder(ctx, repo, u.vaultID, folderID)
		if err != nil {
			return err
		}
		target = &f.ID
	}
	if equalPtr(sec.FolderID, target) {
		return nil
	}

	if sec.FolderID != nil {
		if err := repo.AdjustSecretsCount(ctx, *sec.FolderID, -1); err != nil {
			return err
		}
	}
	if target != nil {
		if err := repo.AdjustSecretsCount(ctx, *target, 1); err != nil {
			return err
		}
	}
	sec.FolderID = target
	return nil
}

// Delete removes a secret permanently.
func (s *SecretService) Delete(ctx context.Context, u *UnlockedVault, secretID string) error {
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForUpdate, u); err != nil {
			return err
		}
		secretRepo := s.repomanager.Secrets(tx)

		sec, err := loadSecretForUpdate(ctx, secretRepo, u.vaultID, secretID)
		if err != nil {
			return err
		}
		return deleteSecret(ctx, s.repomanager, tx, sec)
	})

	e := entry(u, models.ActionSecretDelete)
	e.SecretID = strPtr(secretID)
	_ = s.audit.Record(ctx, e, err)
	return err
}

// deleteSecret removes sec and keeps the vault and folder counters in step.
func deleteSecret(ctx context.Context, m repomanager.RepositoryManager, tx dbx.DBTX, sec *models.Secret) error {
	if err := m.Secrets(tx).Delete(ctx, sec.ID); err != nil {
		return err
	}
	if err := m.Vaults(tx).AdjustSecretsCount(ctx, sec.VaultID, -1); err != nil {
		return err
	}
	if sec.FolderID != nil {
		if err := m.Folders(tx).AdjustSecretsCount(ctx, *sec.FolderID, -1); err != nil {
			return err
		}
	}
	return nil
}

func (s *SecretService) sealMetadata(metadata map[string]string, key cryptox.Key) (*cryptox.Sealed, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	defer common.WipeByteArray(b)
	return s.cipher.Encrypt(b, key)
}

func (s *SecretService) openMetadata(sealed *cryptox.Sealed, key cryptox.Key) (map[string]string, error) {
	if sealed == nil {
		return nil, nil
	}
	b, err := s.cipher.Decrypt(sealed, key)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(b)

	var metadata map[string]string
	if err := json.Unmarshal(b, &metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", common.ErrDecryption)
	}
	return metadata, nil
}

// checkInboundShare rejects reads of a shared copy whose share has expired.
func checkInboundShare(ctx context.Context, repo shares.Repository, secretID string) error {
	sh, err := repo.GetByTargetSecret(ctx, secretID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	if sh.Expired(clock()) {
		return common.ErrShareExpired
	}
	return nil
}

func loadSecret(ctx context.Context, repo secrets.Repository, vaultID, id string) (*models.Secret, error) {
	if err := checkID("secret", id); err != nil {
		return nil, err
	}
	sec, err := repo.GetByID(ctx, id)
	return checkSecret(sec, err, vaultID, id)
}

func loadSecretForUpdate(ctx context.Context, repo secrets.Repository, vaultID, id string) (*models.Secret, error) {
	if err := checkID("secret", id); err != nil {
		return nil, err
	}
	sec, err := repo.GetForUpdate(ctx, id)
	return checkSecret(sec, err, vaultID, id)
}

// checkSecret turns a lookup result into a secret of vaultID or a typed error.
func checkSecret(sec *models.Secret, err error, vaultID, id string) (*models.Secret, error) {
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("secret %s: %w", id, common.ErrorNotFound)
		}
		return nil, err
	}
	if sec.VaultID != vaultID {
		return nil, common.ErrCrossVault
	}
	return sec, nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
