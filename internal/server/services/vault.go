package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/cryptox"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
)

const lockReasonFailedAttempts = "too many failed unlock attempts"

// VaultService owns the vault lifecycle: creation, unlock with lockout,
// key change and administrative lock reset.
type VaultService struct {
	db                dbx.Conn
	repomanager       repomanager.RepositoryManager
	kdf               *cryptox.KDF
	cipher            *cryptox.Cipher
	audit             *Auditor
	maxFailedAttempts int
	logger            logging.Logger
}

func NewVaultService(db dbx.Conn, m repomanager.RepositoryManager, kdf *cryptox.KDF, cipher *cryptox.Cipher,
	audit *Auditor, maxFailedAttempts int, logger logging.Logger) *VaultService {
	return &VaultService{
		db:                db,
		repomanager:       m,
		kdf:               kdf,
		cipher:            cipher,
		audit:             audit,
		maxFailedAttempts: maxFailedAttempts,
		logger:            logger.With("module", "vault"),
	}
}

// Create makes the vault of (namespaceID, userID). Only the salt and the
// verification hash of the derived key are stored.
func (s *VaultService) Create(ctx context.Context, namespaceID, userID, passphrase, name string) (*models.VaultInfo, error) {
	e := &models.AccessLogEntry{NamespaceID: namespaceID, UserID: userID, Action: models.ActionVaultCreate}
	v, err := s.create(ctx, namespaceID, userID, passphrase, name)
	if v != nil {
		e.VaultID = strPtr(v.ID)
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "vault created", "vault_id", v.ID, "namespace_id", namespaceID, "user_id", userID)
	return v.Info(), nil
}

func (s *VaultService) create(ctx context.Context, namespaceID, userID, passphrase, name string) (*models.Vault, error) {
	if namespaceID == "" || userID == "" {
		return nil, fmt.Errorf("%w: namespace and user are required", common.ErrValidation)
	}
	if err := cryptox.ValidatePassphrase(passphrase); err != nil {
		return nil, err
	}
	if name == "" {
		name = "default"
	}

	repo := s.repomanager.Vaults(s.db)
	if _, err := repo.GetByOwner(ctx, namespaceID, userID); err == nil {
		return nil, common.ErrDuplicateVault
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	salt, err := s.kdf.NewSalt()
	if err != nil {
		return nil, err
	}
	key, err := s.kdf.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	now := clock()
	v := &models.Vault{
		ID:            uuid.NewString(),
		NamespaceID:   namespaceID,
		UserID:        userID,
		Name:          name,
		KeySalt:       salt,
		KeyVerifier:   cryptox.MakeVerifier(key),
		KDFVersion:    cryptox.KDFVersionPBKDF2SHA256,
		KDFIterations: s.kdf.Iterations,
		Status:        models.VaultStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Create(ctx, v); err != nil {
		if errors.Is(err, common.ErrDuplicate) {
			return nil, common.ErrDuplicateVault
		}
		return nil, err
	}
	return v, nil
}

// Get returns the caller's vault without key material.
func (s *VaultService) Get(ctx context.Context, namespaceID, userID string) (*models.VaultInfo, error) {
	v, err := s.repomanager.Vaults(s.db).GetByOwner(ctx, namespaceID, userID)
	if err != nil {
		return nil, err
	}
	return v.Info(), nil
}

// Open finds the caller's own vault and unlocks it.
func (s *VaultService) Open(ctx context.Context, namespaceID, userID, passphrase string) (*UnlockedVault, error) {
	v, err := s.repomanager.Vaults(s.db).GetByOwner(ctx, namespaceID, userID)
	if err != nil {
		return nil, err
	}
	return s.Unlock(ctx, v.ID, userID, passphrase)
}

// Unlock verifies passphrase against the vault and returns a handle holding
// the derived key. A wrong passphrase increments the failure counter; the
// attempt that reaches the threshold locks the vault. A locked or suspended
// vault is rejected before any key is derived.
func (s *VaultService) Unlock(ctx context.Context, vaultID, userID, passphrase string) (*UnlockedVault, error) {
	return s.unlock(ctx, vaultID, userID, userID, passphrase, "")
}

// unlock verifies passphrase for the vault owned by ownerID. actorID is who
// is attempting it; detail lands in the audit entry.
func (s *VaultService) unlock(ctx context.Context, vaultID, ownerID, actorID, passphrase, detail string) (*UnlockedVault, error) {
	var (
		result    *UnlockedVault
		namespace string
		attempts  int
		outcome   error
	)

	if err := checkID("vault", vaultID); err != nil {
		return nil, err
	}

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Vaults(tx)

		v, err := repo.GetForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		namespace = v.NamespaceID
		if v.UserID != ownerID {
			outcome = common.ErrAccessDenied
			return nil
		}
		if err := checkStatus(v); err != nil {
			outcome = err
			return nil
		}

		key, err := s.kdf.Derive(v.KDFVersion, passphrase, v.KeySalt, v.KDFIterations)
		if err != nil {
			return err
		}

		if !key.Verifies(v.KeyVerifier) {
			key.Wipe()
			outcome = s.registerFailure(v)
			attempts = v.FailedAttempts
			return repo.UpdateLockState(ctx, v)
		}

		if err := repo.RecordUnlock(ctx, v.ID, clock()); err != nil {
			key.Wipe()
			return err
		}
		result = &UnlockedVault{vaultID: v.ID, namespaceID: v.NamespaceID, userID: v.UserID, key: key}
		return nil
	})
	if err == nil {
		err = outcome
	}

	if namespace != "" {
		action := models.ActionVaultUnlock
		if errors.Is(err, common.ErrInvalidPassphrase) || (errors.Is(err, common.ErrVaultLocked) && attempts > 0) {
			action = models.ActionFailedUnlock
		}
		e := &models.AccessLogEntry{NamespaceID: namespace, VaultID: strPtr(vaultID), UserID: actorID, Action: action}
		if detail != "" {
			e.ActionDetail = strPtr(detail)
		}
		if attempts > 0 {
			e.Metadata = map[string]string{"failed_attempts": strconv.Itoa(attempts)}
		}
		_ = s.audit.Record(ctx, e, err)
	}

	if err != nil {
		if errors.Is(err, common.ErrVaultLocked) && attempts > 0 {
			s.logger.Warn(ctx, "vault locked after failed attempts", "vault_id", vaultID, "failed_attempts", attempts)
		}
		result.Wipe()
		return nil, err
	}
	return result, nil
}

// registerFailure bumps the failure counter on v and locks it at the
// threshold. It returns the error the caller should see.
func (s *VaultService) registerFailure(v *models.Vault) error {
	now := clock()
	v.FailedAttempts++
	v.UpdatedAt = now
	if v.FailedAttempts >= s.maxFailedAttempts {
		v.Status = models.VaultStatusLocked
		v.LockedAt = &now
		v.LockReason = strPtr(lockReasonFailedAttempts)
		return common.ErrVaultLocked
	}
	return fmt.Errorf("%w: %d attempts remaining", common.ErrInvalidPassphrase, s.maxFailedAttempts-v.FailedAttempts)
}

// ChangeKey re-keys the vault: every secret value and metadata field is
// re-encrypted under a key derived from newPassphrase, then the salt and
// verification hash are swapped. It all happens in one transaction holding
// the vault row exclusively, so either every secret moves to the new key or
// none does.
func (s *VaultService) ChangeKey(ctx context.Context, vaultID, userID, oldPassphrase, newPassphrase string) error {
	var (
		namespace string
		count     int
		outcome   error
	)

	if err := checkID("vault", vaultID); err != nil {
		return err
	}
	if err := cryptox.ValidatePassphrase(newPassphrase); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		vaultRepo := s.repomanager.Vaults(tx)
		secretRepo := s.repomanager.Secrets(tx)

		v, err := vaultRepo.GetForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		namespace = v.NamespaceID
		if v.UserID != userID {
			return common.ErrAccessDenied
		}
		if err := checkStatus(v); err != nil {
			return err
		}

		oldKey, err := s.kdf.Derive(v.KDFVersion, oldPassphrase, v.KeySalt, v.KDFIterations)
		if err != nil {
			return err
		}
		defer oldKey.Wipe()
		if !oldKey.Verifies(v.KeyVerifier) {
			outcome = s.registerFailure(v)
			return vaultRepo.UpdateLockState(ctx, v)
		}

		salt, err := s.kdf.NewSalt()
		if err != nil {
			return err
		}
		newKey, err := s.kdf.DeriveKey(newPassphrase, salt)
		if err != nil {
			return err
		}
		defer newKey.Wipe()

		list, err := secretRepo.ListByVault(ctx, v.ID)
		if err != nil {
			return err
		}
		for _, secret := range list {
			if secret.Value, err = s.reseal(secret.Value, oldKey, newKey); err != nil {
				return fmt.Errorf("secret %s value: %w", secret.ID, err)
			}
			if secret.Metadata, err = s.reseal(secret.Metadata, oldKey, newKey); err != nil {
				return fmt.Errorf("secret %s metadata: %w", secret.ID, err)
			}
			secret.EncryptionVersion = cryptox.EncryptionVersion
			if err := secretRepo.UpdateCiphertext(ctx, secret); err != nil {
				return err
			}
		}
		count = len(list)

		v.KeySalt = salt
		v.KeyVerifier = cryptox.MakeVerifier(newKey)
		v.KDFVersion = cryptox.KDFVersionPBKDF2SHA256
		v.KDFIterations = s.kdf.Iterations
		v.UpdatedAt = clock()
		if err := vaultRepo.UpdateKey(ctx, v); err != nil {
			return err
		}
		return vaultRepo.RecordUnlock(ctx, v.ID, v.UpdatedAt)
	})
	if err == nil {
		err = outcome
	}

	if namespace != "" {
		e := &models.AccessLogEntry{NamespaceID: namespace, VaultID: strPtr(vaultID), UserID: userID, Action: models.ActionVaultKeyChange}
		if err == nil {
			e.Metadata = map[string]string{"secrets_reencrypted": strconv.Itoa(count)}
		}
		_ = s.audit.Record(ctx, e, err)
	}
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "vault key changed", "vault_id", vaultID, "secrets", count)
	return nil
}

func (s *VaultService) reseal(sealed *cryptox.Sealed, oldKey, newKey cryptox.Key) (*cryptox.Sealed, error) {
	if sealed == nil {
		return nil, nil
	}
	plain, err := s.cipher.Decrypt(sealed, oldKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)
	return s.cipher.Encrypt(plain, newKey)
}

// ResetLock returns a locked vault to active and clears its failure counter.
// Lockout never expires on its own; this is the only way out of it.
// Authorising adminUserID is the caller's responsibility.
func (s *VaultService) ResetLock(ctx context.Context, vaultID, adminUserID, reason string) error {
	var namespace string

	if err := checkID("vault", vaultID); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Vaults(tx)
		v, err := repo.GetForUpdate(ctx, vaultID)
		if err != nil {
			return err
		}
		namespace = v.NamespaceID
		if v.Status == models.VaultStatusSuspended {
			return common.ErrVaultSuspended
		}

		v.Status = models.VaultStatusActive
		v.FailedAttempts = 0
		v.LockedAt = nil
		v.LockReason = nil
		v.UpdatedAt = clock()
		return repo.UpdateLockState(ctx, v)
	})

	if namespace != "" {
		e := &models.AccessLogEntry{NamespaceID: namespace, VaultID: strPtr(vaultID), UserID: adminUserID, Action: models.ActionVaultLockReset}
		if reason != "" {
			e.ActionDetail = strPtr(reason)
		}
		_ = s.audit.Record(ctx, e, err)
	}
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "vault lock reset", "vault_id", vaultID, "admin_user_id", adminUserID)
	return nil
}
