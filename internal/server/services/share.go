package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/cryptox"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
)

const sharedNameSuffix = " (shared)"

// ShareOptions are the grant settings of a share. Permission defaults to read.
type ShareOptions struct {
	Permission string
	CanReshare bool
	ExpiresAt  *time.Time
	Message    string
}

// ShareService copies secrets between vaults. The plaintext is decrypted with
// the source key and re-encrypted with the target key at share time; the copy
// is independent of the source afterwards.
type ShareService struct {
	db          dbx.Conn
	repomanager repomanager.RepositoryManager
	vaults      *VaultService
	cipher      *cryptox.Cipher
	audit       *Auditor
	logger      logging.Logger
}

func NewShareService(db dbx.Conn, m repomanager.RepositoryManager, vaults *VaultService, cipher *cryptox.Cipher,
	audit *Auditor, logger logging.Logger) *ShareService {
	return &ShareService{
		db:          db,
		repomanager: m,
		vaults:      vaults,
		cipher:      cipher,
		audit:       audit,
		logger:      logger.With("module", "shares"),
	}
}

// Share re-encrypts secretID for targetUserID's vault in the same namespace.
// targetPassphrase must unlock that vault; a wrong one counts against the
// target vault's lockout.
func (s *ShareService) Share(ctx context.Context, u *UnlockedVault, secretID, targetUserID, targetPassphrase string,
	opts ShareOptions) (*models.Share, error) {
	share, err := s.share(ctx, u, secretID, targetUserID, targetPassphrase, opts)

	e := entry(u, models.ActionSecretShare)
	e.SecretID = strPtr(secretID)
	e.Metadata = map[string]string{"shared_with_user_id": targetUserID}
	if share != nil {
		e.Metadata["share_id"] = share.ID
		e.Metadata["target_vault_id"] = share.TargetVaultID
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "secret shared", "share_id", share.ID, "source_vault_id", u.vaultID, "target_vault_id", share.TargetVaultID)
	return share, nil
}

func (s *ShareService) share(ctx context.Context, u *UnlockedVault, secretID, targetUserID, targetPassphrase string,
	opts ShareOptions) (*models.Share, error) {
	if err := u.usable(); err != nil {
		return nil, err
	}
	if targetUserID == "" || targetUserID == u.userID {
		return nil, fmt.Errorf("%w: share target must be another user", common.ErrValidation)
	}
	if opts.Permission == "" {
		opts.Permission = models.SharePermissionRead
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(clock()) {
		return nil, fmt.Errorf("%w: share expiry must be in the future", common.ErrValidation)
	}

	tv, err := s.repomanager.Vaults(s.db).GetByOwner(ctx, u.namespaceID, targetUserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTargetVaultNotFound
		}
		return nil, err
	}

	target, err := s.vaults.unlock(ctx, tv.ID, targetUserID, u.userID, targetPassphrase, "share target verification")
	if err != nil {
		if errors.Is(err, common.ErrInvalidPassphrase) {
			return nil, fmt.Errorf("%w: %w", common.ErrInvalidTargetKey, err)
		}
		return nil, fmt.Errorf("target vault: %w", err)
	}
	defer target.Wipe()

	var share *models.Share
	err = s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.lockVaults(ctx, tx, u, target); err != nil {
			return err
		}
		secretRepo := s.repomanager.Secrets(tx)
		shareRepo := s.repomanager.Shares(tx)

		src, err := loadSecretForUpdate(ctx, secretRepo, u.vaultID, secretID)
		if err != nil {
			return err
		}
		if src.IsShared {
			inbound, err := shareRepo.GetByTargetSecret(ctx, src.ID)
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			if inbound == nil || !inbound.CanReshare {
				return fmt.Errorf("%w: secret was shared without reshare permission", common.ErrAccessDenied)
			}
			if inbound.Expired(clock()) {
				return common.ErrShareExpired
			}
		}

		now := clock()
		dst := &models.Secret{
			ID:                uuid.NewString(),
			VaultID:           target.vaultID,
			Name:              src.Name + sharedNameSuffix,
			SecretType:        src.SecretType,
			Description:       src.Description,
			Tags:              src.Tags,
			EncryptionVersion: cryptox.EncryptionVersion,
			ExpiresAt:         src.ExpiresAt,
			IsShared:          true,
			CreatedBy:         u.userID,
			UpdatedBy:         u.userID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if dst.Value, err = s.transfer(src.Value, u.key, target.key); err != nil {
			return err
		}
		if dst.Metadata, err = s.transfer(src.Metadata, u.key, target.key); err != nil {
			return err
		}

		if err := secretRepo.Create(ctx, dst); err != nil {
			return err
		}
		if err := s.repomanager.Vaults(tx).AdjustSecretsCount(ctx, target.vaultID, 1); err != nil {
			return err
		}

		sh := &models.Share{
			ID:               uuid.NewString(),
			SourceSecretID:   &src.ID,
			SourceVaultID:    u.vaultID,
			SharedByUserID:   u.userID,
			TargetSecretID:   &dst.ID,
			TargetVaultID:    target.vaultID,
			SharedWithUserID: targetUserID,
			Permission:       opts.Permission,
			CanReshare:       opts.CanReshare,
			ExpiresAt:        opts.ExpiresAt,
			Status:           models.ShareStatusActive,
			CreatedAt:        now,
		}
		if opts.Message != "" {
			sh.Message = strPtr(opts.Message)
		}
		if err := shareRepo.Create(ctx, sh); err != nil {
			return err
		}
		if err := secretRepo.AdjustShareCount(ctx, src.ID, 1); err != nil {
			return err
		}
		share = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// lockVaults takes the source vault FOR SHARE and the target FOR UPDATE,
// always in vault id order so two opposite shares cannot deadlock.
func (s *ShareService) lockVaults(ctx context.Context, tx dbx.DBTX, source, target *UnlockedVault) error {
	repo := s.repomanager.Vaults(tx)
	steps := []struct {
		u    *UnlockedVault
		load vaultLoader
	}{
		{source, repo.GetForShare},
		{target, repo.GetForUpdate},
	}
	if target.vaultID < source.vaultID {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if _, err := guardKey(ctx, step.load, step.u); err != nil {
			return err
		}
	}
	return nil
}

func (s *ShareService) transfer(sealed *cryptox.Sealed, from, to cryptox.Key) (*cryptox.Sealed, error) {
	if sealed == nil {
		return nil, nil
	}
	plain, err := s.cipher.Decrypt(sealed, from)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plain)
	return s.cipher.Encrypt(plain, to)
}

// Revoke withdraws a share and deletes the target copy. Only the user who
// created the share may revoke it, and only once.
func (s *ShareService) Revoke(ctx context.Context, shareID, callerUserID string) error {
	var (
		namespace string
		share     *models.Share
	)

	if err := checkID("share", shareID); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		shareRepo := s.repomanager.Shares(tx)
		vaultRepo := s.repomanager.Vaults(tx)

		sh, err := shareRepo.GetForUpdate(ctx, shareID)
		if err != nil {
			return err
		}
		share = sh

		source, err := vaultRepo.GetByID(ctx, sh.SourceVaultID)
		if err != nil {
			return err
		}
		namespace = source.NamespaceID

		if sh.SharedByUserID != callerUserID {
			return common.ErrAccessDenied
		}
		if sh.Status == models.ShareStatusRevoked {
			return common.ErrShareRevoked
		}

		if _, err := vaultRepo.GetForUpdate(ctx, sh.TargetVaultID); err != nil {
			return err
		}
		if err := shareRepo.Revoke(ctx, sh.ID, callerUserID, clock()); err != nil {
			return err
		}

		if sh.TargetSecretID != nil {
			copySecret, err := s.repomanager.Secrets(tx).GetForUpdate(ctx, *sh.TargetSecretID)
			switch {
			case errors.Is(err, common.ErrorNotFound):
			case err != nil:
				return err
			default:
				if err := deleteSecret(ctx, s.repomanager, tx, copySecret); err != nil {
					return err
				}
			}
		}

		if sh.SourceSecretID == nil {
			return nil
		}
		err = s.repomanager.Secrets(tx).AdjustShareCount(ctx, *sh.SourceSecretID, -1)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return nil
	})

	if namespace != "" {
		e := &models.AccessLogEntry{NamespaceID: namespace, UserID: callerUserID, Action: models.ActionShareRevoke}
		e.VaultID = strPtr(share.SourceVaultID)
		e.SecretID = share.SourceSecretID
		e.Metadata = map[string]string{"share_id": shareID, "shared_with_user_id": share.SharedWithUserID}
		_ = s.audit.Record(ctx, e, err)
	}
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "share revoked", "share_id", shareID)
	return nil
}

// List returns shares leaving (outbound) or entering (inbound) the vault.
func (s *ShareService) List(ctx context.Context, u *UnlockedVault, direction string) ([]*models.Share, error) {
	if _, err := guardKey(ctx, s.repomanager.Vaults(s.db).GetByID, u); err != nil {
		return nil, err
	}
	return s.repomanager.Shares(s.db).List(ctx, u.vaultID, direction)
}
