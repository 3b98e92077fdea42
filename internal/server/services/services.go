// Package services contains the vault business logic: vault lifecycle and
// lockout, the folder tree, the secret store, sharing, and the audit log.
// Every method takes the caller's identity from an already authenticated
// session; a derived key reaches the services only inside an UnlockedVault.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/cryptox"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/config"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
)

// Services bundles every service wired to one database and configuration.
type Services struct {
	Vaults  *VaultService
	Folders *FolderService
	Secrets *SecretService
	Shares  *ShareService
	Audit   *Auditor
	Archive *AuditArchiver
}

// New wires all services. cfg must already be valid.
func New(db dbx.Conn, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) (*Services, error) {
	kdf, err := cryptox.NewKDF(cfg.KDFIterations, cfg.KDFMaxIterations, nil)
	if err != nil {
		return nil, err
	}
	cipher := cryptox.NewCipher(nil)

	audit := NewAuditor(db, m, logger)
	vaultSvc := NewVaultService(db, m, kdf, cipher, audit, cfg.MaxFailedAttempts, logger)

	return &Services{
		Vaults:  vaultSvc,
		Folders: NewFolderService(db, m, audit, logger),
		Secrets: NewSecretService(db, m, cipher, audit, logger),
		Shares:  NewShareService(db, m, vaultSvc, cipher, audit, logger),
		Audit:   audit,
		Archive: NewAuditArchiver(audit, cfg, logger),
	}, nil
}

// UnlockedVault is the result of a successful unlock: the vault identity and
// the derived key, held in memory only. Call Wipe when the operation ends.
type UnlockedVault struct {
	vaultID     string
	namespaceID string
	userID      string
	key         cryptox.Key
}

func (u *UnlockedVault) VaultID() string     { return u.vaultID }
func (u *UnlockedVault) NamespaceID() string { return u.namespaceID }
func (u *UnlockedVault) UserID() string      { return u.userID }

// Wipe zeroes the derived key. The handle is unusable afterwards.
func (u *UnlockedVault) Wipe() {
	if u == nil {
		return
	}
	u.key.Wipe()
	u.key = nil
}

func (u *UnlockedVault) usable() error {
	if u == nil || len(u.key) != cryptox.KeySize {
		return fmt.Errorf("%w: vault is not unlocked", common.ErrValidation)
	}
	return nil
}

func checkStatus(v *models.Vault) error {
	switch v.Status {
	case models.VaultStatusLocked:
		return common.ErrVaultLocked
	case models.VaultStatusSuspended:
		return common.ErrVaultSuspended
	}
	return nil
}

type vaultLoader func(ctx context.Context, id string) (*models.Vault, error)

// guardKey loads the vault through load (plain, FOR SHARE or FOR UPDATE) and
// confirms the handle's key still verifies against it, so no write lands under
// a key that a key change has retired.
func guardKey(ctx context.Context, load vaultLoader, u *UnlockedVault) (*models.Vault, error) {
	if err := u.usable(); err != nil {
		return nil, err
	}
	v, err := load(ctx, u.vaultID)
	if err != nil {
		return nil, err
	}
	if v.UserID != u.userID || v.NamespaceID != u.namespaceID {
		return nil, common.ErrAccessDenied
	}
	if err := checkStatus(v); err != nil {
		return nil, err
	}
	if !u.key.Verifies(v.KeyVerifier) {
		return nil, common.ErrStaleKey
	}
	return v, nil
}

func strPtr(s string) *string { return &s }

// clock is overridden in tests.
var clock = func() time.Time { return time.Now().UTC() }

// checkID turns an id that can never name a row into common.ErrorNotFound
// before it reaches a UUID column.
func checkID(kind, id string) error {
	if uuid.Validate(id) != nil {
		return fmt.Errorf("%s %s: %w", kind, id, common.ErrorNotFound)
	}
	return nil
}
