package vaults

import (
	"context"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, vault *models.Vault) error
	GetByID(ctx context.Context, id string) (*models.Vault, error)
	GetByOwner(ctx context.Context, namespaceID, userID string) (*models.Vault, error)
	GetForUpdate(ctx context.Context, id string) (*models.Vault, error)
	GetForShare(ctx context.Context, id string) (*models.Vault, error)
	UpdateLockState(ctx context.Context, vault *models.Vault) error
	RecordUnlock(ctx context.Context, id string, at time.Time) error
	UpdateKey(ctx context.Context, vault *models.Vault) error
	AdjustSecretsCount(ctx context.Context, id string, delta int) error
}
