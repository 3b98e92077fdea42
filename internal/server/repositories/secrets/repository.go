package secrets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, secret *models.Secret) error
	GetByID(ctx context.Context, id string) (*models.Secret, error)
	GetForUpdate(ctx context.Context, id string) (*models.Secret, error)
	List(ctx context.Context, vaultID string, filter models.SecretFilter, now time.Time) (*models.SecretPage, error)
	ListByVault(ctx context.Context, vaultID string) ([]*models.Secret, error)
	ListIDsByFolder(ctx context.Context, folderID string) ([]string, error)
	Update(ctx context.Context, secret *models.Secret) error
	UpdateCiphertext(ctx context.Context, secret *models.Secret) error
	Delete(ctx context.Context, id string) error
	RecordAccess(ctx context.Context, id string, at time.Time) error
	AdjustShareCount(ctx context.Context, id string, delta int) error
}
