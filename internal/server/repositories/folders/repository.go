package folders

import (
	"context"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	List(ctx context.Context, vaultID string, parentID *string) ([]*models.Folder, error)
	ListDescendants(ctx context.Context, vaultID, pathPrefix string) ([]*models.Folder, error)
	Update(ctx context.Context, folder *models.Folder) error
	CountChildren(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
	AdjustSecretsCount(ctx context.Context, id string, delta int) error
}
