package shares

import (
	"context"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, share *models.Share) error
	GetByID(ctx context.Context, id string) (*models.Share, error)
	GetForUpdate(ctx context.Context, id string) (*models.Share, error)
	GetByTargetSecret(ctx context.Context, secretID string) (*models.Share, error)
	Revoke(ctx context.Context, id, revokedBy string, at time.Time) error
	List(ctx context.Context, vaultID, direction string) ([]*models.Share, error)
}
