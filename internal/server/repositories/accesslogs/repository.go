package accesslogs

import (
	"context"

	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, entry *models.AccessLogEntry) error
	List(ctx context.Context, namespaceID string, filter models.AccessLogFilter) ([]*models.AccessLogEntry, error)
}
