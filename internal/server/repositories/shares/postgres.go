// Package shares provides the PostgreSQL repository for share records.
package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

const selectShare = `
	SELECT id, source_secret_id, source_vault_id, shared_by_user_id, target_secret_id, target_vault_id,
		shared_with_user_id, permission, can_reshare, expires_at, status, message, revoked_at, revoked_by, created_at
	FROM vault_shares
	`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Share) error {
	query := `
		INSERT INTO vault_shares (id, source_secret_id, source_vault_id, shared_by_user_id, target_secret_id, target_vault_id,
			shared_with_user_id, permission, can_reshare, expires_at, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.SourceSecretID, s.SourceVaultID, s.SharedByUserID, s.TargetSecretID, s.TargetVaultID,
		s.SharedWithUserID, s.Permission, s.CanReshare, s.ExpiresAt, s.Status, s.Message, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Share, error) {
	return r.get(ctx, selectShare+`WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Share, error) {
	return r.get(ctx, selectShare+`WHERE id = $1 FOR UPDATE`, id)
}

// GetByTargetSecret finds the share that produced the given copy.
func (r *PostgresRepository) GetByTargetSecret(ctx context.Context, secretID string) (*models.Share, error) {
	return r.get(ctx, selectShare+`WHERE target_secret_id = $1`, secretID)
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...any) (*models.Share, error) {
	s, err := scanShare(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidTextRepresentation(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Revoke marks an active share revoked. A share that is already revoked
// yields common.ErrShareRevoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id, revokedBy string, at time.Time) error {
	query := `
		UPDATE vault_shares SET status = 'revoked', revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND status = 'active'
		`
	res, err := r.db.ExecContext(ctx, query, id, at, revokedBy)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrShareRevoked
	}
	return nil
}

// List returns shares granted from (outbound) or to (inbound) the vault,
// newest first.
func (r *PostgresRepository) List(ctx context.Context, vaultID, direction string) ([]*models.Share, error) {
	var query string
	switch direction {
	case models.ShareDirectionOutbound:
		query = selectShare + `WHERE source_vault_id = $1 ORDER BY created_at DESC`
	case models.ShareDirectionInbound:
		query = selectShare + `WHERE target_vault_id = $1 ORDER BY created_at DESC`
	default:
		return nil, fmt.Errorf("%w: unknown share direction %q", common.ErrValidation, direction)
	}

	rows, err := r.db.QueryContext(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*models.Share, error) {
	s := &models.Share{}
	err := row.Scan(
		&s.ID, &s.SourceSecretID, &s.SourceVaultID, &s.SharedByUserID, &s.TargetSecretID, &s.TargetVaultID,
		&s.SharedWithUserID, &s.Permission, &s.CanReshare, &s.ExpiresAt, &s.Status, &s.Message,
		&s.RevokedAt, &s.RevokedBy, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
