// Package vaults provides the PostgreSQL repository for vault records:
// key material, lockout state and counters.
package vaults

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

const selectVault = `
	SELECT id, namespace_id, user_id, name, key_salt, key_verifier, kdf_version, kdf_iterations,
		status, failed_attempts, locked_at, lock_reason, secrets_count, last_accessed_at, created_at, updated_at
	FROM vaults
	`

// PostgresRepository implements vault storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new vault. A second vault for the same (namespace, user)
// yields common.ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, v *models.Vault) error {
	query := `
		INSERT INTO vaults (id, namespace_id, user_id, name, key_salt, key_verifier, kdf_version, kdf_iterations,
			status, failed_attempts, secrets_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, $10, $10)
		`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.NamespaceID, v.UserID, v.Name, v.KeySalt, v.KeyVerifier, v.KDFVersion, v.KDFIterations,
		v.Status, v.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Vault, error) {
	return r.get(ctx, selectVault+`WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByOwner(ctx context.Context, namespaceID, userID string) (*models.Vault, error) {
	return r.get(ctx, selectVault+`WHERE namespace_id = $1 AND user_id = $2`, namespaceID, userID)
}

// GetForUpdate reads the vault and holds an exclusive row lock until the
// surrounding transaction ends. Only meaningful on a *sql.Tx.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Vault, error) {
	return r.get(ctx, selectVault+`WHERE id = $1 FOR UPDATE`, id)
}

// GetForShare reads the vault under a shared row lock, which blocks a
// concurrent GetForUpdate (key change) but not other readers.
func (r *PostgresRepository) GetForShare(ctx context.Context, id string) (*models.Vault, error) {
	return r.get(ctx, selectVault+`WHERE id = $1 FOR SHARE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...any) (*models.Vault, error) {
	v := &models.Vault{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&v.ID, &v.NamespaceID, &v.UserID, &v.Name, &v.KeySalt, &v.KeyVerifier, &v.KDFVersion, &v.KDFIterations,
		&v.Status, &v.FailedAttempts, &v.LockedAt, &v.LockReason, &v.SecretsCount, &v.LastAccessedAt,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidTextRepresentation(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

// UpdateLockState persists status, failed_attempts, locked_at and lock_reason.
func (r *PostgresRepository) UpdateLockState(ctx context.Context, v *models.Vault) error {
	query := `
		UPDATE vaults SET status = $2, failed_attempts = $3, locked_at = $4, lock_reason = $5, updated_at = $6
		WHERE id = $1
		`
	return r.exec(ctx, query, v.ID, v.Status, v.FailedAttempts, v.LockedAt, v.LockReason, v.UpdatedAt)
}

// RecordUnlock clears the failure counter and stamps last_accessed_at.
func (r *PostgresRepository) RecordUnlock(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE vaults SET failed_attempts = 0, last_accessed_at = $2
		WHERE id = $1
		`
	return r.exec(ctx, query, id, at)
}

// UpdateKey swaps the salt, verifier and KDF parameters.
func (r *PostgresRepository) UpdateKey(ctx context.Context, v *models.Vault) error {
	query := `
		UPDATE vaults SET key_salt = $2, key_verifier = $3, kdf_version = $4, kdf_iterations = $5, updated_at = $6
		WHERE id = $1
		`
	return r.exec(ctx, query, v.ID, v.KeySalt, v.KeyVerifier, v.KDFVersion, v.KDFIterations, v.UpdatedAt)
}

func (r *PostgresRepository) AdjustSecretsCount(ctx context.Context, id string, delta int) error {
	query := `
		UPDATE vaults SET secrets_count = GREATEST(secrets_count + $2, 0)
		WHERE id = $1
		`
	return r.exec(ctx, query, id, delta)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
