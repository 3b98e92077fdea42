// Package folders provides the PostgreSQL repository for the folder tree.
package folders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

const selectFolder = `
	SELECT id, vault_id, parent_folder_id, name, path, depth, secrets_count, created_at, updated_at
	FROM vault_folders
	`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.Folder) error {
	query := `
		INSERT INTO vault_folders (id, vault_id, parent_folder_id, name, path, depth, secrets_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
		`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.VaultID, f.ParentFolderID, f.Name, f.Path, f.Depth, f.CreatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: parent folder or vault", common.ErrorNotFound)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	f := &models.Folder{}
	err := scanFolder(r.db.QueryRowContext(ctx, selectFolder+`WHERE id = $1`, id), f)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidTextRepresentation(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// List returns the direct children of parentID. A nil parentID returns the
// whole tree of the vault, parents before children.
func (r *PostgresRepository) List(ctx context.Context, vaultID string, parentID *string) ([]*models.Folder, error) {
	if parentID == nil {
		return r.query(ctx, selectFolder+`WHERE vault_id = $1 ORDER BY depth, path, name`, vaultID)
	}
	return r.query(ctx, selectFolder+`WHERE vault_id = $1 AND parent_folder_id = $2 ORDER BY name`, vaultID, *parentID)
}

// ListDescendants returns every folder whose path starts with pathPrefix,
// shallowest first.
func (r *PostgresRepository) ListDescendants(ctx context.Context, vaultID, pathPrefix string) ([]*models.Folder, error) {
	return r.query(ctx, selectFolder+`WHERE vault_id = $1 AND left(path, length($2)) = $2 ORDER BY depth`, vaultID, pathPrefix)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Folder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Folder
	for rows.Next() {
		f := &models.Folder{}
		if err := scanFolder(rows, f); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(s scanner, f *models.Folder) error {
	return s.Scan(&f.ID, &f.VaultID, &f.ParentFolderID, &f.Name, &f.Path, &f.Depth, &f.SecretsCount, &f.CreatedAt, &f.UpdatedAt)
}

// Update writes name, parent, path and depth.
func (r *PostgresRepository) Update(ctx context.Context, f *models.Folder) error {
	query := `
		UPDATE vault_folders SET name = $2, parent_folder_id = $3, path = $4, depth = $5, updated_at = $6
		WHERE id = $1
		`
	return r.exec(ctx, query, f.ID, f.Name, f.ParentFolderID, f.Path, f.Depth, f.UpdatedAt)
}

func (r *PostgresRepository) CountChildren(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM vault_folders WHERE parent_folder_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM vault_folders WHERE id = $1`, id)
}

func (r *PostgresRepository) AdjustSecretsCount(ctx context.Context, id string, delta int) error {
	query := `
		UPDATE vault_folders SET secrets_count = GREATEST(secrets_count + $2, 0)
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
