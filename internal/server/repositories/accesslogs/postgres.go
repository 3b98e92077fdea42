// Package accesslogs provides the append-only PostgreSQL audit log.
package accesslogs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts the entry and fills in its generated ID.
func (r *PostgresRepository) Append(ctx context.Context, e *models.AccessLogEntry) error {
	var metadata *string
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		s := string(b)
		metadata = &s
	}

	query := `
		INSERT INTO access_logs (namespace_id, vault_id, secret_id, folder_id, user_id, action, action_detail,
			success, error_message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
		`
	err := r.db.QueryRowContext(ctx, query,
		e.NamespaceID, e.VaultID, e.SecretID, e.FolderID, e.UserID, e.Action, e.ActionDetail,
		e.Success, e.ErrorMessage, metadata, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// List returns entries of the namespace matching filter in insertion order.
// To is exclusive.
func (r *PostgresRepository) List(ctx context.Context, namespaceID string, f models.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	conds := []string{"namespace_id = $1"}
	args := []any{namespaceID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.VaultID != "" {
		add("vault_id =", f.VaultID)
	}
	if f.SecretID != "" {
		add("secret_id =", f.SecretID)
	}
	if f.UserID != "" {
		add("user_id =", f.UserID)
	}
	if f.Action != "" {
		add("action =", f.Action)
	}
	if f.From != nil {
		add("created_at >=", *f.From)
	}
	if f.To != nil {
		add("created_at <", *f.To)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(f.Offset, 0)
	args = append(args, limit, offset)

	query := `SELECT id, namespace_id, vault_id, secret_id, folder_id, user_id, action, action_detail,
		success, error_message, metadata, created_at
		FROM access_logs WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessLogEntry
	for rows.Next() {
		e := &models.AccessLogEntry{}
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.NamespaceID, &e.VaultID, &e.SecretID, &e.FolderID, &e.UserID, &e.Action, &e.ActionDetail,
			&e.Success, &e.ErrorMessage, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
