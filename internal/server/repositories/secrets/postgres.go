// Package secrets provides the PostgreSQL repository for encrypted secret
// records. Listings are built from a column set that excludes every
// encrypted field.
package secrets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/cryptox"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const summaryColumns = `id, vault_id, folder_id, name, secret_type, description, tags, encrypted_metadata IS NOT NULL,
		expires_at, rotation_reminder_at, is_shared, share_count, access_count, last_accessed_at, last_rotated_at,
		created_by, updated_by, created_at, updated_at`

const selectSecret = `
	SELECT id, vault_id, folder_id, name, secret_type, description, tags,
		encrypted_value, encryption_iv, encryption_tag, encrypted_metadata, metadata_iv, metadata_tag, encryption_version,
		expires_at, rotation_reminder_at, is_shared, share_count, access_count, last_accessed_at, last_rotated_at,
		created_by, updated_by, created_at, updated_at
	FROM vault_secrets
	`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Secret) error {
	if s.Value == nil {
		return fmt.Errorf("%w: secret value is required", common.ErrValidation)
	}
	tags, err := encodeTags(s.Tags)
	if err != nil {
		return err
	}
	metaCT, metaIV, metaTag := sealedParts(s.Metadata)

	query := `
		INSERT INTO vault_secrets (id, vault_id, folder_id, name, secret_type, description, tags,
			encrypted_value, encryption_iv, encryption_tag, encrypted_metadata, metadata_iv, metadata_tag, encryption_version,
			expires_at, rotation_reminder_at, is_shared, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.VaultID, s.FolderID, s.Name, s.SecretType, s.Description, tags,
		s.Value.Ciphertext, s.Value.IV, s.Value.Tag, metaCT, metaIV, metaTag, s.EncryptionVersion,
		s.ExpiresAt, s.RotationReminderAt, s.IsShared, s.CreatedBy, s.UpdatedBy, s.CreatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: folder or vault", common.ErrorNotFound)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Secret, error) {
	return r.get(ctx, selectSecret+`WHERE id = $1`, id)
}

// GetForUpdate reads the secret and locks its row for the rest of the transaction.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Secret, error) {
	return r.get(ctx, selectSecret+`WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, args ...any) (*models.Secret, error) {
	s, err := scanSecret(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || dbx.IsInvalidTextRepresentation(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// List returns one page of summaries matching filter plus the total count.
// now is the reference time for the RotationDue and Expired filters.
func (r *PostgresRepository) List(ctx context.Context, vaultID string, filter models.SecretFilter, now time.Time) (*models.SecretPage, error) {
	where, args := buildFilter(vaultID, filter, now)

	page := &models.SecretPage{}
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM vault_secrets WHERE `+where, args...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := `SELECT ` + summaryColumns + ` FROM vault_secrets WHERE ` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func buildFilter(vaultID string, f models.SecretFilter, now time.Time) (string, []any) {
	conds := []string{"vault_id = $1"}
	args := []any{vaultID}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch {
	case f.FolderID == nil:
	case *f.FolderID == "":
		conds = append(conds, "folder_id IS NULL")
	default:
		conds = append(conds, "folder_id = "+next(*f.FolderID))
	}
	if f.SecretType != "" {
		conds = append(conds, "secret_type = "+next(f.SecretType))
	}
	if f.Tag != "" {
		tag, _ := json.Marshal([]string{f.Tag})
		conds = append(conds, "tags @> "+next(string(tag))+"::jsonb")
	}
	if f.Search != "" {
		p := next("%" + escapeLike(f.Search) + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if f.RotationDue {
		conds = append(conds, "rotation_reminder_at <= "+next(now))
	}
	if f.Expired {
		conds = append(conds, "expires_at <= "+next(now))
	}
	return strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListByVault returns every secret of the vault including ciphertext.
// Used for key rotation only.
func (r *PostgresRepository) ListByVault(ctx context.Context, vaultID string) ([]*models.Secret, error) {
	rows, err := r.db.QueryContext(ctx, selectSecret+`WHERE vault_id = $1 ORDER BY id`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
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

func (r *PostgresRepository) ListIDsByFolder(ctx context.Context, folderID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM vault_secrets WHERE folder_id = $1`, folderID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Update writes every mutable field of the secret.
func (r *PostgresRepository) Update(ctx context.Context, s *models.Secret) error {
	if s.Value == nil {
		return fmt.Errorf("%w: secret value is required", common.ErrValidation)
	}
	tags, err := encodeTags(s.Tags)
	if err != nil {
		return err
	}
	metaCT, metaIV, metaTag := sealedParts(s.Metadata)

	query := `
		UPDATE vault_secrets SET folder_id = $2, name = $3, secret_type = $4, description = $5, tags = $6,
			encrypted_value = $7, encryption_iv = $8, encryption_tag = $9,
			encrypted_metadata = $10, metadata_iv = $11, metadata_tag = $12, encryption_version = $13,
			expires_at = $14, rotation_reminder_at = $15, last_rotated_at = $16, updated_by = $17, updated_at = $18
		WHERE id = $1
		`
	return r.exec(ctx, query,
		s.ID, s.FolderID, s.Name, s.SecretType, s.Description, tags,
		s.Value.Ciphertext, s.Value.IV, s.Value.Tag, metaCT, metaIV, metaTag, s.EncryptionVersion,
		s.ExpiresAt, s.RotationReminderAt, s.LastRotatedAt, s.UpdatedBy, s.UpdatedAt)
}

// UpdateCiphertext replaces only the encrypted fields.
func (r *PostgresRepository) UpdateCiphertext(ctx context.Context, s *models.Secret) error {
	if s.Value == nil {
		return fmt.Errorf("%w: secret value is required", common.ErrValidation)
	}
	metaCT, metaIV, metaTag := sealedParts(s.Metadata)

	query := `
		UPDATE vault_secrets SET encrypted_value = $2, encryption_iv = $3, encryption_tag = $4,
			encrypted_metadata = $5, metadata_iv = $6, metadata_tag = $7, encryption_version = $8
		WHERE id = $1
		`
	return r.exec(ctx, query,
		s.ID, s.Value.Ciphertext, s.Value.IV, s.Value.Tag, metaCT, metaIV, metaTag, s.EncryptionVersion)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM vault_secrets WHERE id = $1`, id)
}

// RecordAccess bumps access_count and stamps last_accessed_at.
func (r *PostgresRepository) RecordAccess(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE vault_secrets SET access_count = access_count + 1, last_accessed_at = $2
		WHERE id = $1
		`
	return r.exec(ctx, query, id, at)
}

func (r *PostgresRepository) AdjustShareCount(ctx context.Context, id string, delta int) error {
	query := `
		UPDATE vault_secrets SET share_count = GREATEST(share_count + $2, 0)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(row scanner) (*models.Secret, error) {
	s := &models.Secret{}
	var (
		tags                []byte
		valCT, valIV, valTg []byte
		mCT, mIV, mTag      []byte
	)
	err := row.Scan(
		&s.ID, &s.VaultID, &s.FolderID, &s.Name, &s.SecretType, &s.Description, &tags,
		&valCT, &valIV, &valTg, &mCT, &mIV, &mTag, &s.EncryptionVersion,
		&s.ExpiresAt, &s.RotationReminderAt, &s.IsShared, &s.ShareCount, &s.AccessCount, &s.LastAccessedAt, &s.LastRotatedAt,
		&s.CreatedBy, &s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if s.Value, err = cryptox.NewSealed(valCT, valIV, valTg); err != nil {
		return nil, fmt.Errorf("secret %s value: %w", s.ID, err)
	}
	if s.Metadata, err = cryptox.NewSealed(mCT, mIV, mTag); err != nil {
		return nil, fmt.Errorf("secret %s metadata: %w", s.ID, err)
	}
	return s, nil
}

func scanSummary(row scanner) (*models.SecretSummary, error) {
	s := &models.SecretSummary{}
	var tags []byte
	err := row.Scan(
		&s.ID, &s.VaultID, &s.FolderID, &s.Name, &s.SecretType, &s.Description, &tags, &s.HasMetadata,
		&s.ExpiresAt, &s.RotationReminderAt, &s.IsShared, &s.ShareCount, &s.AccessCount, &s.LastAccessedAt, &s.LastRotatedAt,
		&s.CreatedBy, &s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return s, nil
}

func sealedParts(s *cryptox.Sealed) (ciphertext, iv, tag []byte) {
	if s == nil {
		return nil, nil, nil
	}
	return s.Ciphertext, s.IV, s.Tag
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal(b, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}
