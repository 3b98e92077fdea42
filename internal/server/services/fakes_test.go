package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/accesslogs"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/secrets"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/shares"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/vaults"
)

var errBoom = errors.New("boom")

// fault fails an operation once it has been called more than after times.
type fault struct {
	after int
	err   error
}

// memStore is an in-memory stand-in for the database. Reads hand out copies
// and writes store copies, so a rolled back transaction leaves no trace.
type memStore struct {
	mu sync.Mutex

	vaults  map[string]*models.Vault
	folders map[string]*models.Folder
	secrets map[string]*models.Secret
	shares  map[string]*models.Share
	logs    []*models.AccessLogEntry
	logSeq  int64

	calls       map[string]int
	faults      map[string]fault
	appendPanic bool
}

func newMemStore() *memStore {
	return &memStore{
		vaults:  map[string]*models.Vault{},
		folders: map[string]*models.Folder{},
		secrets: map[string]*models.Secret{},
		shares:  map[string]*models.Share{},
		calls:   map[string]int{},
		faults:  map[string]fault{},
	}
}

func (s *memStore) failAfter(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{after: after, err: err}
}

// hit counts a call of op and returns its injected fault, if due.
// Callers hold s.mu.
func (s *memStore) hit(op string) error {
	s.calls[op]++
	if f, ok := s.faults[op]; ok && s.calls[op] > f.after {
		return f.err
	}
	return nil
}

func cloneVault(v *models.Vault) *models.Vault { c := *v; return &c }
func cloneFolder(f *models.Folder) *models.Folder { c := *f; return &c }
func cloneShare(sh *models.Share) *models.Share { c := *sh; return &c }

func cloneSecret(sec *models.Secret) *models.Secret {
	c := *sec
	c.Tags = append([]string(nil), sec.Tags...)
	return &c
}

type snapshot struct {
	vaults  map[string]*models.Vault
	folders map[string]*models.Folder
	secrets map[string]*models.Secret
	shares  map[string]*models.Share
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		vaults:  map[string]*models.Vault{},
		folders: map[string]*models.Folder{},
		secrets: map[string]*models.Secret{},
		shares:  map[string]*models.Share{},
	}
	for k, v := range s.vaults {
		snap.vaults[k] = cloneVault(v)
	}
	for k, f := range s.folders {
		snap.folders[k] = cloneFolder(f)
	}
	for k, sec := range s.secrets {
		snap.secrets[k] = cloneSecret(sec)
	}
	for k, sh := range s.shares {
		snap.shares[k] = cloneShare(sh)
	}
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults, s.folders, s.secrets, s.shares = snap.vaults, snap.folders, snap.secrets, snap.shares
}

// memConn runs transactions one at a time against a memStore and rolls the
// store back when fn fails.
type memConn struct {
	store *memStore
	txMu  sync.Mutex
	txs   int
}

func (c *memConn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("memConn: no SQL")
}

func (c *memConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("memConn: no SQL")
}

func (c *memConn) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

func (c *memConn) RunInTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.txs++

	snap := c.store.snapshot()
	if err := fn(ctx, c); err != nil {
		c.store.restore(snap)
		return err
	}
	return nil
}

type memManager struct{ store *memStore }

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Vaults(dbx.DBTX) vaults.Repository { return &memVaults{m.store} }
func (m *memManager) Folders(dbx.DBTX) folders.Repository { return &memFolders{m.store} }
func (m *memManager) Secrets(dbx.DBTX) secrets.Repository { return &memSecrets{m.store} }
func (m *memManager) Shares(dbx.DBTX) shares.Repository { return &memShares{m.store} }
func (m *memManager) AccessLogs(dbx.DBTX) accesslogs.Repository { return &memAccessLogs{m.store} }

type memVaults struct{ s *memStore }

func (r *memVaults) Create(_ context.Context, v *models.Vault) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("vaults.Create"); err != nil {
		return err
	}
	for _, x := range r.s.vaults {
		if x.NamespaceID == v.NamespaceID && x.UserID == v.UserID {
			return common.ErrDuplicate
		}
	}
	r.s.vaults[v.ID] = cloneVault(v)
	return nil
}

func (r *memVaults) get(op, id string) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit(op); err != nil {
		return nil, err
	}
	v, ok := r.s.vaults[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneVault(v), nil
}

func (r *memVaults) GetByID(_ context.Context, id string) (*models.Vault, error) {
	return r.get("vaults.GetByID", id)
}

func (r *memVaults) GetForUpdate(_ context.Context, id string) (*models.Vault, error) {
	return r.get("vaults.GetForUpdate", id)
}

func (r *memVaults) GetForShare(_ context.Context, id string) (*models.Vault, error) {
	return r.get("vaults.GetForShare", id)
}

func (r *memVaults) GetByOwner(_ context.Context, namespaceID, userID string) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.vaults {
		if v.NamespaceID == namespaceID && v.UserID == userID {
			return cloneVault(v), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memVaults) update(op, id string, fn func(v *models.Vault)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit(op); err != nil {
		return err
	}
	v, ok := r.s.vaults[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(v)
	return nil
}

func (r *memVaults) UpdateLockState(_ context.Context, in *models.Vault) error {
	return r.update("vaults.UpdateLockState", in.ID, func(v *models.Vault) {
		v.Status, v.FailedAttempts, v.LockedAt, v.LockReason, v.UpdatedAt = in.Status, in.FailedAttempts, in.LockedAt, in.LockReason, in.UpdatedAt
	})
}

func (r *memVaults) RecordUnlock(_ context.Context, id string, at time.Time) error {
	return r.update("vaults.RecordUnlock", id, func(v *models.Vault) {
		v.FailedAttempts = 0
		v.LastAccessedAt = &at
	})
}

func (r *memVaults) UpdateKey(_ context.Context, in *models.Vault) error {
	return r.update("vaults.UpdateKey", in.ID, func(v *models.Vault) {
		v.KeySalt, v.KeyVerifier, v.KDFVersion, v.KDFIterations, v.UpdatedAt = in.KeySalt, in.KeyVerifier, in.KDFVersion, in.KDFIterations, in.UpdatedAt
	})
}

func (r *memVaults) AdjustSecretsCount(_ context.Context, id string, delta int) error {
	return r.update("vaults.AdjustSecretsCount", id, func(v *models.Vault) {
		v.SecretsCount = max(v.SecretsCount+delta, 0)
	})
}

type memFolders struct{ s *memStore }

func (r *memFolders) Create(_ context.Context, f *models.Folder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("folders.Create"); err != nil {
		return err
	}
	r.s.folders[f.ID] = cloneFolder(f)
	return nil
}

func (r *memFolders) GetByID(_ context.Context, id string) (*models.Folder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.folders[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneFolder(f), nil
}

func (r *memFolders) collect(keep func(f *models.Folder) bool) []*models.Folder {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Folder
	for _, f := range r.s.folders {
		if keep(f) {
			out = append(out, cloneFolder(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *memFolders) List(_ context.Context, vaultID string, parentID *string) ([]*models.Folder, error) {
	return r.collect(func(f *models.Folder) bool {
		if f.VaultID != vaultID {
			return false
		}
		return parentID == nil || (f.ParentFolderID != nil && *f.ParentFolderID == *parentID)
	}), nil
}

func (r *memFolders) ListDescendants(_ context.Context, vaultID, prefix string) ([]*models.Folder, error) {
	return r.collect(func(f *models.Folder) bool {
		return f.VaultID == vaultID && strings.HasPrefix(f.Path, prefix)
	}), nil
}

func (r *memFolders) Update(_ context.Context, in *models.Folder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("folders.Update"); err != nil {
		return err
	}
	f, ok := r.s.folders[in.ID]
	if !ok {
		return common.ErrorNotFound
	}
	f.Name, f.ParentFolderID, f.Path, f.Depth, f.UpdatedAt = in.Name, in.ParentFolderID, in.Path, in.Depth, in.UpdatedAt
	return nil
}

func (r *memFolders) CountChildren(_ context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, f := range r.s.folders {
		if f.ParentFolderID != nil && *f.ParentFolderID == id {
			n++
		}
	}
	return n, nil
}

func (r *memFolders) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("folders.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.folders[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.folders, id)
	return nil
}

func (r *memFolders) AdjustSecretsCount(_ context.Context, id string, delta int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.folders[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.SecretsCount = max(f.SecretsCount+delta, 0)
	return nil
}

type memSecrets struct{ s *memStore }

func (r *memSecrets) Create(_ context.Context, sec *models.Secret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("secrets.Create"); err != nil {
		return err
	}
	if sec.Value == nil {
		return common.ErrValidation
	}
	r.s.secrets[sec.ID] = cloneSecret(sec)
	return nil
}

func (r *memSecrets) get(id string) (*models.Secret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneSecret(sec), nil
}

func (r *memSecrets) GetByID(_ context.Context, id string) (*models.Secret, error) { return r.get(id) }

func (r *memSecrets) GetForUpdate(_ context.Context, id string) (*models.Secret, error) {
	return r.get(id)
}

func (r *memSecrets) List(_ context.Context, vaultID string, f models.SecretFilter, now time.Time) (*models.SecretPage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []*models.Secret
	for _, sec := range r.s.secrets {
		if sec.VaultID != vaultID {
			continue
		}
		if f.FolderID != nil {
			folder := ""
			if sec.FolderID != nil {
				folder = *sec.FolderID
			}
			if folder != *f.FolderID {
				continue
			}
		}
		if f.SecretType != "" && sec.SecretType != f.SecretType {
			continue
		}
		if f.Tag != "" && !containsString(sec.Tags, f.Tag) {
			continue
		}
		if f.Search != "" {
			q := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(sec.Name), q) && !strings.Contains(strings.ToLower(sec.Description), q) {
				continue
			}
		}
		if f.RotationDue && (sec.RotationReminderAt == nil || sec.RotationReminderAt.After(now)) {
			continue
		}
		if f.Expired && (sec.ExpiresAt == nil || sec.ExpiresAt.After(now)) {
			continue
		}
		all = append(all, sec)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})

	page := &models.SecretPage{Total: len(all), Items: []*models.SecretSummary{}}
	limit := f.Limit
	if limit <= 0 {
		limit = secrets.DefaultListLimit
	}
	for i := f.Offset; i < len(all) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, all[i].Summary())
	}
	return page, nil
}

func (r *memSecrets) ListByVault(_ context.Context, vaultID string) ([]*models.Secret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Secret
	for _, sec := range r.s.secrets {
		if sec.VaultID == vaultID {
			out = append(out, cloneSecret(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSecrets) ListIDsByFolder(_ context.Context, folderID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []string
	for _, sec := range r.s.secrets {
		if sec.FolderID != nil && *sec.FolderID == folderID {
			out = append(out, sec.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memSecrets) Update(_ context.Context, in *models.Secret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("secrets.Update"); err != nil {
		return err
	}
	if _, ok := r.s.secrets[in.ID]; !ok {
		return common.ErrorNotFound
	}
	r.s.secrets[in.ID] = cloneSecret(in)
	return nil
}

func (r *memSecrets) UpdateCiphertext(_ context.Context, in *models.Secret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("secrets.UpdateCiphertext"); err != nil {
		return err
	}
	sec, ok := r.s.secrets[in.ID]
	if !ok {
		return common.ErrorNotFound
	}
	sec.Value, sec.Metadata, sec.EncryptionVersion = in.Value, in.Metadata, in.EncryptionVersion
	return nil
}

// Delete mirrors the foreign keys: shares lose their source or target
// reference but are kept.
func (r *memSecrets) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("secrets.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.secrets[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.secrets, id)
	for _, sh := range r.s.shares {
		if sh.SourceSecretID != nil && *sh.SourceSecretID == id {
			sh.SourceSecretID = nil
		}
		if sh.TargetSecretID != nil && *sh.TargetSecretID == id {
			sh.TargetSecretID = nil
		}
	}
	return nil
}

func (r *memSecrets) RecordAccess(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[id]
	if !ok {
		return common.ErrorNotFound
	}
	sec.AccessCount++
	sec.LastAccessedAt = &at
	return nil
}

func (r *memSecrets) AdjustShareCount(_ context.Context, id string, delta int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[id]
	if !ok {
		return common.ErrorNotFound
	}
	sec.ShareCount = max(sec.ShareCount+delta, 0)
	return nil
}

type memShares struct{ s *memStore }

func (r *memShares) Create(_ context.Context, sh *models.Share) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("shares.Create"); err != nil {
		return err
	}
	r.s.shares[sh.ID] = cloneShare(sh)
	return nil
}

func (r *memShares) GetByID(_ context.Context, id string) (*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sh, ok := r.s.shares[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneShare(sh), nil
}

func (r *memShares) GetForUpdate(ctx context.Context, id string) (*models.Share, error) {
	return r.GetByID(ctx, id)
}

func (r *memShares) GetByTargetSecret(_ context.Context, secretID string) (*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sh := range r.s.shares {
		if sh.TargetSecretID != nil && *sh.TargetSecretID == secretID {
			return cloneShare(sh), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memShares) Revoke(_ context.Context, id, by string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sh, ok := r.s.shares[id]
	if !ok || sh.Status != models.ShareStatusActive {
		return common.ErrShareRevoked
	}
	sh.Status = models.ShareStatusRevoked
	sh.RevokedBy = &by
	sh.RevokedAt = &at
	return nil
}

func (r *memShares) List(_ context.Context, vaultID, direction string) ([]*models.Share, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Share
	for _, sh := range r.s.shares {
		switch direction {
		case models.ShareDirectionOutbound:
			if sh.SourceVaultID != vaultID {
				continue
			}
		case models.ShareDirectionInbound:
			if sh.TargetVaultID != vaultID {
				continue
			}
		default:
			return nil, fmt.Errorf("%w: direction %q", common.ErrValidation, direction)
		}
		out = append(out, cloneShare(sh))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memAccessLogs struct{ s *memStore }

func (r *memAccessLogs) Append(ctx context.Context, e *models.AccessLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendPanic {
		panic("audit storage exploded")
	}
	if err := r.s.hit("accesslogs.Append"); err != nil {
		return err
	}
	r.s.logSeq++
	e.ID = r.s.logSeq
	c := *e
	r.s.logs = append(r.s.logs, &c)
	return nil
}

func (r *memAccessLogs) List(_ context.Context, namespaceID string, f models.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.hit("accesslogs.List"); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = accesslogs.DefaultListLimit
	}
	var out []*models.AccessLogEntry
	skipped := 0
	for _, e := range r.s.logs {
		if e.NamespaceID != namespaceID ||
			(f.VaultID != "" && (e.VaultID == nil || *e.VaultID != f.VaultID)) ||
			(f.SecretID != "" && (e.SecretID == nil || *e.SecretID != f.SecretID)) ||
			(f.UserID != "" && e.UserID != f.UserID) ||
			(f.Action != "" && e.Action != f.Action) ||
			(f.From != nil && e.CreatedAt.Before(*f.From)) ||
			(f.To != nil && !e.CreatedAt.Before(*f.To)) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if len(out) == limit {
			break
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// actions lists the audited actions in order, for assertions.
func (s *memStore) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.logs))
	for _, e := range s.logs {
		out = append(out, e.Action)
	}
	return out
}

func (s *memStore) lastLog() *models.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) == 0 {
		return nil
	}
	return s.logs[len(s.logs)-1]
}

func (s *memStore) vault(id string) *models.Vault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneVault(s.vaults[id])
}

func (s *memStore) secret(id string) (*models.Secret, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[id]
	if !ok {
		return nil, false
	}
	return cloneSecret(sec), true
}

func (s *memStore) folder(id string) *models.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFolder(s.folders[id])
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
