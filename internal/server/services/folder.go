package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
)

// UpdateFolderInput changes a folder. Nil fields are left alone; a ParentID
// pointing at "" moves the folder to the root.
type UpdateFolderInput struct {
	Name     *string
	ParentID *string
}

// FolderService maintains the folder tree of a vault. Folders carry no key
// material; path and depth are kept consistent with the parent chain.
type FolderService struct {
	db          dbx.Conn
	repomanager repomanager.RepositoryManager
	audit       *Auditor
	logger      logging.Logger
}

func NewFolderService(db dbx.Conn, m repomanager.RepositoryManager, audit *Auditor, logger logging.Logger) *FolderService {
	return &FolderService{db: db, repomanager: m, audit: audit, logger: logger.With("module", "folders")}
}

// Create adds a folder under parentID, or at the root when parentID is nil.
func (s *FolderService) Create(ctx context.Context, u *UnlockedVault, name string, parentID *string) (*models.Folder, error) {
	var folder *models.Folder

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForShare, u); err != nil {
			return err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%w: folder name is required", common.ErrValidation)
		}

		repo := s.repomanager.Folders(tx)
		now := clock()
		f := &models.Folder{ID: uuid.NewString(), VaultID: u.vaultID, Name: name, CreatedAt: now, UpdatedAt: now}

		if parentID != nil {
			parent, err := loadFolder(ctx, repo, u.vaultID, *parentID)
			if err != nil {
				return err
			}
			f.ParentFolderID = &parent.ID
			f.Path = parent.ChildPath()
			f.Depth = parent.Depth + 1
		}

		if err := repo.Create(ctx, f); err != nil {
			return err
		}
		folder = f
		return nil
	})

	e := entry(u, models.ActionFolderCreate)
	if folder != nil {
		e.FolderID = strPtr(folder.ID)
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// List returns the children of parentID, or the whole tree when it is nil.
func (s *FolderService) List(ctx context.Context, u *UnlockedVault, parentID *string) ([]*models.Folder, error) {
	if _, err := guardKey(ctx, s.repomanager.Vaults(s.db).GetByID, u); err != nil {
		return nil, err
	}
	if parentID != nil {
		if err := checkID("folder", *parentID); err != nil {
			return nil, err
		}
	}
	return s.repomanager.Folders(s.db).List(ctx, u.vaultID, parentID)
}

// Update renames and/or moves a folder. A move recomputes path and depth of
// the folder and every descendant; moving a folder under itself or one of its
// descendants is rejected.
func (s *FolderService) Update(ctx context.Context, u *UnlockedVault, folderID string, in UpdateFolderInput) (*models.Folder, error) {
	var folder *models.Folder
	var moved int

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForShare, u); err != nil {
			return err
		}
		repo := s.repomanager.Folders(tx)

		f, err := loadFolder(ctx, repo, u.vaultID, folderID)
		if err != nil {
			return err
		}

		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return fmt.Errorf("%w: folder name is required", common.ErrValidation)
			}
			f.Name = name
		}

		oldChildPath := f.ChildPath()
		if in.ParentID != nil {
			if err := reparent(ctx, repo, u, f, *in.ParentID); err != nil {
				return err
			}
		}

		f.UpdatedAt = clock()
		if err := repo.Update(ctx, f); err != nil {
			return err
		}

		if newChildPath := f.ChildPath(); newChildPath != oldChildPath {
			descendants, err := repo.ListDescendants(ctx, u.vaultID, oldChildPath)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				d.Path = newChildPath + strings.TrimPrefix(d.Path, oldChildPath)
				d.Depth = strings.Count(d.Path, "/")
				d.UpdatedAt = f.UpdatedAt
				if err := repo.Update(ctx, d); err != nil {
					return err
				}
			}
			moved = len(descendants)
		}

		folder = f
		return nil
	})

	e := entry(u, models.ActionFolderUpdate)
	e.FolderID = strPtr(folderID)
	if moved > 0 {
		e.Metadata = map[string]string{"descendants_moved": strconv.Itoa(moved)}
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return nil, err
	}
	return folder, nil
}

func reparent(ctx context.Context, repo folders.Repository, u *UnlockedVault, f *models.Folder, parentID string) error {
	if parentID == "" {
		f.ParentFolderID = nil
		f.Path = ""
		f.Depth = 0
		return nil
	}
	if parentID == f.ID {
		return fmt.Errorf("%w: a folder cannot be its own parent", common.ErrValidation)
	}

	parent, err := loadFolder(ctx, repo, u.vaultID, parentID)
	if err != nil {
		return err
	}
	if strings.HasPrefix(parent.Path, f.ChildPath()) {
		return fmt.Errorf("%w: cannot move a folder under its own descendant", common.ErrValidation)
	}

	f.ParentFolderID = &parent.ID
	f.Path = parent.ChildPath()
	f.Depth = parent.Depth + 1
	return nil
}

// Delete removes an empty-of-subfolders folder together with the secrets
// directly inside it.
func (s *FolderService) Delete(ctx context.Context, u *UnlockedVault, folderID string) error {
	var deleted int

	err := s.db.RunInTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := guardKey(ctx, s.repomanager.Vaults(tx).GetForUpdate, u); err != nil {
			return err
		}
		repo := s.repomanager.Folders(tx)
		secretRepo := s.repomanager.Secrets(tx)

		f, err := loadFolder(ctx, repo, u.vaultID, folderID)
		if err != nil {
			return err
		}

		children, err := repo.CountChildren(ctx, f.ID)
		if err != nil {
			return err
		}
		if children > 0 {
			return fmt.Errorf("%w: folder has %d sub-folders", common.ErrValidation, children)
		}

		ids, err := secretRepo.ListIDsByFolder(ctx, f.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := secretRepo.Delete(ctx, id); err != nil {
				return err
			}
		}
		if len(ids) > 0 {
			if err := s.repomanager.Vaults(tx).AdjustSecretsCount(ctx, u.vaultID, -len(ids)); err != nil {
				return err
			}
		}
		deleted = len(ids)

		return repo.Delete(ctx, f.ID)
	})

	e := entry(u, models.ActionFolderDelete)
	e.FolderID = strPtr(folderID)
	if deleted > 0 {
		e.Metadata = map[string]string{"secrets_deleted": strconv.Itoa(deleted)}
	}
	_ = s.audit.Record(ctx, e, err)
	if err != nil {
		return err
	}

	s.logger.Debug(ctx, "folder deleted", "folder_id", folderID, "secrets_deleted", deleted)
	return nil
}

// loadFolder reads a folder and checks it belongs to vaultID.
func loadFolder(ctx context.Context, repo folders.Repository, vaultID, id string) (*models.Folder, error) {
	if err := checkID("folder", id); err != nil {
		return nil, err
	}
	f, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("folder %s: %w", id, common.ErrorNotFound)
		}
		return nil, err
	}
	if f.VaultID != vaultID {
		return nil, common.ErrCrossVault
	}
	return f, nil
}
