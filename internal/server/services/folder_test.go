package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/secretvault/internal/common"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

func TestFolder_TreePaths(t *testing.T) {
	h := newHarness(t)
	h.createVault(alice, alicePass)
	u := h.open(alice, alicePass)

	prod, err := h.svc.Folders.Create(h.ctx, u, "prod", nil)
	require.NoError(t, err)
	db, err := h.svc.Folders.Create(h.ctx, u, "db", &prod.ID)
	require.NoError(t, err)
	replicas, err := h.svc.Folders.Create(h.ctx, u, "replicas", &db.ID)
	require.NoError(t, err)

	assert.Equal(t, "", prod.Path)
	assert.Equal(t, 0, prod.Depth)
	assert.Nil(t, prod.ParentFolderID)
	assert.Equal(t, prod.ID+"/", db.Path)
	assert.Equal(t, 1, db.Depth)
	assert.Equal(t, prod.ID+"/"+db.ID+"/", replicas.Path)
	assert.Equal(t, 2, replicas.Depth)

	all, err := h.svc.Folders.List(h.ctx, u, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"prod", "db", "replicas"}, []string{all[0].Name, all[1].Name, all[2].Name})

	children, err := h.svc.Folders.List(h.ctx, u, &prod.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, db.ID, children[0].ID)
}

func TestFolder_MoveRewritesDescendants(t *testing.T) {
	h := newHarness(t)
	h.createVault(alice, alicePass)
	u := h.open(alice, alicePass)

	prod, _ := h.svc.Folders.Create(h.ctx, u, "prod", nil)
	db, _ := h.svc.Folders.Create(h.ctx, u, "db", &prod.ID)
	replicas, _ := h.svc.Folders.Create(h.ctx, u, "replicas", &db.ID)
	staging, _ := h.svc.Folders.Create(h.ctx, u, "staging", nil)

	moved, err := h.svc.Folders.Update(h.ctx, u, db.ID, UpdateFolderInput{ParentID: &staging.ID})
	require.NoError(t, err)
	assert.Equal(t, staging.ID+"/", moved.Path)
	assert.Equal(t, 1, moved.Depth)
	assert.Equal(t, staging.ID, *moved.ParentFolderID)

	r := h.store.folder(replicas.ID)
	assert.Equal(t, staging.ID+"/"+db.ID+"/", r.Path)
	assert.Equal(t, 2, r.Depth)

	last := h.store.lastLog()
	assert.Equal(t, models.ActionFolderUpdate, last.Action)
	assert.Equal(t, "1", last.Metadata["descendants_moved"])

	root := ""
	name := "database"
	moved, err = h.svc.Folders.Update(h.ctx, u, db.ID, UpdateFolderInput{ParentID: &root, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "database", moved.Name)
	assert.Equal(t, "", moved.Path)
	assert.Nil(t, moved.ParentFolderID)

	r = h.store.folder(replicas.ID)
	assert.Equal(t, db.ID+"/", r.Path)
	assert.Equal(t, 1, r.Depth)
}

func TestFolder_MoveRejectsCycles(t *testing.T) {
	h := newHarness(t)
	h.createVault(alice, alicePass)
	u := h.open(alice, alicePass)

	prod, _ := h.svc.Folders.Create(h.ctx, u, "prod", nil)
	db, _ := h.svc.Folders.Create(h.ctx, u, "db", &prod.ID)
	replicas, _ := h.svc.Folders.Create(h.ctx, u, "replicas", &db.ID)

	tests := []struct {
		name   string
		target string
	}{
		{"self", prod.ID},
		{"child", db.ID},
		{"grandchild", replicas.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Folders.Update(h.ctx, u, prod.ID, UpdateFolderInput{ParentID: &tt.target})
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}

	assert.Equal(t, "", h.store.folder(prod.ID).Path)

	blank := ""
	_, err := h.svc.Folders.Update(h.ctx, u, prod.ID, UpdateFolderInput{Name: &blank})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestFolder_Delete(t *testing.T) {
	h := newHarness(t)
	info := h.createVault(alice, alicePass)
	u := h.open(alice, alicePass)

	prod, _ := h.svc.Folders.Create(h.ctx, u, "prod", nil)
	db, _ := h.svc.Folders.Create(h.ctx, u, "db", &prod.ID)

	keep := h.addSecret(u, "outside", "1")
	for _, name := range []string{"a", "b"} {
		_, err := h.svc.Secrets.Create(h.ctx, u, CreateSecretInput{Name: name, Value: "x", FolderID: &db.ID})
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.store.vault(info.ID).SecretsCount)

	err := h.svc.Folders.Delete(h.ctx, u, prod.ID)
	require.ErrorIs(t, err, common.ErrValidation)

	require.NoError(t, h.svc.Folders.Delete(h.ctx, u, db.ID))
	assert.Equal(t, 1, h.store.vault(info.ID).SecretsCount)
	assert.Len(t, h.store.secrets, 1)
	_, ok := h.store.secret(keep.ID)
	assert.True(t, ok)

	last := h.store.lastLog()
	assert.Equal(t, models.ActionFolderDelete, last.Action)
	assert.Equal(t, "2", last.Metadata["secrets_deleted"])

	require.NoError(t, h.svc.Folders.Delete(h.ctx, u, prod.ID))
	err = h.svc.Folders.Delete(h.ctx, u, prod.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFolder_DeleteRollsBackOnFailure(t *testing.T) {
	h := newHarness(t)
	info := h.createVault(alice, alicePass)
	u := h.open(alice, alicePass)

	f, _ := h.svc.Folders.Create(h.ctx, u, "prod", nil)
	_, err := h.svc.Secrets.Create(h.ctx, u, CreateSecretInput{Name: "a", Value: "x", FolderID: &f.ID})
	require.NoError(t, err)

	h.store.failAfter("folders.Delete", 0, errBoom)
	err = h.svc.Folders.Delete(h.ctx, u, f.ID)
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, h.store.secrets, 1)
	assert.Equal(t, 1, h.store.vault(info.ID).SecretsCount)
}

func TestFolder_CrossVault(t *testing.T) {
	h := newHarness(t)
	h.createVault(alice, alicePass)
	h.createVault(bob, bobPass)
	ua := h.open(alice, alicePass)
	ub := h.open(bob, bobPass)

	f, err := h.svc.Folders.Create(h.ctx, ua, "prod", nil)
	require.NoError(t, err)

	_, err = h.svc.Folders.Create(h.ctx, ub, "sub", &f.ID)
	require.ErrorIs(t, err, common.ErrCrossVault)
	err = h.svc.Folders.Delete(h.ctx, ub, f.ID)
	require.ErrorIs(t, err, common.ErrCrossVault)
	_, err = h.svc.Secrets.Create(h.ctx, ub, CreateSecretInput{Name: "n", Value: "v", FolderID: &f.ID})
	require.ErrorIs(t, err, common.ErrCrossVault)
}
