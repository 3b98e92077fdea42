package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/config"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
)

const (
	testNS    = "tenant-1"
	alice     = "alice"
	bob       = "bob"
	carol     = "carol"
	alicePass = "Abcd1234Wxyz9999"
	bobPass   = "Bobb1234Qwer5678"
	carolPass = "Caro1234Zxcv5678"
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memStore
	conn  *memConn
	cfg   *config.Config
	svc   *Services
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.KDFIterations = 1000

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: store,
		conn:  &memConn{store: store},
		cfg:   cfg,
		now:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	orig := clock
	clock = func() time.Time { return h.now }
	t.Cleanup(func() { clock = orig })

	svc, err := New(h.conn, &memManager{store: store}, cfg, logging.Nop())
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) createVault(user, pass string) *models.VaultInfo {
	h.t.Helper()
	v, err := h.svc.Vaults.Create(h.ctx, testNS, user, pass, "")
	require.NoError(h.t, err)
	return v
}

func (h *harness) open(user, pass string) *UnlockedVault {
	h.t.Helper()
	u, err := h.svc.Vaults.Open(h.ctx, testNS, user, pass)
	require.NoError(h.t, err)
	h.t.Cleanup(u.Wipe)
	return u
}

func (h *harness) addSecret(u *UnlockedVault, name, value string) *models.SecretSummary {
	h.t.Helper()
	s, err := h.svc.Secrets.Create(h.ctx, u, CreateSecretInput{Name: name, Value: value})
	require.NoError(h.t, err)
	return s
}

func (h *harness) readValue(u *UnlockedVault, id string) string {
	h.t.Helper()
	p, err := h.svc.Secrets.Read(h.ctx, u, id)
	require.NoError(h.t, err)
	return p.Value
}
