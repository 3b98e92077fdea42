package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/logging"
	"github.com/dmitrijs2005/secretvault/internal/server/models"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/repomanager"
)

const auditWriteTimeout = 5 * time.Second

// Auditor appends access log entries. Writes are best effort: a failure is
// logged and returned for information, and never affects the audited operation.
type Auditor struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewAuditor(db dbx.DBTX, m repomanager.RepositoryManager, logger logging.Logger) *Auditor {
	return &Auditor{db: db, repomanager: m, logger: logger.With("module", "audit")}
}

// Record stamps and appends e. It survives a cancelled ctx and recovers from
// panics in the storage layer; callers may ignore the returned error.
func (a *Auditor) Record(ctx context.Context, e *models.AccessLogEntry, opErr error) (err error) {
	e.Success = opErr == nil
	if opErr != nil {
		e.ErrorMessage = strPtr(opErr.Error())
	}
	e.CreatedAt = clock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit write panic: %v", p)
		}
		if err != nil {
			a.logger.Warn(ctx, "audit write failed", "action", e.Action, "error", err)
		}
	}()

	return a.repomanager.AccessLogs(a.db).Append(ctx, e)
}

// List returns audit entries of a namespace.
func (a *Auditor) List(ctx context.Context, namespaceID string, filter models.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	return a.repomanager.AccessLogs(a.db).List(ctx, namespaceID, filter)
}

// entry starts an access log entry for an operation on an unlocked vault.
func entry(u *UnlockedVault, action string) *models.AccessLogEntry {
	e := &models.AccessLogEntry{Action: action}
	if u != nil {
		e.NamespaceID = u.namespaceID
		e.UserID = u.userID
		e.VaultID = strPtr(u.vaultID)
	}
	return e
}
