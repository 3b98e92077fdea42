package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/secretvault/internal/dbx"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/accesslogs"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/folders"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/secrets"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/shares"
	"github.com/dmitrijs2005/secretvault/internal/server/repositories/vaults"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works on the pool and inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Vaults(db dbx.DBTX) vaults.Repository
	Folders(db dbx.DBTX) folders.Repository
	Secrets(db dbx.DBTX) secrets.Repository
	Shares(db dbx.DBTX) shares.Repository
	AccessLogs(db dbx.DBTX) accesslogs.Repository
}
