package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/server/repositories/entries"
	"github.com/dmitrijs2005/metta/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/metta/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can
// build a matching set inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Entries(db dbx.DBTX) entries.Repository
}
