// Package repomanager provides the SQL RepositoryManager, wiring together
// repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/migrations"
	"github.com/dmitrijs2005/metta/internal/server/repositories/entries"
	"github.com/dmitrijs2005/metta/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/metta/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager vends SQL-backed repositories for one driver.
type SQLRepositoryManager struct {
	driver string
	log    logging.Logger
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewSQLRepositoryManager constructs a manager for driver (dbx.DriverPostgres
// or dbx.DriverSQLite). log receives repository warnings.
func NewSQLRepositoryManager(driver string, log logging.Logger) (*SQLRepositoryManager, error) {
	if _, err := gooseDialect(driver); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &SQLRepositoryManager{driver: driver, log: log}, nil
}

func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewSQLRepository(db)
}

func (m *SQLRepositoryManager) Entries(db dbx.DBTX) entries.Repository {
	return entries.NewSQLRepository(db, m.log.With("module", "entries"))
}

// RunMigrations applies the embedded migrations with the dialect matching
// the manager's driver.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	dialect, err := gooseDialect(m.driver)
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func gooseDialect(driver string) (string, error) {
	switch driver {
	case dbx.DriverPostgres:
		return "pgx", nil
	case dbx.DriverSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
