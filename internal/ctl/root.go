// Package ctl implements mettactl, the operator CLI. It talks to the
// document store directly rather than through the HTTP API.
package ctl

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/config"
	"github.com/dmitrijs2005/metta/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/metta/internal/server/services"
	"github.com/spf13/cobra"
)

// skipStore marks commands that do not need the database.
const skipStore = "skip-store"

type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	// defaults and METTA_* environment, overridden by flags
	cfg     config.Config
	verbose bool

	db      *sql.DB
	log     logging.Logger
	users   *services.UserService
	entries *services.EntryService
	exports *services.ExportService
}

// NewRootCmd builds the command tree reading from in and writing to out and
// errOut.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &App{in: bufio.NewReader(in), out: out, errOut: errOut, cfg: *config.LoadEnv()}

	root := &cobra.Command{
		Use:           "mettactl",
		Short:         "Operate a metta question/answer store",
		Long:          `mettactl lists, edits and exports entries and manages accounts directly in the metta database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if a.verbose {
				level = "debug"
			}
			a.log = logging.NewSlogLogger(slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: logging.ParseLevel(level)})))

			if cmd.Annotations[skipStore] != "" {
				return nil
			}
			return a.openStore(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.db != nil {
				_ = a.db.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfg.DatabaseDriver, "driver", a.cfg.DatabaseDriver, "database driver (pgx or sqlite)")
	root.PersistentFlags().StringVar(&a.cfg.DatabaseDSN, "dsn", a.cfg.DatabaseDSN, "database DSN")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		a.listCmd(),
		a.getCmd(),
		a.addCmd(),
		a.importCmd(),
		a.deleteCmd(),
		a.queryCmd(),
		a.voteCmd(),
		a.exportCmd(),
		a.userAddCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *App) openStore(ctx context.Context) error {
	db, err := dbx.Open(ctx, a.cfg.DatabaseDriver, a.cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	rm, err := repomanager.NewSQLRepositoryManager(a.cfg.DatabaseDriver, a.log)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrations: %w", err)
	}

	a.db = db
	a.users = services.NewUserService(db, rm, &a.cfg, services.WithLogger(a.log))
	a.entries = services.NewEntryService(db, rm, a.log)
	a.exports = services.NewExportService(db, rm, &a.cfg, a.log)
	return nil
}

// Execute runs mettactl with the process arguments and exits non-zero on
// failure.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
