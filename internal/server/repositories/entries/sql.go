// Package entries stores Entry documents in a SQL table. The same
// statements run on PostgreSQL (pgx) and SQLite.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/dmitrijs2005/metta/internal/server/votes"
	"github.com/google/uuid"
)

// PageSize bounds the number of entries returned by List.
const PageSize = 25

const selectColumns = `SELECT id, question, answer, context, generated_by, users, created_by, created_by_uid FROM entries`

// SQLRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db  dbx.DBTX
	log logging.Logger
}

// NewSQLRepository constructs a repository bound to the given DBTX.
// Corrupt vote data found while reading is reported to log.
func NewSQLRepository(db dbx.DBTX, log logging.Logger) *SQLRepository {
	if log == nil {
		log = logging.Nop{}
	}
	return &SQLRepository{db: db, log: log}
}

// List returns up to PageSize entries ordered by id. With a non-nil after,
// only entries whose id sorts strictly after after.ID are returned.
func (r *SQLRepository) List(ctx context.Context, after *models.Entry) ([]*models.Entry, error) {
	if after == nil || after.ID == "" {
		return r.queryEntries(ctx, selectColumns+` ORDER BY id LIMIT $1`, PageSize)
	}
	return r.queryEntries(ctx, selectColumns+` WHERE id > $1 ORDER BY id LIMIT $2`, after.ID, PageSize)
}

// Get fetches one entry. A missing id yields common.ErrorNotFound.
func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	e, err := r.scan(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

// Create inserts entry under a new time-ordered id and returns that id.
// Any id already set on entry is ignored. CreatedBy and CreatedByUID are
// stored as given; filling them is the caller's job.
func (r *SQLRepository) Create(ctx context.Context, entry *models.Entry) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	users, rating, err := encodeVotes(entry.Users)
	if err != nil {
		return "", err
	}

	query := `INSERT INTO entries (id, question, answer, context, generated_by, users, rating, created_by, created_by_uid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		id.String(), entry.Question, entry.Answer, entry.Context, nullable(entry.GeneratedBy),
		users, rating, entry.CreatedBy, entry.CreatedByUID)
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return id.String(), nil
}

// Update merges patch into the stored document. Nil fields are left as
// stored. The cached rating is re-derived whenever Users is written.
func (r *SQLRepository) Update(ctx context.Context, patch *models.EntryPatch) error {
	if patch == nil || patch.ID == "" {
		return common.ErrMissingID
	}

	var users, rating any
	if patch.Users != nil {
		u, rt, err := encodeVotes(patch.Users)
		if err != nil {
			return err
		}
		users, rating = u, rt
	}

	query := `UPDATE entries SET
			question = COALESCE($1, question),
			answer = COALESCE($2, answer),
			context = COALESCE($3, context),
			generated_by = COALESCE($4, generated_by),
			users = COALESCE($5, users),
			rating = COALESCE($6, rating),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $7`

	res, err := r.db.ExecContext(ctx, query,
		optional(patch.Question), optional(patch.Answer), optional(patch.Context),
		nullable(patch.GeneratedBy), users, rating, patch.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// UpdateUserVote writes only the vote map and the cached rating, leaving
// the text fields alone.
func (r *SQLRepository) UpdateUserVote(ctx context.Context, entry *models.Entry) error {
	if entry == nil || entry.ID == "" {
		return common.ErrMissingID
	}

	users, rating, err := encodeVotes(entry.Users)
	if err != nil {
		return err
	}

	query := `UPDATE entries SET users = $1, rating = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, users, rating, entry.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// DeleteByID hard-deletes an entry. Deleting an id that does not exist is
// a no-op.
func (r *SQLRepository) DeleteByID(ctx context.Context, id string) error {
	if id == "" {
		return common.ErrMissingID
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// queryFields lists the columns Query may filter on. Numeric columns
// compare their value as a number.
var queryFields = map[string]bool{
	"id":             false,
	"question":       false,
	"answer":         false,
	"context":        false,
	"generated_by":   false,
	"created_by":     false,
	"created_by_uid": false,
	"rating":         true,
}

var queryOps = map[string]string{
	"<":  "<",
	"<=": "<=",
	"==": "=",
	"!=": "<>",
	">=": ">=",
	">":  ">",
}

// Query returns all entries matching a single-field comparison, ordered by
// id. Filters on rating use the cached column; the returned entries have
// their rating re-derived from votes as usual.
func (r *SQLRepository) Query(ctx context.Context, f models.Filter) ([]*models.Entry, error) {
	numeric, ok := queryFields[f.Field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", common.ErrorValidation, f.Field)
	}
	op, ok := queryOps[f.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", common.ErrorValidation, f.Op)
	}

	var value any = f.Value
	if numeric {
		n, err := strconv.ParseFloat(f.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s needs a number, got %q", common.ErrorValidation, f.Field, f.Value)
		}
		value = n
	}

	// field and op come from the whitelists above
	query := fmt.Sprintf(`%s WHERE %s %s $1 ORDER BY id`, selectColumns, f.Field, op)
	return r.queryEntries(ctx, query, value)
}

// All returns every entry ordered by id.
func (r *SQLRepository) All(ctx context.Context) ([]*models.Entry, error) {
	return r.queryEntries(ctx, selectColumns+` ORDER BY id`)
}

func (r *SQLRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Entry, 0)
	for rows.Next() {
		e, err := r.scan(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads one row and turns it into a domain Entry: votes decoded,
// rating derived, creator defaulted. Undecodable votes are logged and
// replaced by an empty map so one bad row never breaks a read.
func (r *SQLRepository) scan(ctx context.Context, s scanner) (*models.Entry, error) {
	var (
		e           models.Entry
		generatedBy sql.NullString
		users       sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Question, &e.Answer, &e.Context, &generatedBy, &users,
		&e.CreatedBy, &e.CreatedByUID); err != nil {
		return nil, err
	}

	if generatedBy.Valid {
		e.GeneratedBy = &generatedBy.String
	}

	m, err := votes.Decode(users.String)
	if err != nil {
		r.log.Warn(ctx, "corrupt vote data replaced by empty map", "entry_id", e.ID, "error", err)
		m = map[string]int{}
	}
	e.Users = m
	e.Rating = votes.Aggregate(m)

	if e.CreatedBy == "" {
		e.CreatedBy = common.UnknownUser
	}
	if e.CreatedByUID == "" {
		e.CreatedByUID = common.UnknownUser
	}
	return &e, nil
}

// encodeVotes returns the stored text form of m (nil stored as "{}") and
// its rating.
func encodeVotes(m map[string]int) (string, float64, error) {
	if m == nil {
		m = map[string]int{}
	}
	s, err := votes.Encode(m)
	if err != nil {
		return "", 0, fmt.Errorf("encode votes: %w", err)
	}
	return s, votes.Aggregate(m), nil
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
