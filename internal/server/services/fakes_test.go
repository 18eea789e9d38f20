package services

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/dbx"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/dmitrijs2005/metta/internal/server/pubsub"
	"github.com/dmitrijs2005/metta/internal/server/repositories/entries"
	refreshtokensrepo "github.com/dmitrijs2005/metta/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/metta/internal/server/repositories/users"
	"github.com/dmitrijs2005/metta/internal/server/votes"
	"github.com/stretchr/testify/require"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// --- users ---

type fakeUsersRepo struct {
	byID      map[string]*models.User
	createErr error
	getErr    error
	updateErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = fmt.Sprintf("u%d", len(f.byID)+1)
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id, hash string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

// --- refresh tokens ---

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	findErr   error
	createErr error
	deleteErr error
	// afterFind runs once after a successful Find.
	afterFind func()
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	if hook := f.afterFind; hook != nil {
		f.afterFind = nil
		hook()
	}
	return &cp, nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.tokens[token]; !ok {
		return common.ErrorNotFound
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteByUser(_ context.Context, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
		}
	}
	return nil
}

// --- entries ---

type fakeEntriesRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Entry
	seq     int
	err     error
	updates int
}

func newFakeEntriesRepo() *fakeEntriesRepo {
	return &fakeEntriesRepo{rows: map[string]*models.Entry{}}
}

func (f *fakeEntriesRepo) copyOf(e *models.Entry) *models.Entry {
	cp := *e
	cp.Users = maps.Clone(e.Users)
	if cp.Users == nil {
		cp.Users = map[string]int{}
	}
	cp.Rating = votes.Aggregate(cp.Users)
	return &cp
}

func (f *fakeEntriesRepo) sorted() []*models.Entry {
	out := make([]*models.Entry, 0, len(f.rows))
	for _, e := range f.rows {
		out = append(out, f.copyOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeEntriesRepo) List(_ context.Context, after *models.Entry) ([]*models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.Entry{}
	for _, e := range f.sorted() {
		if after != nil && e.ID <= after.ID {
			continue
		}
		if len(out) == entries.PageSize {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeEntriesRepo) Get(_ context.Context, id string) (*models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return f.copyOf(e), nil
}

func (f *fakeEntriesRepo) Create(_ context.Context, e *models.Entry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.seq++
	id := fmt.Sprintf("E%03d", f.seq)
	cp := f.copyOf(e)
	cp.ID = id
	f.rows[id] = cp
	return id, nil
}

func (f *fakeEntriesRepo) Update(_ context.Context, e *models.EntryPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e == nil || e.ID == "" {
		return common.ErrMissingID
	}
	if f.err != nil {
		return f.err
	}
	cur, ok := f.rows[e.ID]
	if !ok {
		return common.ErrorNotFound
	}
	for dst, src := range map[*string]*string{&cur.Question: e.Question, &cur.Answer: e.Answer, &cur.Context: e.Context} {
		if src != nil {
			*dst = *src
		}
	}
	if e.GeneratedBy != nil {
		cur.GeneratedBy = e.GeneratedBy
	}
	if e.Users != nil {
		cur.Users = maps.Clone(e.Users)
	}
	f.updates++
	return nil
}

func (f *fakeEntriesRepo) UpdateUserVote(_ context.Context, e *models.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		return common.ErrMissingID
	}
	if f.err != nil {
		return f.err
	}
	cur, ok := f.rows[e.ID]
	if !ok {
		return common.ErrorNotFound
	}
	cur.Users = maps.Clone(e.Users)
	f.updates++
	return nil
}

func (f *fakeEntriesRepo) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		return common.ErrMissingID
	}
	if f.err != nil {
		return f.err
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeEntriesRepo) Query(_ context.Context, flt models.Filter) ([]*models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.Entry{}
	for _, e := range f.sorted() {
		if flt.Field == "created_by" && flt.Op == "==" && e.CreatedBy == flt.Value {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntriesRepo) All(_ context.Context) ([]*models.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.sorted(), nil
}

// --- manager ---

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
	e *fakeEntriesRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newFakeUsersRepo(), r: newFakeRefreshRepo(), e: newFakeEntriesRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error         { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }
func (m *fakeRepoManager) Entries(dbx.DBTX) entries.Repository                 { return m.e }

// --- reset tokens, publisher, mailer ---

type fakeResetRepo struct {
	tokens  map[string]string
	ttl     time.Duration
	saveErr error
}

func (f *fakeResetRepo) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.tokens == nil {
		f.tokens = map[string]string{}
	}
	f.tokens[token] = userID
	f.ttl = ttl
	return nil
}

func (f *fakeResetRepo) Consume(_ context.Context, token string) (string, error) {
	uid, ok := f.tokens[token]
	if !ok {
		return "", common.ErrorNotFound
	}
	delete(f.tokens, token)
	return uid, nil
}

type fakePublisher struct {
	events []pubsub.IdentityEvent
	err    error
}

func (f *fakePublisher) PublishIdentityChanged(_ context.Context, ev pubsub.IdentityEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type fakeMailer struct {
	email, token string
	err          error
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, email, token string) error {
	f.email, f.token = email, token
	return f.err
}
