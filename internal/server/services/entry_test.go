package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntryService(t *testing.T) (*EntryService, *fakeEntriesRepo) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	rm := newFakeRepoManager()
	return NewEntryService(db, rm, nil), rm.e
}

func TestEntryService_Create(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		identity *models.Identity
		wantBy   string
		wantUID  string
	}{
		{"signed in", &models.Identity{UserID: "uid-1", DisplayName: "alice"}, "alice", "uid-1"},
		{"no display name", &models.Identity{UserID: "uid-1"}, common.UnknownUser, "uid-1"},
		{"anonymous", nil, common.UnknownUser, common.UnknownUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newEntryService(t)

			id, err := svc.Create(ctx, tt.identity, &models.Entry{
				Question: "Q",
				Answer:   "A",
				Users:    map[string]int{"smuggled": 5},
				Rating:   5,
			})
			require.NoError(t, err)

			got := repo.rows[id]
			assert.Equal(t, tt.wantBy, got.CreatedBy)
			assert.Equal(t, tt.wantUID, got.CreatedByUID)
			assert.Empty(t, got.Users, "new entries start without votes")
		})
	}
}

func TestEntryService_Create_Validation(t *testing.T) {
	svc, repo := newEntryService(t)

	_, err := svc.Create(context.Background(), nil, &models.Entry{Question: "  ", Answer: "A"})
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = svc.Create(context.Background(), nil, &models.Entry{Question: "Q"})
	require.ErrorIs(t, err, common.ErrorValidation)

	assert.Empty(t, repo.rows)
}

func TestEntryService_VoteScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEntryService(t)

	id, err := svc.Create(ctx, &models.Identity{UserID: "uid-1", DisplayName: "alice"}, &models.Entry{
		Question: "Q1",
		Answer:   "A1",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Rating)

	u1 := &models.Identity{UserID: "u1"}
	u2 := &models.Identity{UserID: "u2"}

	_, err = svc.Vote(ctx, u1, id, 4)
	require.NoError(t, err)
	got, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Rating)
	assert.Equal(t, map[string]int{"u1": 4}, got.Users)

	got, err = svc.Vote(ctx, u1, id, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Rating)
	assert.Len(t, got.Users, 1)

	_, err = svc.Vote(ctx, u1, id, 5)
	require.NoError(t, err)
	got, err = svc.Vote(ctx, u2, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Rating)

	got, err = svc.RetractVote(ctx, u2, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 5}, got.Users)
	assert.Equal(t, 5.0, got.Rating)

	stored, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, got.Users, stored.Users)
	assert.Equal(t, 5.0, stored.Rating)
}

func TestEntryService_Vote_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, repo := newEntryService(t)
	id, err := svc.Create(ctx, nil, &models.Entry{Question: "Q", Answer: "A"})
	require.NoError(t, err)

	for _, v := range []int{0, 6, -1} {
		t.Run(fmt.Sprintf("value %d", v), func(t *testing.T) {
			_, err := svc.Vote(ctx, &models.Identity{UserID: "u1"}, id, v)
			require.ErrorIs(t, err, common.ErrorValidation)
		})
	}

	_, err = svc.Vote(ctx, nil, id, 3)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = svc.RetractVote(ctx, &models.Identity{}, id)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = svc.Vote(ctx, &models.Identity{UserID: "u1"}, "", 3)
	require.ErrorIs(t, err, common.ErrMissingID)

	_, err = svc.Vote(ctx, &models.Identity{UserID: "u1"}, "missing", 3)
	require.ErrorIs(t, err, common.ErrorNotFound)

	assert.Zero(t, repo.updates)
}

func TestEntryService_RetractWithoutVote(t *testing.T) {
	ctx := context.Background()
	svc, _ := newEntryService(t)
	id, err := svc.Create(ctx, nil, &models.Entry{Question: "Q", Answer: "A"})
	require.NoError(t, err)

	got, err := svc.RetractVote(ctx, &models.Identity{UserID: "u9"}, id)
	require.NoError(t, err)
	assert.Empty(t, got.Users)
	assert.Equal(t, 0.0, got.Rating)
}

func TestEntryService_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	svc, repo := newEntryService(t)
	id, err := svc.Create(ctx, nil, &models.Entry{Question: "Q", Answer: "A", Context: "C"})
	require.NoError(t, err)
	_, err = svc.Vote(ctx, &models.Identity{UserID: "u1"}, id, 5)
	require.NoError(t, err)

	q2, a2 := "Q2", "A2"
	require.ErrorIs(t, svc.Update(ctx, &models.EntryPatch{Question: &q2}), common.ErrMissingID)

	require.NoError(t, svc.Update(ctx, &models.EntryPatch{ID: id, Question: &q2, Answer: &a2}))
	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Q2", got.Question)
	assert.Equal(t, "C", got.Context, "context survives an update that omits it")
	assert.Equal(t, map[string]int{"u1": 5}, got.Users, "votes survive an update without users")

	require.NoError(t, svc.Delete(ctx, id))
	require.NoError(t, svc.Delete(ctx, id))
	_, err = svc.Get(ctx, id)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, repo.rows)
}

func TestEntryService_ListAndQuery(t *testing.T) {
	ctx := context.Background()
	svc, repo := newEntryService(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, &models.Identity{UserID: "u", DisplayName: "alice"}, &models.Entry{Question: "Q", Answer: "A"})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, nil, &models.Entry{Question: "Q", Answer: "A"})
	require.NoError(t, err)

	page, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, page, 4)

	page, err = svc.List(ctx, page[1].ID)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "E003", page[0].ID)

	found, err := svc.Query(ctx, models.Filter{Field: "created_by", Op: "==", Value: "alice"})
	require.NoError(t, err)
	assert.Len(t, found, 3)

	repo.err = errors.New("db down")
	_, err = svc.List(ctx, "")
	require.Error(t, err)
	_, err = svc.Create(ctx, nil, &models.Entry{Question: "Q", Answer: "A"})
	require.Error(t, err)
}
