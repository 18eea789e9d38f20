package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/dmitrijs2005/metta/internal/server/repositories/entries"
	"github.com/dmitrijs2005/metta/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/metta/internal/server/votes"
)

// EntryService runs user actions on entries. The acting identity is always
// passed in explicitly; nothing here reads a "current user".
type EntryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewEntryService(db *sql.DB, repomanager repomanager.RepositoryManager, log logging.Logger) *EntryService {
	if log == nil {
		log = logging.Nop{}
	}
	return &EntryService{
		db:          db,
		repomanager: repomanager,
		log:         log,
	}
}

func (s *EntryService) repo() entries.Repository {
	return s.repomanager.Entries(s.db)
}

// List returns the page of entries after the entry with id afterID, or the
// first page when afterID is empty.
func (s *EntryService) List(ctx context.Context, afterID string) ([]*models.Entry, error) {
	var after *models.Entry
	if afterID != "" {
		after = &models.Entry{ID: afterID}
	}
	return s.repo().List(ctx, after)
}

func (s *EntryService) Get(ctx context.Context, id string) (*models.Entry, error) {
	return s.repo().Get(ctx, id)
}

// Create stores a new entry authored by identity. A nil identity, or one
// without a display name, is recorded as common.UnknownUser. New entries
// always start without votes.
func (s *EntryService) Create(ctx context.Context, identity *models.Identity, e *models.Entry) (string, error) {
	if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
		return "", fmt.Errorf("%w: question and answer are required", common.ErrorValidation)
	}

	e.CreatedBy, e.CreatedByUID = common.UnknownUser, common.UnknownUser
	if identity != nil {
		if identity.DisplayName != "" {
			e.CreatedBy = identity.DisplayName
		}
		if identity.UserID != "" {
			e.CreatedByUID = identity.UserID
		}
	}
	e.Users = map[string]int{}
	e.Rating = 0

	id, err := s.repo().Create(ctx, e)
	if err != nil {
		return "", err
	}
	s.log.Info(ctx, "entry created", "entry_id", id, "user_id", e.CreatedByUID)
	return id, nil
}

// Update applies patch to a stored entry. Fields the patch leaves nil keep
// their stored values, votes included.
func (s *EntryService) Update(ctx context.Context, patch *models.EntryPatch) error {
	return s.repo().Update(ctx, patch)
}

func (s *EntryService) Delete(ctx context.Context, id string) error {
	if err := s.repo().DeleteByID(ctx, id); err != nil {
		return err
	}
	s.log.Info(ctx, "entry deleted", "entry_id", id)
	return nil
}

// Vote sets identity's vote on entry id and returns the updated entry.
//
// The read-modify-write below is not atomic: two users voting on the same
// entry at the same moment can lose one of the votes.
func (s *EntryService) Vote(ctx context.Context, identity *models.Identity, id string, value int) (*models.Entry, error) {
	if identity == nil || identity.UserID == "" {
		return nil, common.ErrorUnauthorized
	}
	if !votes.Valid(value) {
		return nil, fmt.Errorf("%w: vote must be between %d and %d", common.ErrorValidation, votes.Min, votes.Max)
	}
	return s.changeVotes(ctx, id, func(m map[string]int) map[string]int {
		return votes.Upsert(m, identity.UserID, value)
	})
}

// RetractVote removes identity's own vote from entry id.
func (s *EntryService) RetractVote(ctx context.Context, identity *models.Identity, id string) (*models.Entry, error) {
	if identity == nil || identity.UserID == "" {
		return nil, common.ErrorUnauthorized
	}
	return s.changeVotes(ctx, id, func(m map[string]int) map[string]int {
		return votes.Retract(m, identity.UserID)
	})
}

func (s *EntryService) changeVotes(ctx context.Context, id string, change func(map[string]int) map[string]int) (*models.Entry, error) {
	if id == "" {
		return nil, common.ErrMissingID
	}
	repo := s.repo()

	e, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.Users = change(e.Users)
	e.Rating = votes.Aggregate(e.Users)

	if err := repo.UpdateUserVote(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *EntryService) Query(ctx context.Context, f models.Filter) ([]*models.Entry, error) {
	return s.repo().Query(ctx, f)
}
