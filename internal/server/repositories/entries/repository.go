package entries

import (
	"context"

	"github.com/dmitrijs2005/metta/internal/server/models"
)

// Repository is the only gateway between Entry values and the document
// store. Entries it returns always carry decoded votes and a freshly
// computed rating.
type Repository interface {
	List(ctx context.Context, after *models.Entry) ([]*models.Entry, error)
	Get(ctx context.Context, id string) (*models.Entry, error)
	Create(ctx context.Context, entry *models.Entry) (string, error)
	Update(ctx context.Context, patch *models.EntryPatch) error
	UpdateUserVote(ctx context.Context, entry *models.Entry) error
	DeleteByID(ctx context.Context, id string) error
	Query(ctx context.Context, f models.Filter) ([]*models.Entry, error)
	All(ctx context.Context) ([]*models.Entry, error)
}
