package httpapi

import "github.com/dmitrijs2005/metta/internal/server/models"

type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type EntryRequest struct {
	Question    string  `json:"question" validate:"required"`
	Answer      string  `json:"answer" validate:"required"`
	Context     string  `json:"context"`
	GeneratedBy *string `json:"generated_by"`
}

func (r EntryRequest) entry() *models.Entry {
	return &models.Entry{
		Question:    r.Question,
		Answer:      r.Answer,
		Context:     r.Context,
		GeneratedBy: r.GeneratedBy,
	}
}

// EntryPatchRequest is the body of PUT /entries/{id}. Omitted fields keep
// their stored values.
type EntryPatchRequest struct {
	Question    *string `json:"question" validate:"omitempty,min=1"`
	Answer      *string `json:"answer" validate:"omitempty,min=1"`
	Context     *string `json:"context"`
	GeneratedBy *string `json:"generated_by"`
}

func (r EntryPatchRequest) patch(id string) *models.EntryPatch {
	return &models.EntryPatch{
		ID:          id,
		Question:    r.Question,
		Answer:      r.Answer,
		Context:     r.Context,
		GeneratedBy: r.GeneratedBy,
	}
}

type VoteRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

type ExportRequest struct {
	Format    string  `json:"format" validate:"omitempty,oneof=json jsonl ndjson yaml yml"`
	MinRating float64 `json:"min_rating" validate:"gte=0,lte=5"`
}

type CreatedResponse struct {
	ID string `json:"id"`
}

type ExportResponse struct {
	URL string `json:"url"`
}
