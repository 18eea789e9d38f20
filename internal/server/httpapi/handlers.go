package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/auth"
	"github.com/dmitrijs2005/metta/internal/server/export"
	"github.com/dmitrijs2005/metta/internal/server/models"
	"github.com/dmitrijs2005/metta/internal/server/repositories/entries"
	"github.com/dmitrijs2005/metta/internal/server/services"
)

type UserService interface {
	auth.Identifier
	SignUp(ctx context.Context, email, password, displayName string) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	SignOut(ctx context.Context, refreshToken string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type EntryService interface {
	List(ctx context.Context, afterID string) ([]*models.Entry, error)
	Get(ctx context.Context, id string) (*models.Entry, error)
	Create(ctx context.Context, identity *models.Identity, e *models.Entry) (string, error)
	Update(ctx context.Context, patch *models.EntryPatch) error
	Delete(ctx context.Context, id string) error
	Vote(ctx context.Context, identity *models.Identity, id string, value int) (*models.Entry, error)
	RetractVote(ctx context.Context, identity *models.Identity, id string) (*models.Entry, error)
	Query(ctx context.Context, f models.Filter) ([]*models.Entry, error)
}

type ExportService interface {
	Write(ctx context.Context, w io.Writer, format export.Format, minRating float64) (int, error)
	Publish(ctx context.Context, format export.Format, minRating float64) (string, error)
}

// --- auth ---

type AuthHandler struct {
	users UserService
	log   logging.Logger
}

func NewAuthHandler(users UserService, log logging.Logger) *AuthHandler {
	return &AuthHandler{users: users, log: log}
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// SignUp handles POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	u, err := h.users.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	JSONResponse(w, http.StatusCreated, userResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName})
}

// SignIn handles POST /auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	pair, err := h.users.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	pair, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusOK, pair)
}

// SignOut handles POST /auth/logout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	if err := h.users.SignOut(r.Context(), req.RefreshToken); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword handles POST /auth/forgot. The response does not reveal
// whether the email belongs to an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword handles POST /auth/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, auth.IdentityFrom(r.Context()))
}

// --- entries ---

type EntryHandler struct {
	entries EntryService
	log     logging.Logger
}

func NewEntryHandler(entries EntryService, log logging.Logger) *EntryHandler {
	return &EntryHandler{entries: entries, log: log}
}

type listResponse struct {
	Entries []*models.Entry `json:"entries"`
	Next    string          `json:"next,omitempty"`
}

// List handles GET /entries. With ?field=&op=&value= it runs a filter
// query instead of paging with ?after=.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if field := q.Get("field"); field != "" {
		found, err := h.entries.Query(r.Context(), models.Filter{Field: field, Op: q.Get("op"), Value: q.Get("value")})
		if err != nil {
			writeError(r.Context(), h.log, w, err)
			return
		}
		JSONResponse(w, http.StatusOK, listResponse{Entries: found})
		return
	}

	page, err := h.entries.List(r.Context(), q.Get("after"))
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	resp := listResponse{Entries: page}
	if len(page) == entries.PageSize {
		resp.Next = page[len(page)-1].ID
	}
	JSONResponse(w, http.StatusOK, resp)
}

// Get handles GET /entries/{id}
func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.entries.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusOK, e)
}

// Create handles POST /entries. Anonymous authors are allowed.
func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	id, err := h.entries.Create(r.Context(), auth.IdentityFrom(r.Context()), req.entry())
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, CreatedResponse{ID: id})
}

// Update handles PUT /entries/{id}
func (h *EntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req EntryPatchRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	if err := h.entries.Update(r.Context(), req.patch(r.PathValue("id"))); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /entries/{id}
func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Vote handles PUT /entries/{id}/vote
func (h *EntryHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	e, err := h.entries.Vote(r.Context(), auth.IdentityFrom(r.Context()), r.PathValue("id"), req.Rating)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusOK, e)
}

// RetractVote handles DELETE /entries/{id}/vote
func (h *EntryHandler) RetractVote(w http.ResponseWriter, r *http.Request) {
	e, err := h.entries.RetractVote(r.Context(), auth.IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusOK, e)
}

// --- exports ---

type ExportHandler struct {
	exports ExportService
	log     logging.Logger
}

func NewExportHandler(exports ExportService, log logging.Logger) *ExportHandler {
	return &ExportHandler{exports: exports, log: log}
}

// Download handles GET /exports?format=&min_rating= and returns the
// dataset in the response body.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	var minRating float64
	if s := q.Get("min_rating"); s != "" {
		minRating, err = strconv.ParseFloat(s, 64)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, common.ErrorValidation.Error()+": min_rating must be a number")
			return
		}
	}

	var buf bytes.Buffer
	if _, err := h.exports.Write(r.Context(), &buf, format, minRating); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="metta.`+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Publish handles POST /exports and returns a presigned download link.
func (h *ExportHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := ParseJSONBody(r, &req); err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}

	url, err := h.exports.Publish(r.Context(), format, req.MinRating)
	if err != nil {
		writeError(r.Context(), h.log, w, err)
		return
	}
	JSONResponse(w, http.StatusCreated, ExportResponse{URL: url})
}
