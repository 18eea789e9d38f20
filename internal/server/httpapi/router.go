package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/metrics"
)

type Deps struct {
	Users   UserService
	Entries EntryService
	Exports ExportService
	Metrics *metrics.Metrics
	Log     logging.Logger
}

// NewRouter wires the REST API. Ids in paths are the entry ids returned by
// POST /entries.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logging.Nop{}
	}
	mux := http.NewServeMux()

	auth := NewAuthHandler(d.Users, log)
	entries := NewEntryHandler(d.Entries, log)
	exports := NewExportHandler(d.Exports, log)

	required := func(h http.HandlerFunc) http.HandlerFunc { return RequireIdentity(d.Users, log, h) }
	optional := func(h http.HandlerFunc) http.HandlerFunc { return OptionalIdentity(d.Users, log, h) }

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Accounts
	mux.HandleFunc("POST /auth/signup", auth.SignUp)
	mux.HandleFunc("POST /auth/login", auth.SignIn)
	mux.HandleFunc("POST /auth/refresh", auth.Refresh)
	mux.HandleFunc("POST /auth/logout", auth.SignOut)
	mux.HandleFunc("POST /auth/forgot", auth.ForgotPassword)
	mux.HandleFunc("POST /auth/reset", auth.ResetPassword)
	mux.HandleFunc("GET /auth/me", required(auth.Me))

	// Entries
	mux.HandleFunc("GET /entries", entries.List)
	mux.HandleFunc("POST /entries", optional(entries.Create))
	mux.HandleFunc("GET /entries/{id}", entries.Get)
	mux.HandleFunc("PUT /entries/{id}", required(entries.Update))
	mux.HandleFunc("DELETE /entries/{id}", required(entries.Delete))
	mux.HandleFunc("PUT /entries/{id}/vote", required(entries.Vote))
	mux.HandleFunc("DELETE /entries/{id}/vote", required(entries.RetractVote))

	// Exports
	mux.HandleFunc("GET /exports", exports.Download)
	mux.HandleFunc("POST /exports", required(exports.Publish))

	var h http.Handler = mux
	if d.Metrics != nil {
		h = d.Metrics.Middleware(h)
	}
	return CORS(WithLogging(log)(h))
}
