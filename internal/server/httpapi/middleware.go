package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/auth"
)

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

type recorder struct {
	http.ResponseWriter
	status int
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithLogging logs each request once it completes.
func WithLogging(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.Info(r.Context(), "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"remote", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// CORS allows browser clients on any origin. Credentials travel in the
// Authorization header, never in cookies, so none are allowed.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireIdentity rejects requests without a valid bearer token.
func RequireIdentity(ids auth.Identifier, log logging.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			ErrorResponse(w, http.StatusUnauthorized, common.ErrorUnauthorized.Error())
			return
		}
		id, err := ids.Identify(r.Context(), token)
		if err != nil {
			writeError(r.Context(), log, w, err)
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// OptionalIdentity attaches an identity when a valid bearer token is sent
// and lets anonymous requests through. A bad token is still an error.
func OptionalIdentity(ids auth.Identifier, log logging.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearerToken(r) == "" {
			next(w, r)
			return
		}
		RequireIdentity(ids, log, next)(w, r)
	}
}
