package verify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Service exposes the public verification lookup.
type Service struct {
	gateway *Gateway
	logger  *slog.Logger
}

func NewService(gateway *Gateway, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{gateway: gateway, logger: logger}
}

func (s Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{code}", s.VerifyCode)
	return r
}

// VerifyCode matches GET /verify/{code}. All rejection causes collapse into
// one 404 so callers learn nothing about why a code is invalid.
func (s Service) VerifyCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	result, err := s.gateway.Verify(r.Context(), code, RequesterMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, ErrNotValid) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"code":      "NOT_FOUND",
				"message":   "proof not found",
				"retryable": false,
			})
			return
		}
		s.logger.Error("verification lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"code":      "INTERNAL_ERROR",
			"message":   "could not verify code",
			"retryable": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
