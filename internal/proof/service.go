package proof

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/tillproof/internal/auth"
	"github.com/yourorg/tillproof/internal/credit"
)

// Service exposes the owner-facing proof operations over HTTP.
type Service struct {
	manager *Manager
	logger  *slog.Logger
}

func NewService(manager *Manager, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{manager: manager, logger: logger}
}

// Routes mounts the proof endpoints. Submission and history need an
// authenticated owner; status and result are addressable by session id alone.
func (s Service) Routes(requireOwner func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/", s.SubmitProof)
		r.Get("/", s.ListProofs)
	})
	r.Get("/{sessionID}/status", s.GetProofStatus)
	r.Get("/{sessionID}/result", s.GetProofResult)
	return r
}

type transactionInput struct {
	OccurredAt   time.Time `json:"occurredAt"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"`
	Counterparty string    `json:"counterparty,omitempty"`
}

// DateRange optionally restricts the submitted ledger to a closed date
// interval before any metrics are computed.
type DateRange struct {
	From openapi_types.Date `json:"from"`
	To   openapi_types.Date `json:"to"`
}

type submitRequest struct {
	Transactions []transactionInput `json:"transactions"`
	DateRange    *DateRange         `json:"dateRange,omitempty"`
}

// SubmitProof matches POST /proofs.
func (s Service) SubmitProof(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "owner identity missing", false)
		return
	}

	req, err := decodeSubmit(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), false)
		return
	}

	ledger := make([]credit.Transaction, 0, len(req.Transactions))
	for _, in := range req.Transactions {
		tx := credit.Transaction{
			OccurredAt:   in.OccurredAt,
			Amount:       in.Amount,
			Kind:         credit.Kind(in.Kind),
			Counterparty: in.Counterparty,
		}
		if req.DateRange != nil && !inRange(tx.OccurredAt, *req.DateRange) {
			continue
		}
		ledger = append(ledger, tx)
	}

	result, err := s.manager.Submit(r.Context(), ownerID, ledger)
	if err != nil {
		var ledgerErr *LedgerError
		switch {
		case errors.As(err, &ledgerErr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"code":      "VALIDATION_ERROR",
				"message":   "ledger validation failed",
				"retryable": false,
				"issues":    ledgerErr.Issues,
			})
		case errors.Is(err, ErrAlreadyInFlight):
			writeError(w, http.StatusConflict, "ALREADY_IN_FLIGHT",
				"a proof for this owner is already in progress", true)
		default:
			s.logger.Error("submit failed", "ownerId", ownerID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not open proof session", true)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId":        result.Session.ID,
		"status":           result.Session.Status,
		"estimatedSeconds": result.EstimatedSeconds,
		"expiresAt":        result.Session.ExpiresAt,
		"preview":          result.Preview,
	})
}

// GetProofStatus matches GET /proofs/{sessionID}/status.
func (s Service) GetProofStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := s.manager.Poll(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found", false)
			return
		}
		s.logger.Error("poll failed", "sessionId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not read session", true)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetProofResult matches GET /proofs/{sessionID}/result.
func (s Service) GetProofResult(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := s.manager.Result(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found", false)
		case errors.Is(err, ErrNotReady):
			writeError(w, http.StatusConflict, "NOT_READY", "proof is still in progress", true)
		default:
			s.logger.Error("result failed", "sessionId", id, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not read session", true)
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListProofs matches GET /proofs.
func (s Service) ListProofs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "owner identity missing", false)
		return
	}
	sessions, err := s.manager.List(r.Context(), ownerID)
	if err != nil {
		s.logger.Error("list failed", "ownerId", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not list sessions", true)
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_SESSION_ID", "session id must be a UUID", false)
		return uuid.Nil, false
	}
	return id, true
}

func decodeSubmit(body io.ReadCloser) (submitRequest, error) {
	defer body.Close()
	var req submitRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func inRange(at time.Time, dr DateRange) bool {
	start := dr.From.Time
	end := dr.To.Time.AddDate(0, 0, 1)
	return !at.Before(start) && at.Before(end)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"code":      code,
		"message":   message,
		"retryable": retryable,
	})
}
