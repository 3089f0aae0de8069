// Package verify serves completed proofs to third parties by verification
// code. It never exposes attestation bytes, transaction data, or the owner's
// identity, and it records every lookup attempt.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/tillproof/internal/credit"
	"github.com/yourorg/tillproof/internal/proof"
)

// ErrNotValid is the uniform rejection for unknown, expired, and
// non-completed codes. Callers cannot distinguish the cause; the appended
// record keeps the distinction for audit.
var ErrNotValid = errors.New("verification code is not valid")

// SessionSource is the read-only slice of the session store the gateway
// needs.
type SessionSource interface {
	ByCode(ctx context.Context, code string) (proof.Session, error)
}

// RequesterMeta is optional caller metadata kept on the audit record.
type RequesterMeta struct {
	IP        string
	UserAgent string
}

// Result is the public view of a completed proof.
type Result struct {
	Valid       bool                `json:"valid"`
	BusinessID  string              `json:"businessId"`
	Bundle      credit.MetricBundle `json:"bundle"`
	GeneratedAt time.Time           `json:"generatedAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Gateway performs code lookups with expiry and status gating.
type Gateway struct {
	sessions SessionSource
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewGateway(sessions SessionSource, recorder Recorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify resolves a code to its published bundle. A session must be completed
// and strictly before its expiry instant; everything else is ErrNotValid.
func (g *Gateway) Verify(ctx context.Context, code string, meta RequesterMeta) (Result, error) {
	canonical := proof.NormalizeCode(code)

	session, err := g.sessions.ByCode(ctx, canonical)
	if err != nil {
		if errors.Is(err, proof.ErrNotFound) {
			g.record(ctx, uuid.Nil, canonical, false, meta)
			return Result{}, ErrNotValid
		}
		return Result{}, err
	}

	if session.Status != proof.StatusCompleted || session.Bundle == nil {
		g.record(ctx, session.ID, canonical, false, meta)
		return Result{}, ErrNotValid
	}
	if !g.now().Before(session.ExpiresAt) {
		g.record(ctx, session.ID, canonical, false, meta)
		return Result{}, ErrNotValid
	}

	g.record(ctx, session.ID, canonical, true, meta)
	return Result{
		Valid:       true,
		BusinessID:  maskOwner(session.OwnerID),
		Bundle:      *session.Bundle,
		GeneratedAt: session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (g *Gateway) record(ctx context.Context, sessionID uuid.UUID, code string, success bool, meta RequesterMeta) {
	rec := VerificationRecord{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Code:        code,
		At:          g.now(),
		Success:     success,
		RequesterIP: meta.IP,
		UserAgent:   meta.UserAgent,
	}
	if err := g.recorder.Append(ctx, rec); err != nil {
		g.logger.Warn("verification record append failed", "code", code, "error", err)
	}
}

// maskOwner hides the owner identity behind a stable hash so a lender can
// correlate repeat verifications without learning who the business is.
func maskOwner(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}
