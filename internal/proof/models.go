package proof

import (
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/tillproof/internal/credit"
)

// Status is the session lifecycle state. Transitions are monotonic; a session
// never leaves a terminal state. StatusExpired is derived on read from a
// completed session whose expiry has passed — it is never stored.
type Status string

const (
	StatusCreated    Status = "created"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// FailureKind distinguishes why a session failed, so operators can tell bad
// input from backend problems.
type FailureKind string

const (
	FailureProver        FailureKind = "prover"
	FailureTimeout       FailureKind = "timeout"
	FailureAttestation   FailureKind = "attestation"
	FailureDataQuality   FailureKind = "data_quality"
	FailureCodeExhausted FailureKind = "code_exhausted"
)

// Session is one attempt to produce a proof.
type Session struct {
	ID               uuid.UUID            `json:"id"`
	OwnerID          string               `json:"ownerId"`
	Status           Status               `json:"status"`
	Progress         int                  `json:"progress"`
	Bundle           *credit.MetricBundle `json:"bundle,omitempty"`
	Attestation      []byte               `json:"-"`
	VerificationCode string               `json:"verificationCode,omitempty"`
	FailureKind      FailureKind          `json:"failureKind,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	ExpiresAt        time.Time            `json:"expiresAt"`
}

// Clone returns a deep copy so readers can never alias store-owned state.
func (s Session) Clone() Session {
	out := s
	if s.Bundle != nil {
		b := *s.Bundle
		out.Bundle = &b
	}
	if s.Attestation != nil {
		out.Attestation = append([]byte(nil), s.Attestation...)
	}
	return out
}
