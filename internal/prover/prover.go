// Package prover adapts the engine's ledger model onto a verifiable-computation
// backend. The backend recomputes the metric bundle from the committed ledger
// and returns it with an attestation; the adapter re-verifies that attestation
// before handing anything back to the session manager.
package prover

import (
	"context"
	"fmt"

	"github.com/yourorg/tillproof/internal/credit"
)

// ErrorKind is the closed set of adapter failure categories.
type ErrorKind string

const (
	// KindBackend covers network loss, backend crashes, and malformed responses.
	KindBackend ErrorKind = "backend"
	// KindTimeout means the backend exceeded its proving budget.
	KindTimeout ErrorKind = "timeout"
	// KindInvalidAttestation means the returned attestation failed local
	// re-verification against the returned bundle.
	KindInvalidAttestation ErrorKind = "invalid_attestation"
	// KindRejectedInput means the backend refused the ledger outright.
	KindRejectedInput ErrorKind = "rejected_input"
)

// Error is the adapter's tagged error union.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("prover %s: %s", e.Kind, e.Message)
}

// ProgressFunc receives coarse backend progress in [0,100]. Implementations
// must tolerate nil.
type ProgressFunc func(percent int)

// Result is an authoritative bundle plus the opaque attestation blob proving
// it was derived from the committed ledger.
type Result struct {
	Bundle      credit.MetricBundle
	Attestation []byte
}

// Prover is the one-shot submission contract. Prove blocks until the backend
// finishes or ctx is done; a ctx deadline surfaces as *Error with KindTimeout.
type Prover interface {
	Prove(ctx context.Context, ledger []credit.Transaction, progress ProgressFunc) (Result, error)
	// VerifyAttestation checks an attestation against a bundle. Used by the
	// gateway-facing tooling and internally by Prove before returning.
	VerifyAttestation(attestation []byte, bundle credit.MetricBundle) error
}
