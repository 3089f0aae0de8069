package proof

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/tillproof/internal/credit"
	"github.com/yourorg/tillproof/internal/prover"
)

// ErrNotReady means result was requested before the session reached a
// terminal state; callers should poll.
var ErrNotReady = errors.New("proof is not ready")

// LedgerError is a synchronous submit rejection for a malformed ledger. It
// never creates a session.
type LedgerError struct {
	Issues []credit.ValidationIssue
}

func (e *LedgerError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Error()
	}
	return "malformed ledger: " + strings.Join(msgs, "; ")
}

// Manager owns the session state machine. It is the single writer of session
// status, bundle, and code; poll/result/verify only read.
type Manager struct {
	cfg    Config
	store  SessionStore
	prover prover.Prover
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(cfg Config, store SessionStore, p prover.Prover, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		prover: p,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubmitResult is the synchronous part of a submission. Preview is advisory
// only; the authoritative bundle arrives with completion.
type SubmitResult struct {
	Session          Session             `json:"session"`
	Preview          credit.MetricBundle `json:"preview"`
	EstimatedSeconds int                 `json:"estimatedSeconds"`
}

// Submit opens a session for the owner's ledger and starts the asynchronous
// proving run. At most one session per owner may be in flight; a second
// submission fails with ErrAlreadyInFlight.
func (m *Manager) Submit(ctx context.Context, ownerID string, ledger []credit.Transaction) (SubmitResult, error) {
	if ownerID == "" {
		return SubmitResult{}, errors.New("owner id is required")
	}
	if issues := credit.ValidateLedger(ledger, m.now()); len(issues) > 0 {
		return SubmitResult{}, &LedgerError{Issues: issues}
	}

	preview := credit.Compute(ledger)

	now := m.now()
	session := Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    StatusCreated,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.ProofTTL),
	}
	if err := m.store.Create(ctx, session); err != nil {
		return SubmitResult{}, err
	}
	if err := m.store.Transition(ctx, session.ID, StatusCreated, StatusSubmitted); err != nil {
		return SubmitResult{}, err
	}
	session.Status = StatusSubmitted

	ledgerCopy := make([]credit.Transaction, len(ledger))
	copy(ledgerCopy, ledger)
	go m.run(session.ID, ledgerCopy)

	m.logger.Info("proof session submitted",
		"sessionId", session.ID, "ownerId", ownerID, "transactions", len(ledger))

	return SubmitResult{
		Session:          session,
		Preview:          preview,
		EstimatedSeconds: m.cfg.EstimatedSeconds,
	}, nil
}

// run drives one session to a terminal state. The proving budget is enforced
// here regardless of whether the prover honors its context.
func (m *Manager) run(id uuid.UUID, ledger []credit.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProofBudget)
	defer cancel()

	if err := m.store.Transition(ctx, id, StatusSubmitted, StatusProcessing); err != nil {
		m.logger.Error("session could not enter processing", "sessionId", id, "error", err)
		return
	}

	type outcome struct {
		res prover.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.prover.Prove(ctx, ledger, func(pct int) {
			_ = m.store.SetProgress(context.Background(), id, pct)
		})
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		m.finish(id, ledger, out.res, out.err)
	case <-ctx.Done():
		m.fail(id, FailureTimeout, "proving budget exceeded", nil)
	}
}

func (m *Manager) finish(id uuid.UUID, ledger []credit.Transaction, res prover.Result, err error) {
	if err != nil {
		kind := FailureProver
		var perr *prover.Error
		if errors.As(err, &perr) {
			switch perr.Kind {
			case prover.KindTimeout:
				kind = FailureTimeout
			case prover.KindInvalidAttestation:
				kind = FailureAttestation
			}
		}
		m.fail(id, kind, err.Error(), nil)
		return
	}

	// A zero authoritative score on real input is a data-quality failure,
	// never a completed proof.
	if res.Bundle.CreditScore == 0 && len(ledger) > 0 {
		bundle := res.Bundle
		m.fail(id, FailureDataQuality, "authoritative credit score is zero for a non-empty ledger", &bundle)
		return
	}

	for attempt := 0; attempt < m.cfg.CodeAttempts; attempt++ {
		code, err := NewCode()
		if err != nil {
			m.fail(id, FailureProver, err.Error(), nil)
			return
		}
		err = m.store.Complete(context.Background(), id, res.Bundle, res.Attestation, code)
		if errors.Is(err, ErrCodeConflict) {
			continue
		}
		if err != nil {
			m.logger.Error("session completion rejected", "sessionId", id, "error", err)
			return
		}
		m.logger.Info("proof session completed",
			"sessionId", id, "code", code, "creditScore", res.Bundle.CreditScore)
		return
	}
	m.fail(id, FailureCodeExhausted, "could not assign a unique verification code", &res.Bundle)
}

func (m *Manager) fail(id uuid.UUID, kind FailureKind, message string, bundle *credit.MetricBundle) {
	err := m.store.Fail(context.Background(), id, kind, message, bundle)
	if err != nil && !errors.Is(err, ErrStaleTransition) {
		m.logger.Error("session failure not recorded", "sessionId", id, "error", err)
		return
	}
	if err == nil {
		m.logger.Warn("proof session failed", "sessionId", id, "kind", kind, "message", message)
	}
}

// PollView is the read model for poll.
type PollView struct {
	SessionID    uuid.UUID `json:"sessionId"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage string    `json:"error,omitempty"`
}

// Poll returns the current status and progress. It is idempotent and mutates
// nothing; expiry is derived on read.
func (m *Manager) Poll(ctx context.Context, id uuid.UUID) (PollView, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return PollView{}, err
	}
	s = m.withDerivedExpiry(s)
	return PollView{
		SessionID:    s.ID,
		Status:       s.Status,
		Progress:     s.Progress,
		ErrorMessage: s.ErrorMessage,
	}, nil
}

// ResultView is the read model for result. Bundle, Attestation, and
// VerificationCode are set only for completed sessions; FailureKind and
// ErrorMessage only for failed ones.
type ResultView struct {
	SessionID        uuid.UUID            `json:"sessionId"`
	Status           Status               `json:"status"`
	Bundle           *credit.MetricBundle `json:"bundle,omitempty"`
	Attestation      []byte               `json:"attestation,omitempty"`
	VerificationCode string               `json:"verificationCode,omitempty"`
	ExpiresAt        time.Time            `json:"expiresAt"`
	FailureKind      FailureKind          `json:"failureKind,omitempty"`
	ErrorMessage     string               `json:"error,omitempty"`
}

// Result returns the terminal outcome, or ErrNotReady while the session is
// still in flight.
func (m *Manager) Result(ctx context.Context, id uuid.UUID) (ResultView, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return ResultView{}, err
	}
	s = m.withDerivedExpiry(s)
	if !s.Status.Terminal() {
		return ResultView{}, ErrNotReady
	}
	view := ResultView{
		SessionID: s.ID,
		Status:    s.Status,
		ExpiresAt: s.ExpiresAt,
	}
	switch s.Status {
	case StatusFailed:
		view.FailureKind = s.FailureKind
		view.ErrorMessage = s.ErrorMessage
	default: // completed or expired
		view.Bundle = s.Bundle
		view.Attestation = s.Attestation
		view.VerificationCode = s.VerificationCode
	}
	return view, nil
}

// List returns the owner's sessions, newest first.
func (m *Manager) List(ctx context.Context, ownerID string) ([]Session, error) {
	sessions, err := m.store.ListByOwner(ctx, ownerID, m.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i] = m.withDerivedExpiry(sessions[i])
	}
	return sessions, nil
}

func (m *Manager) withDerivedExpiry(s Session) Session {
	if s.Status == StatusCompleted && !m.now().Before(s.ExpiresAt) {
		s.Status = StatusExpired
	}
	return s
}
