package proof

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/tillproof/internal/credit"
)

var (
	// ErrNotFound means no session exists for the id or code.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyInFlight means the owner already has a non-terminal session.
	ErrAlreadyInFlight = errors.New("owner already has a proof in flight")
	// ErrCodeConflict means the candidate verification code is taken.
	ErrCodeConflict = errors.New("verification code already in use")
	// ErrStaleTransition means the session was not in the expected state.
	ErrStaleTransition = errors.New("session state changed concurrently")
)

// SessionStore is the engine's only shared mutable resource. Create must be
// an atomic check-and-create on the in-flight-per-owner predicate; Complete
// must enforce verification-code uniqueness.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	ByCode(ctx context.Context, code string) (Session, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Session, error)
	// Transition moves id from one non-terminal status to another,
	// compare-and-swap style.
	Transition(ctx context.Context, id uuid.UUID, from, to Status) error
	// SetProgress applies a last-write-wins progress update. It is a no-op on
	// terminal sessions.
	SetProgress(ctx context.Context, id uuid.UUID, percent int) error
	// Complete moves a processing session to completed, storing the
	// authoritative bundle, the attestation, and a store-unique code.
	Complete(ctx context.Context, id uuid.UUID, bundle credit.MetricBundle, attestation []byte, code string) error
	// Fail moves any non-terminal session to failed. bundle is non-nil only
	// for failures after a successful compute (data quality).
	Fail(ctx context.Context, id uuid.UUID, kind FailureKind, message string, bundle *credit.MetricBundle) error
}

// InMemorySessionStore keeps sessions in process memory. For production,
// use the Postgres implementation.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*Session
	inflight map[string]uuid.UUID // ownerID -> non-terminal session
	byCode   map[string]uuid.UUID
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		byID:     map[uuid.UUID]*Session{},
		inflight: map[string]uuid.UUID{},
		byCode:   map[string]uuid.UUID{},
	}
}

func (st *InMemorySessionStore) Create(_ context.Context, s Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, busy := st.inflight[s.OwnerID]; busy {
		return ErrAlreadyInFlight
	}
	if _, dup := st.byID[s.ID]; dup {
		return ErrStaleTransition
	}
	stored := s.Clone()
	st.byID[s.ID] = &stored
	if !s.Status.Terminal() {
		st.inflight[s.OwnerID] = s.ID
	}
	return nil
}

func (st *InMemorySessionStore) Get(_ context.Context, id uuid.UUID) (Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (st *InMemorySessionStore) ByCode(_ context.Context, code string) (Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byCode[code]
	if !ok {
		return Session{}, ErrNotFound
	}
	return st.byID[id].Clone(), nil
}

func (st *InMemorySessionStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []Session
	for _, s := range st.byID {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *InMemorySessionStore) Transition(_ context.Context, id uuid.UUID, from, to Status) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from || s.Status.Terminal() {
		return ErrStaleTransition
	}
	s.Status = to
	if to.Terminal() {
		st.releaseLocked(s)
	}
	return nil
}

func (st *InMemorySessionStore) SetProgress(_ context.Context, id uuid.UUID, percent int) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status.Terminal() {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.Progress = percent
	return nil
}

func (st *InMemorySessionStore) Complete(_ context.Context, id uuid.UUID, bundle credit.MetricBundle, attestation []byte, code string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusProcessing {
		return ErrStaleTransition
	}
	if _, taken := st.byCode[code]; taken {
		return ErrCodeConflict
	}
	s.Status = StatusCompleted
	s.Progress = 100
	b := bundle
	s.Bundle = &b
	s.Attestation = append([]byte(nil), attestation...)
	s.VerificationCode = code
	st.byCode[code] = id
	st.releaseLocked(s)
	return nil
}

func (st *InMemorySessionStore) Fail(_ context.Context, id uuid.UUID, kind FailureKind, message string, bundle *credit.MetricBundle) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status.Terminal() {
		return ErrStaleTransition
	}
	s.Status = StatusFailed
	s.FailureKind = kind
	s.ErrorMessage = message
	if bundle != nil {
		b := *bundle
		s.Bundle = &b
	}
	st.releaseLocked(s)
	return nil
}

func (st *InMemorySessionStore) releaseLocked(s *Session) {
	if st.inflight[s.OwnerID] == s.ID {
		delete(st.inflight, s.OwnerID)
	}
}
