package proof

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/yourorg/tillproof/internal/credit"
	"github.com/yourorg/tillproof/internal/db"
)

// The partial unique index on owner_id is what makes Create an atomic
// check-and-create: two racing submissions serialize on the index, one gets
// a unique violation.
var sessionMigrations = map[string]string{
	"001_proof_sessions": `
		CREATE TABLE IF NOT EXISTS proof_sessions (
			id UUID PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			bundle JSONB,
			attestation BYTEA,
			verification_code TEXT,
			failure_kind TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS proof_sessions_owner_inflight
			ON proof_sessions (owner_id)
			WHERE status IN ('created', 'submitted', 'processing');
		CREATE UNIQUE INDEX IF NOT EXISTS proof_sessions_code
			ON proof_sessions (verification_code)
			WHERE verification_code IS NOT NULL;
		CREATE INDEX IF NOT EXISTS proof_sessions_owner_created
			ON proof_sessions (owner_id, created_at DESC);`,
}

const sessionColumns = `id, owner_id, status, progress, bundle, attestation,
	verification_code, failure_kind, error_message, created_at, expires_at`

// PostgresSessionStore persists sessions in Postgres, enforcing the in-flight
// and code-uniqueness invariants with partial unique indexes.
type PostgresSessionStore struct {
	conn *sql.DB
}

func NewPostgresSessionStore(conn *sql.DB) (*PostgresSessionStore, error) {
	if err := db.Migrate(conn, sessionMigrations); err != nil {
		return nil, err
	}
	return &PostgresSessionStore{conn: conn}, nil
}

func (st *PostgresSessionStore) Create(ctx context.Context, s Session) error {
	_, err := st.conn.ExecContext(ctx, `
		INSERT INTO proof_sessions (id, owner_id, status, progress, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.OwnerID, string(s.Status), s.Progress, s.CreatedAt, s.ExpiresAt)
	if isUniqueViolation(err, "proof_sessions_owner_inflight") {
		return ErrAlreadyInFlight
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (st *PostgresSessionStore) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	row := st.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM proof_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (st *PostgresSessionStore) ByCode(ctx context.Context, code string) (Session, error) {
	row := st.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM proof_sessions WHERE verification_code = $1`, code)
	return scanSession(row)
}

func (st *PostgresSessionStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := st.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM proof_sessions
		 WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *PostgresSessionStore) Transition(ctx context.Context, id uuid.UUID, from, to Status) error {
	res, err := st.conn.ExecContext(ctx, `
		UPDATE proof_sessions SET status = $3
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	return st.casResult(ctx, res, id)
}

func (st *PostgresSessionStore) SetProgress(ctx context.Context, id uuid.UUID, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := st.conn.ExecContext(ctx, `
		UPDATE proof_sessions SET progress = $2
		WHERE id = $1 AND status IN ('created', 'submitted', 'processing')`,
		id, percent)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

func (st *PostgresSessionStore) Complete(ctx context.Context, id uuid.UUID, bundle credit.MetricBundle, attestation []byte, code string) error {
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	res, err := st.conn.ExecContext(ctx, `
		UPDATE proof_sessions
		SET status = 'completed', progress = 100, bundle = $2,
		    attestation = $3, verification_code = $4
		WHERE id = $1 AND status = 'processing'`,
		id, bundleJSON, attestation, code)
	if isUniqueViolation(err, "proof_sessions_code") {
		return ErrCodeConflict
	}
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return st.casResult(ctx, res, id)
}

func (st *PostgresSessionStore) Fail(ctx context.Context, id uuid.UUID, kind FailureKind, message string, bundle *credit.MetricBundle) error {
	var bundleJSON any
	if bundle != nil {
		b, err := json.Marshal(bundle)
		if err != nil {
			return fmt.Errorf("encode bundle: %w", err)
		}
		bundleJSON = b
	}
	res, err := st.conn.ExecContext(ctx, `
		UPDATE proof_sessions
		SET status = 'failed', failure_kind = $2, error_message = $3,
		    bundle = COALESCE($4, bundle)
		WHERE id = $1 AND status IN ('created', 'submitted', 'processing')`,
		id, string(kind), message, bundleJSON)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return st.casResult(ctx, res, id)
}

// casResult maps an affected-row count of zero onto the store's sentinel
// errors: the session either does not exist or was not in the expected state.
func (st *PostgresSessionStore) casResult(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = st.conn.QueryRowContext(ctx, `SELECT 1 FROM proof_sessions WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s          Session
		status     string
		bundleJSON []byte
		code       sql.NullString
		kind       sql.NullString
		msg        sql.NullString
	)
	err := row.Scan(&s.ID, &s.OwnerID, &status, &s.Progress, &bundleJSON,
		&s.Attestation, &code, &kind, &msg, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.Status = Status(status)
	s.VerificationCode = code.String
	s.FailureKind = FailureKind(kind.String)
	s.ErrorMessage = msg.String
	if len(bundleJSON) > 0 {
		var bundle credit.MetricBundle
		if err := json.Unmarshal(bundleJSON, &bundle); err != nil {
			return Session{}, fmt.Errorf("decode bundle: %w", err)
		}
		s.Bundle = &bundle
	}
	return s, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}
