package verify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yourorg/tillproof/internal/db"
)

var recordMigrations = map[string]string{
	"001_verification_records": `
		CREATE TABLE IF NOT EXISTS verification_records (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL,
			code TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			success BOOLEAN NOT NULL,
			requester_ip TEXT,
			user_agent TEXT
		);
		CREATE INDEX IF NOT EXISTS verification_records_session
			ON verification_records (session_id, at DESC);`,
}

// PostgresRecorder appends verification records to Postgres. Insert-only;
// nothing in the engine updates or deletes rows.
type PostgresRecorder struct {
	conn *sql.DB
}

func NewPostgresRecorder(conn *sql.DB) (*PostgresRecorder, error) {
	if err := db.Migrate(conn, recordMigrations); err != nil {
		return nil, err
	}
	return &PostgresRecorder{conn: conn}, nil
}

func (r *PostgresRecorder) Append(ctx context.Context, record VerificationRecord) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO verification_records (id, session_id, code, at, success, requester_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.SessionID, record.Code, record.At,
		record.Success, record.RequesterIP, record.UserAgent)
	if err != nil {
		return fmt.Errorf("append verification record: %w", err)
	}
	return nil
}
