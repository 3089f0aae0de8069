package verify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VerificationRecord is one append-only audit entry; every lookup attempt
// produces exactly one, matched or not. SessionID is uuid.Nil when the code
// matched nothing.
type VerificationRecord struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	Code        string    `json:"code"`
	At          time.Time `json:"at"`
	Success     bool      `json:"success"`
	RequesterIP string    `json:"requesterIp,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

// Recorder appends verification audit entries. Entries are never mutated or
// deleted.
type Recorder interface {
	Append(ctx context.Context, record VerificationRecord) error
}

// MemoryRecorder keeps records in process memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records []VerificationRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Append(_ context.Context, record VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Records returns a copy of all entries, oldest first.
func (m *MemoryRecorder) Records() []VerificationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]VerificationRecord{}, m.records...)
}
