package proof

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAwaitTimeout means the session was still in flight after the full
// polling budget. The manager may yet mark it failed on its own clock; the
// caller must treat the operation as timed out either way.
var ErrAwaitTimeout = errors.New("proof did not reach a terminal state within the polling budget")

// Await polls a session at a fixed interval for a bounded number of attempts
// and returns the first terminal view. The state machine never sleeps;
// waiting lives here, with the caller.
func Await(ctx context.Context, m *Manager, id uuid.UUID, interval time.Duration, maxPolls int) (PollView, error) {
	if interval <= 0 {
		interval = m.cfg.PollInterval
	}
	if maxPolls <= 0 {
		maxPolls = m.cfg.MaxPolls
	}

	var last PollView
	for i := 0; i < maxPolls; i++ {
		view, err := m.Poll(ctx, id)
		if err != nil {
			return PollView{}, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		last = view

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
	return last, ErrAwaitTimeout
}
