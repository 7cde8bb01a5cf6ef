package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StopSignal asks every instance to cancel the running turn of a thread.
type StopSignal struct {
	ThreadID    uuid.UUID `json:"thread_id"`
	UserID      uuid.UUID `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// StaleAfter bounds how late a relayed stop may arrive. Older signals are
// dropped so they cannot cancel a newer turn on the same thread.
const StaleAfter = 2 * time.Minute

// Actionable reports whether a relayed signal should still cancel a run.
func (s StopSignal) Actionable(now time.Time) bool {
	if s.ThreadID == uuid.Nil {
		return false
	}
	return s.RequestedAt.IsZero() || now.Sub(s.RequestedAt) <= StaleAfter
}

type Bus interface {
	Publish(ctx context.Context, sig StopSignal) error
	StartForwarder(ctx context.Context, onMsg func(sig StopSignal)) error
	Close() error
}
