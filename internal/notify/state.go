package notify

import (
	"time"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// AttemptDecision is what the dispatcher should do with a notification
// goal given the row that already exists for its (channel, recipient,
// message) key.
type AttemptDecision int

const (
	// AttemptCreate means no row exists; create one in sending state.
	AttemptCreate AttemptDecision = iota
	// AttemptReuse means an unfinished row exists; re-attempt it.
	AttemptReuse
	// AttemptSkip means the goal is already terminal; do nothing and
	// report success without a network call.
	AttemptSkip
)

// DecideAttempt is the pure upsert decision for the idempotence
// contract: at most one successful send per (channel, recipient,
// message).
func DecideAttempt(existing *db.NotificationLog) AttemptDecision {
	if existing == nil {
		return AttemptCreate
	}
	switch existing.Status {
	case db.StatusSent, db.StatusDelivered, db.StatusFailed, db.StatusCancelled:
		return AttemptSkip
	default:
		// pending, sending (stale from a crashed run), pending_retry
		return AttemptReuse
	}
}

// backoffSchedule is the wait before re-attempt n. The last entry
// repeats for any further attempts.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff returns how long to wait before the next attempt given the
// retry count after the failure.
func Backoff(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

// Outcome is the state transition resulting from one send attempt.
type Outcome struct {
	Status            string
	RetryCount        int
	NextRetryAt       *time.Time
	ErrorMessage      *string
	ProviderMessageID *string
	SentAt            *time.Time
}

// OutcomeFor computes the next state of an attempt row after the
// provider call. Failures always go to pending_retry here; only the
// retry job may finalize an attempt as failed, so one transient blip
// never short-circuits future attempts.
func OutcomeFor(n *db.NotificationLog, receipt Receipt, sendErr error, now time.Time) Outcome {
	if sendErr == nil {
		status := db.StatusSent
		if receipt.Delivered {
			status = db.StatusDelivered
		}
		out := Outcome{
			Status:     status,
			RetryCount: n.RetryCount,
			SentAt:     &now,
		}
		if receipt.ProviderMessageID != "" {
			id := receipt.ProviderMessageID
			out.ProviderMessageID = &id
		}
		return out
	}

	msg := sendErr.Error()
	retryCount := n.RetryCount + 1
	next := now.Add(Backoff(retryCount))
	return Outcome{
		Status:       db.StatusPendingRetry,
		RetryCount:   retryCount,
		NextRetryAt:  &next,
		ErrorMessage: &msg,
	}
}
