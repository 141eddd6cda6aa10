// Package policy decides whether an inbound customer message should trigger
// an automatic reply.
package policy

import (
	"time"

	"github.com/textdesk/textdesk/internal/store"
)

// Decision is the outcome of evaluating the reply policy. Callers branch
// differently on approval, so this is a three-state result, not a boolean.
type Decision string

const (
	// DecisionAllow permits automatic reply generation.
	DecisionAllow Decision = "allow"
	// DecisionSuppressed blocks generation (auto-reply off or outside
	// business hours).
	DecisionSuppressed Decision = "suppressed"
	// DecisionRequireApproval means an operator must approve before any
	// reply is generated.
	DecisionRequireApproval Decision = "require_approval"
)

// Evaluate applies the auto-reply gates to a settings snapshot at the given
// moment. Business hours are a half-open local-time interval [start, end);
// end <= start is a degenerate range meaning "never", not a wraparound.
// The decision is made once per inbound message and never re-evaluated.
func Evaluate(s store.Settings, now time.Time) Decision {
	if !s.AutoReplyEnabled {
		return DecisionSuppressed
	}
	if !withinBusinessHours(s.BusinessHoursStart, s.BusinessHoursEnd, now.Hour()) {
		return DecisionSuppressed
	}
	if s.NotifyBeforeRespond {
		return DecisionRequireApproval
	}
	return DecisionAllow
}

func withinBusinessHours(start, end, hour int) bool {
	if end <= start {
		return false
	}
	return hour >= start && hour < end
}
