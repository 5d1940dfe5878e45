package audit

import "time"

// Actions recorded in the audit trail.
const (
	ActionVerification = "verification_attempt"
	ActionSubmission   = "feedback_submitted"
)

// Outcomes of an audited attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Entry is one append-only forensic record. BookingID is nil when no booking
// could be matched to the attempt.
type Entry struct {
	BookingID *int64
	Email     string
	Phone     string
	OriginIP  string
	UserAgent string
	Action    string
	Outcome   string
	Reason    string
	CreatedAt time.Time
}
