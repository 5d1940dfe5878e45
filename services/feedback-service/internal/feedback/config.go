package feedback

import "time"

// Config carries the throttle and eligibility-window policy. The email-scoped
// submission limit is tighter than the IP-scoped one: one mailbox has no
// business sending many reviews, while an office NAT legitimately can.
type Config struct {
	// EligibilityWindow is how long after the scheduled time a completed
	// booking remains reviewable.
	EligibilityWindow time.Duration

	// MinBookingAge optionally delays eligibility after the scheduled time.
	// Zero means a booking is reviewable the moment it is completed.
	MinBookingAge time.Duration

	VerifyIPLimit  int
	VerifyIPWindow time.Duration

	SubmitIPLimit  int
	SubmitIPWindow time.Duration

	SubmitEmailLimit  int
	SubmitEmailWindow time.Duration

	// BurstLimit caps persisted feedback rows per email in BurstWindow,
	// counted against the store rather than the window counters.
	BurstLimit  int
	BurstWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		EligibilityWindow: 30 * 24 * time.Hour,
		MinBookingAge:     0,
		VerifyIPLimit:     10,
		VerifyIPWindow:    15 * time.Minute,
		SubmitIPLimit:     8,
		SubmitIPWindow:    time.Hour,
		SubmitEmailLimit:  3,
		SubmitEmailWindow: time.Hour,
		BurstLimit:        3,
		BurstWindow:       24 * time.Hour,
	}
}
