package feedback

// Rejection codes surfaced to callers. Token mismatches are deliberately
// reported as NotEligible so a probing client cannot tell which check failed;
// the audit trail keeps the precise reason.
const (
	CodeValidation       = "ValidationError"
	CodeRateLimited      = "RateLimitExceeded"
	CodeNotEligible      = "NotEligible"
	CodeAlreadySubmitted = "AlreadySubmitted"
	CodeIdentityMismatch = "IdentityMismatch"
	CodeInternal         = "InternalError"
)

// RejectError is a business-rule rejection safe to show to callers. Reason
// never carries store error text or other internal detail.
type RejectError struct {
	Code   string
	Reason string
}

func (e *RejectError) Error() string {
	return e.Code + ": " + e.Reason
}

func reject(code, reason string) *RejectError {
	return &RejectError{Code: code, Reason: reason}
}

func errInternal() *RejectError {
	return reject(CodeInternal, "something went wrong, please try again later")
}
