package feedback

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/audit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/model"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/ratelimit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/storage"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/token"
)

// BookingStore is the read-only view of the booking system this service
// consumes. Not-found must be reported with an error matching
// storage.IsNotFound.
type BookingStore interface {
	LatestCompletedByIdentity(ctx context.Context, email, phone string) (model.Booking, error)
	ByID(ctx context.Context, id int64) (model.Booking, error)
}

// FeedbackStore persists reviews. Create must fail with an error matching
// storage.IsUniqueViolation when a row for the booking already exists; that
// constraint, not the pre-check, is what guarantees one review per booking.
type FeedbackStore interface {
	Create(ctx context.Context, fb *model.Feedback) (string, error)
	ExistsForBooking(ctx context.Context, bookingID int64) (bool, error)
	CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error)
}

type Service struct {
	bookings BookingStore
	feedback FeedbackStore
	audits   audit.Sink
	tokens   *token.Issuer
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(
	bookings BookingStore,
	feedbackStore FeedbackStore,
	audits audit.Sink,
	tokens *token.Issuer,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
	cfg Config,
) *Service {
	return &Service{
		bookings: bookings,
		feedback: feedbackStore,
		audits:   audits,
		tokens:   tokens,
		limiter:  limiter,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

type VerifyRequest struct {
	Email     string
	Phone     string
	OriginIP  string
	UserAgent string
}

type BookingSummary struct {
	ID          int64
	Name        string
	ScheduledAt time.Time
}

type VerifyResult struct {
	Token   string
	Booking BookingSummary
}

type SubmitRequest struct {
	Token     string
	BookingID int64
	Email     string
	Phone     string
	Name      string
	Rating    int
	Comment   string
	OriginIP  string
	UserAgent string
}

type SubmitResult struct {
	FeedbackID string
}

// VerifyEligibility finds the claimant's most recent completed, unreviewed,
// in-window booking and issues a capability token for it. Reads only; every
// attempt is audited.
func (s *Service) VerifyEligibility(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)

	if !s.limiter.Allow(ctx, "verify:ip:"+req.OriginIP, s.cfg.VerifyIPLimit, s.cfg.VerifyIPWindow) {
		s.auditVerify(ctx, nil, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "verify rate limit exceeded for origin")
		return VerifyResult{}, reject(CodeRateLimited, "too many requests, try again later")
	}

	if msg := validateIdentity(email, phone); msg != "" {
		s.auditVerify(ctx, nil, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "validation: "+msg)
		return VerifyResult{}, reject(CodeValidation, msg)
	}

	b, err := s.bookings.LatestCompletedByIdentity(ctx, email, phone)
	if err != nil {
		if storage.IsNotFound(err) {
			s.auditVerify(ctx, nil, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "no completed booking for identity")
			return VerifyResult{}, reject(CodeNotEligible, "no eligible booking found")
		}
		s.logger.Error("booking lookup failed", "err", err)
		s.auditVerify(ctx, nil, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "booking store error")
		return VerifyResult{}, errInternal()
	}

	if why := s.windowViolation(b); why != "" {
		s.auditVerify(ctx, &b.ID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, why)
		return VerifyResult{}, reject(CodeNotEligible, "outside eligibility window")
	}

	exists, err := s.feedback.ExistsForBooking(ctx, b.ID)
	if err != nil {
		s.logger.Error("feedback existence check failed", "err", err, "booking_id", b.ID)
		s.auditVerify(ctx, &b.ID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "feedback store error")
		return VerifyResult{}, errInternal()
	}
	if exists {
		s.auditVerify(ctx, &b.ID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, "feedback already submitted for booking")
		return VerifyResult{}, reject(CodeAlreadySubmitted, "feedback already submitted for this booking")
	}

	s.auditVerify(ctx, &b.ID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeSuccess, "eligible")
	return VerifyResult{
		Token: s.tokens.Issue(b.ID, email, phone),
		Booking: BookingSummary{
			ID:          b.ID,
			Name:        b.CustomerName,
			ScheduledAt: b.ScheduledAt,
		},
	}, nil
}

// Submit runs the ordered gate sequence and persists the review. The first
// failing gate short-circuits; each outcome is audited.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)

	fail := func(bookingID *int64, auditReason string, err *RejectError) (SubmitResult, error) {
		s.auditSubmit(ctx, bookingID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeFailed, auditReason)
		return SubmitResult{}, err
	}

	// Gate 1: schema.
	if msg := validateSubmission(req.Name, req.Rating, req.Comment, email, phone); msg != "" {
		return fail(nil, "validation: "+msg, reject(CodeValidation, msg))
	}

	// Gate 2: throttles. Window counters first, then the persisted burst cap.
	if !s.limiter.Allow(ctx, "submit:ip:"+req.OriginIP, s.cfg.SubmitIPLimit, s.cfg.SubmitIPWindow) {
		return fail(nil, "submit rate limit exceeded for origin", reject(CodeRateLimited, "too many requests, try again later"))
	}
	if !s.limiter.Allow(ctx, "submit:email:"+strings.ToLower(email), s.cfg.SubmitEmailLimit, s.cfg.SubmitEmailWindow) {
		return fail(nil, "submit rate limit exceeded for email", reject(CodeRateLimited, "too many requests, try again later"))
	}
	recent, err := s.feedback.CountByEmailSince(ctx, email, s.now().Add(-s.cfg.BurstWindow))
	if err != nil {
		s.logger.Error("burst count failed", "err", err)
		return fail(nil, "feedback store error", errInternal())
	}
	if recent >= s.cfg.BurstLimit {
		return fail(nil, "submission burst limit reached for email", reject(CodeRateLimited, "too many requests, try again later"))
	}

	// Gate 3: booking exists and belongs to the claimed identity.
	b, err := s.bookings.ByID(ctx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			return fail(nil, "booking not found", reject(CodeNotEligible, "no eligible booking found"))
		}
		s.logger.Error("booking lookup failed", "err", err, "booking_id", req.BookingID)
		return fail(nil, "booking store error", errInternal())
	}
	if b.CustomerEmail != email || b.CustomerPhone != phone {
		return fail(&b.ID, "identity does not match booking contact", reject(CodeNotEligible, "no eligible booking found"))
	}

	// Gate 4: terminal completed state.
	if b.Status != model.BookingStatusCompleted {
		return fail(&b.ID, "booking status is "+b.Status, reject(CodeNotEligible, "no eligible booking found"))
	}

	// Gate 5: capability token. Reported as NotEligible on purpose.
	if !s.tokens.Matches(req.Token, b.ID, email, phone) {
		return fail(&b.ID, "capability token mismatch", reject(CodeNotEligible, "no eligible booking found"))
	}

	// Gate 6: temporal window, re-derived from booking state.
	if why := s.windowViolation(b); why != "" {
		return fail(&b.ID, why, reject(CodeNotEligible, "outside eligibility window"))
	}

	// Gate 7: duplicate pre-check for a friendly error. The store constraint
	// in gate 9 remains the source of truth.
	exists, err := s.feedback.ExistsForBooking(ctx, b.ID)
	if err != nil {
		s.logger.Error("feedback existence check failed", "err", err, "booking_id", b.ID)
		return fail(&b.ID, "feedback store error", errInternal())
	}
	if exists {
		return fail(&b.ID, "feedback already submitted for booking", reject(CodeAlreadySubmitted, "AlreadySubmitted"))
	}

	// Gate 8: the submitter's name must match the booking record.
	if !strings.EqualFold(strings.TrimSpace(req.Name), strings.TrimSpace(b.CustomerName)) {
		return fail(&b.ID, "submitted name does not match booking", reject(CodeIdentityMismatch, "name does not match booking"))
	}

	// Gate 9: persist. A unique violation here means a concurrent submit won
	// the race past gate 7; that is a normal rejection, not an error.
	fb := &model.Feedback{
		ID:            uuid.NewString(),
		BookingID:     b.ID,
		CustomerName:  strings.TrimSpace(req.Name),
		CustomerEmail: email,
		CustomerPhone: phone,
		Rating:        req.Rating,
		Comment:       strings.TrimSpace(req.Comment),
		OriginIP:      req.OriginIP,
		UserAgent:     req.UserAgent,
	}
	id, err := s.feedback.Create(ctx, fb)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return fail(&b.ID, "duplicate insert blocked by constraint", reject(CodeAlreadySubmitted, "AlreadySubmitted"))
		}
		s.logger.Error("feedback insert failed", "err", err, "booking_id", b.ID)
		return fail(&b.ID, "feedback store error", errInternal())
	}

	s.auditSubmit(ctx, &b.ID, email, phone, req.OriginIP, req.UserAgent, audit.OutcomeSuccess, "feedback persisted")
	return SubmitResult{FeedbackID: id}, nil
}

// windowViolation returns the audit reason when the booking falls outside the
// eligibility window, or "" when it is reviewable now.
func (s *Service) windowViolation(b model.Booking) string {
	now := s.now()
	if b.ScheduledAt.After(now) {
		return "booking scheduled in the future"
	}
	age := now.Sub(b.ScheduledAt)
	if age > s.cfg.EligibilityWindow {
		return "eligibility window elapsed"
	}
	if s.cfg.MinBookingAge > 0 && age < s.cfg.MinBookingAge {
		return "booking too recent for feedback"
	}
	return ""
}

func (s *Service) auditVerify(ctx context.Context, bookingID *int64, email, phone, ip, ua, outcome, reason string) {
	s.audits.Record(ctx, audit.Entry{
		BookingID: bookingID,
		Email:     email,
		Phone:     phone,
		OriginIP:  ip,
		UserAgent: ua,
		Action:    audit.ActionVerification,
		Outcome:   outcome,
		Reason:    reason,
		CreatedAt: s.now(),
	})
}

func (s *Service) auditSubmit(ctx context.Context, bookingID *int64, email, phone, ip, ua, outcome, reason string) {
	s.audits.Record(ctx, audit.Entry{
		BookingID: bookingID,
		Email:     email,
		Phone:     phone,
		OriginIP:  ip,
		UserAgent: ua,
		Action:    audit.ActionSubmission,
		Outcome:   outcome,
		Reason:    reason,
		CreatedAt: s.now(),
	})
}
