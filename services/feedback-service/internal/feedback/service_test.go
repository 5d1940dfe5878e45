package feedback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/audit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/model"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/ratelimit"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/token"
)

var testNow = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

type fakeBookingStore struct {
	bookings []model.Booking
}

func (f *fakeBookingStore) LatestCompletedByIdentity(_ context.Context, email, phone string) (model.Booking, error) {
	var best model.Booking
	found := false
	for _, b := range f.bookings {
		if b.CustomerEmail != email || b.CustomerPhone != phone || b.Status != model.BookingStatusCompleted {
			continue
		}
		if !found || b.ScheduledAt.After(best.ScheduledAt) {
			best = b
			found = true
		}
	}
	if !found {
		return model.Booking{}, pgx.ErrNoRows
	}
	return best, nil
}

func (f *fakeBookingStore) ByID(_ context.Context, id int64) (model.Booking, error) {
	for _, b := range f.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return model.Booking{}, pgx.ErrNoRows
}

type fakeFeedbackStore struct {
	mu          sync.Mutex
	rows        map[int64]*model.Feedback
	recentCount int
	forceUnique bool
	// skipPrecheck makes ExistsForBooking lie, simulating a concurrent
	// insert racing past the duplicate pre-check.
	skipPrecheck bool
}

func newFakeFeedbackStore() *fakeFeedbackStore {
	return &fakeFeedbackStore{rows: map[int64]*model.Feedback{}}
}

func (f *fakeFeedbackStore) Create(_ context.Context, fb *model.Feedback) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forceUnique {
		return "", &pgconn.PgError{Code: "23505"}
	}
	if _, ok := f.rows[fb.BookingID]; ok {
		return "", &pgconn.PgError{Code: "23505"}
	}
	f.rows[fb.BookingID] = fb
	return fb.ID, nil
}

func (f *fakeFeedbackStore) ExistsForBooking(_ context.Context, bookingID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skipPrecheck {
		return false, nil
	}
	_, ok := f.rows[bookingID]
	return ok, nil
}

func (f *fakeFeedbackStore) CountByEmailSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.recentCount, nil
}

type auditLog struct {
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) {
	a.entries = append(a.entries, e)
}

func (a *auditLog) last(t *testing.T) audit.Entry {
	t.Helper()
	if len(a.entries) == 0 {
		t.Fatal("expected at least one audit entry")
	}
	return a.entries[len(a.entries)-1]
}

func newTestService(bookings *fakeBookingStore, store *fakeFeedbackStore, cfg Config) (*Service, *auditLog) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audits := &auditLog{}
	svc := NewService(
		bookings,
		store,
		audits,
		token.NewIssuer("test-secret"),
		ratelimit.NewLimiter(ratelimit.NewMemoryStore(), logger),
		logger,
		cfg,
	)
	svc.now = func() time.Time { return testNow }
	return svc, audits
}

func aliceBooking() model.Booking {
	return model.Booking{
		ID:            42,
		CustomerName:  "Alice",
		CustomerEmail: "a@b.com",
		CustomerPhone: "9876543210",
		Status:        model.BookingStatusCompleted,
		ScheduledAt:   testNow.AddDate(0, 0, -5),
	}
}

func aliceVerify() VerifyRequest {
	return VerifyRequest{Email: "a@b.com", Phone: "9876543210", OriginIP: "1.2.3.4", UserAgent: "test-agent"}
}

func aliceSubmit(tok string) SubmitRequest {
	return SubmitRequest{
		Token:     tok,
		BookingID: 42,
		Email:     "a@b.com",
		Phone:     "9876543210",
		Name:      "Alice",
		Rating:    5,
		Comment:   "Wonderful service, very relaxing.",
		OriginIP:  "1.2.3.4",
		UserAgent: "test-agent",
	}
}

func rejectCode(t *testing.T, err error) *RejectError {
	t.Helper()
	var rej *RejectError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	return rej
}

func TestVerifyNonCompletedBookingNotEligible(t *testing.T) {
	b := aliceBooking()
	b.Status = model.BookingStatusBooked
	svc, audits := newTestService(&fakeBookingStore{bookings: []model.Booking{b}}, newFakeFeedbackStore(), DefaultConfig())

	_, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if rej := rejectCode(t, err); rej.Code != CodeNotEligible {
		t.Fatalf("expected NotEligible, got %s", rej.Code)
	}
	if e := audits.last(t); e.Outcome != audit.OutcomeFailed || e.Action != audit.ActionVerification {
		t.Fatalf("expected failed verification audit entry, got %+v", e)
	}
}

func TestVerifyEligibleIssuesDeterministicToken(t *testing.T) {
	svc, audits := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())

	res, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if err != nil {
		t.Fatalf("VerifyEligibility failed: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected a token")
	}
	if res.Booking.ID != 42 || res.Booking.Name != "Alice" {
		t.Fatalf("unexpected booking summary: %+v", res.Booking)
	}
	if e := audits.last(t); e.Outcome != audit.OutcomeSuccess || e.BookingID == nil || *e.BookingID != 42 {
		t.Fatalf("expected success audit entry for booking 42, got %+v", e)
	}

	again, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if err != nil {
		t.Fatalf("second VerifyEligibility failed: %v", err)
	}
	if again.Token != res.Token {
		t.Fatal("token must be deterministic for identical inputs")
	}
}

func TestVerifyPicksMostRecentCompletedBooking(t *testing.T) {
	older := aliceBooking()
	older.ID = 41
	older.ScheduledAt = testNow.AddDate(0, 0, -20)
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{older, aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())

	res, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if err != nil {
		t.Fatalf("VerifyEligibility failed: %v", err)
	}
	if res.Booking.ID != 42 {
		t.Fatalf("expected most recent booking 42, got %d", res.Booking.ID)
	}
}

func TestVerifyWindowElapsed(t *testing.T) {
	b := aliceBooking()
	b.ScheduledAt = testNow.AddDate(0, 0, -40)
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{b}}, newFakeFeedbackStore(), DefaultConfig())

	_, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	rej := rejectCode(t, err)
	if rej.Code != CodeNotEligible {
		t.Fatalf("expected NotEligible, got %s", rej.Code)
	}
	if rej.Reason != "outside eligibility window" {
		t.Fatalf("expected window reason, got %q", rej.Reason)
	}
}

func TestVerifyAlreadyReviewed(t *testing.T) {
	store := newFakeFeedbackStore()
	store.rows[42] = &model.Feedback{ID: "existing", BookingID: 42}
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, store, DefaultConfig())

	_, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if rej := rejectCode(t, err); rej.Code != CodeAlreadySubmitted {
		t.Fatalf("expected AlreadySubmitted, got %s", rej.Code)
	}
}

func TestVerifyRateLimitPerOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyIPLimit = 3
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), cfg)

	for i := 0; i < 3; i++ {
		if _, err := svc.VerifyEligibility(context.Background(), aliceVerify()); err != nil {
			t.Fatalf("request %d should pass the rate gate: %v", i+1, err)
		}
	}
	_, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if rej := rejectCode(t, err); rej.Code != CodeRateLimited {
		t.Fatalf("expected RateLimitExceeded on 4th request, got %s", rej.Code)
	}

	other := aliceVerify()
	other.OriginIP = "5.6.7.8"
	if _, err := svc.VerifyEligibility(context.Background(), other); err != nil {
		t.Fatalf("a different origin must not share the window: %v", err)
	}
}

func TestSubmitFullScenario(t *testing.T) {
	store := newFakeFeedbackStore()
	svc, audits := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, store, DefaultConfig())

	res, err := svc.VerifyEligibility(context.Background(), aliceVerify())
	if err != nil {
		t.Fatalf("VerifyEligibility failed: %v", err)
	}

	sub, err := svc.Submit(context.Background(), aliceSubmit(res.Token))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if sub.FeedbackID == "" {
		t.Fatal("expected a feedback id")
	}
	saved, ok := store.rows[42]
	if !ok {
		t.Fatal("expected feedback row for booking 42")
	}
	if saved.Rating != 5 || saved.CustomerEmail != "a@b.com" {
		t.Fatalf("unexpected persisted feedback: %+v", saved)
	}
	if e := audits.last(t); e.Action != audit.ActionSubmission || e.Outcome != audit.OutcomeSuccess {
		t.Fatalf("expected success submission audit entry, got %+v", e)
	}

	_, err = svc.Submit(context.Background(), aliceSubmit(res.Token))
	rej := rejectCode(t, err)
	if rej.Code != CodeAlreadySubmitted || rej.Reason != "AlreadySubmitted" {
		t.Fatalf("expected AlreadySubmitted on second submit, got %+v", rej)
	}
}

func TestSubmitUniqueViolationRace(t *testing.T) {
	// Simulates two concurrent submissions both passing the duplicate
	// pre-check: the insert hits the store constraint instead.
	store := newFakeFeedbackStore()
	store.forceUnique = true
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, store, DefaultConfig())

	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")
	_, err := svc.Submit(context.Background(), aliceSubmit(tok))
	if rej := rejectCode(t, err); rej.Code != CodeAlreadySubmitted {
		t.Fatalf("constraint violation must surface as AlreadySubmitted, got %s", rej.Code)
	}
}

func TestSubmitWindowGates(t *testing.T) {
	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")

	past := aliceBooking()
	past.ScheduledAt = testNow.AddDate(0, 0, -31)
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{past}}, newFakeFeedbackStore(), DefaultConfig())
	_, err := svc.Submit(context.Background(), aliceSubmit(tok))
	rej := rejectCode(t, err)
	if rej.Code != CodeNotEligible || rej.Reason != "outside eligibility window" {
		t.Fatalf("31-day-old booking must be outside the window, got %+v", rej)
	}

	future := aliceBooking()
	future.ScheduledAt = testNow.AddDate(0, 0, 1)
	svc, _ = newTestService(&fakeBookingStore{bookings: []model.Booking{future}}, newFakeFeedbackStore(), DefaultConfig())
	_, err = svc.Submit(context.Background(), aliceSubmit(tok))
	if rej := rejectCode(t, err); rej.Code != CodeNotEligible {
		t.Fatalf("future booking must be rejected, got %s", rej.Code)
	}
}

func TestSubmitMinBookingAge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinBookingAge = 24 * time.Hour

	b := aliceBooking()
	b.ScheduledAt = testNow.Add(-2 * time.Hour)
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{b}}, newFakeFeedbackStore(), cfg)

	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")
	_, err := svc.Submit(context.Background(), aliceSubmit(tok))
	if rej := rejectCode(t, err); rej.Code != CodeNotEligible {
		t.Fatalf("too-recent booking must be rejected when a minimum age is configured, got %s", rej.Code)
	}
}

func TestSubmitTokenMismatchLooksLikeNotEligible(t *testing.T) {
	svc, audits := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())

	req := aliceSubmit("0000000000000000000000000000000000000000000000000000000000000000")
	_, err := svc.Submit(context.Background(), req)
	rej := rejectCode(t, err)
	if rej.Code != CodeNotEligible {
		t.Fatalf("token mismatch must surface as NotEligible, got %s", rej.Code)
	}
	if e := audits.last(t); e.Reason != "capability token mismatch" {
		t.Fatalf("audit must keep the precise reason, got %q", e.Reason)
	}
}

func TestSubmitNameMismatch(t *testing.T) {
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())
	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")

	req := aliceSubmit(tok)
	req.Name = "Mallory"
	_, err := svc.Submit(context.Background(), req)
	if rej := rejectCode(t, err); rej.Code != CodeIdentityMismatch {
		t.Fatalf("expected IdentityMismatch, got %s", rej.Code)
	}

	// Case and surrounding whitespace do not count as a mismatch.
	req = aliceSubmit(tok)
	req.Name = "  aLiCe "
	if _, err := svc.Submit(context.Background(), req); err != nil {
		t.Fatalf("case/whitespace variant of the name must be accepted: %v", err)
	}
}

func TestSubmitIdentityMismatchAgainstBooking(t *testing.T) {
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())
	tok := token.NewIssuer("test-secret").Issue(42, "mallory@evil.com", "1111111111")

	req := aliceSubmit(tok)
	req.Email = "mallory@evil.com"
	req.Phone = "1111111111"
	_, err := svc.Submit(context.Background(), req)
	if rej := rejectCode(t, err); rej.Code != CodeNotEligible {
		t.Fatalf("wrong contact identity must be NotEligible, got %s", rej.Code)
	}
}

func TestSubmitSchemaGate(t *testing.T) {
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, newFakeFeedbackStore(), DefaultConfig())
	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")

	cases := []struct {
		label  string
		mutate func(*SubmitRequest)
	}{
		{"rating too high", func(r *SubmitRequest) { r.Rating = 6 }},
		{"rating too low", func(r *SubmitRequest) { r.Rating = 0 }},
		{"short comment", func(r *SubmitRequest) { r.Comment = "ok" }},
		{"short name", func(r *SubmitRequest) { r.Name = "A" }},
		{"name with digits", func(r *SubmitRequest) { r.Name = "Alice42" }},
		{"bad phone", func(r *SubmitRequest) { r.Phone = "12345" }},
		{"bad email", func(r *SubmitRequest) { r.Email = "not-an-email" }},
	}
	for _, tc := range cases {
		req := aliceSubmit(tok)
		tc.mutate(&req)
		_, err := svc.Submit(context.Background(), req)
		if rej := rejectCode(t, err); rej.Code != CodeValidation {
			t.Fatalf("%s: expected ValidationError, got %s", tc.label, rej.Code)
		}
	}
}

func TestSubmitBurstGate(t *testing.T) {
	store := newFakeFeedbackStore()
	store.recentCount = 3
	svc, audits := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, store, DefaultConfig())

	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")
	_, err := svc.Submit(context.Background(), aliceSubmit(tok))
	if rej := rejectCode(t, err); rej.Code != CodeRateLimited {
		t.Fatalf("3 recent rows must trip the burst gate, got %s", rej.Code)
	}
	if e := audits.last(t); e.Reason != "submission burst limit reached for email" {
		t.Fatalf("unexpected audit reason %q", e.Reason)
	}
}

func TestSubmitConcurrentExactlyOneSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubmitIPLimit = 100
	cfg.SubmitEmailLimit = 100
	cfg.BurstLimit = 100

	store := newFakeFeedbackStore()
	store.skipPrecheck = true
	svc, _ := newTestService(&fakeBookingStore{bookings: []model.Booking{aliceBooking()}}, store, cfg)
	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), aliceSubmit(tok))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, duplicates := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		if rej := rejectCode(t, err); rej.Code == CodeAlreadySubmitted {
			duplicates++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful submit, got %d", successes)
	}
	if duplicates != workers-1 {
		t.Fatalf("expected %d AlreadySubmitted rejections, got %d", workers-1, duplicates)
	}
}

func TestSubmitUnknownBooking(t *testing.T) {
	svc, _ := newTestService(&fakeBookingStore{}, newFakeFeedbackStore(), DefaultConfig())
	tok := token.NewIssuer("test-secret").Issue(42, "a@b.com", "9876543210")

	_, err := svc.Submit(context.Background(), aliceSubmit(tok))
	if rej := rejectCode(t, err); rej.Code != CodeNotEligible {
		t.Fatalf("unknown booking must be NotEligible, got %s", rej.Code)
	}
}
