package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/serenospa/feedback-service/libs/db"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/model"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/outbox"
)

type FeedbackRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewFeedbackRepository(pool *db.Pool, outboxRepo *outbox.Repository) *FeedbackRepository {
	return &FeedbackRepository{pool: pool, outboxRepo: outboxRepo}
}

// Create inserts the feedback row and its outbox event in one transaction.
// The UNIQUE constraint on booking_id surfaces as a unique-violation error;
// callers classify it with IsUniqueViolation.
func (r *FeedbackRepository) Create(ctx context.Context, fb *model.Feedback) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO feedback
			(id, booking_id, customer_name, customer_email, customer_phone, rating, comment, origin_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, fb.ID, fb.BookingID, fb.CustomerName, fb.CustomerEmail, fb.CustomerPhone,
		fb.Rating, fb.Comment, fb.OriginIP, fb.UserAgent).Scan(&id, &createdAt)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"feedback_id":    id,
		"booking_id":     fb.BookingID,
		"customer_name":  fb.CustomerName,
		"customer_email": fb.CustomerEmail,
		"rating":         fb.Rating,
		"created_at":     createdAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	if err := r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "feedback",
		AggregateID:   id,
		EventType:     "feedback.submitted.v1",
		Payload:       payload,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *FeedbackRepository) ExistsForBooking(ctx context.Context, bookingID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM feedback WHERE booking_id = $1)
	`, bookingID).Scan(&exists)
	return exists, err
}

func (r *FeedbackRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM feedback
		WHERE customer_email = $1 AND created_at >= $2
	`, email, since).Scan(&count)
	return count, err
}
