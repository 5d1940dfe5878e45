package audit

import (
	"context"

	"github.com/serenospa/feedback-service/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO feedback_audit_log
			(booking_id, customer_email, customer_phone, origin_ip, user_agent, action, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.BookingID, e.Email, e.Phone, e.OriginIP, e.UserAgent, e.Action, e.Outcome, e.Reason)
	return err
}
