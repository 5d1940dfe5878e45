package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/serenospa/feedback-service/libs/db"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/model"
)

// BookingRepository is a read-only view over the booking system's table.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) LatestCompletedByIdentity(ctx context.Context, email, phone string) (model.Booking, error) {
	var b model.Booking
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_name, customer_email, customer_phone, status, scheduled_at, created_at
		FROM bookings
		WHERE customer_email = $1
			AND customer_phone = $2
			AND status = 'completed'
		ORDER BY scheduled_at DESC
		LIMIT 1
	`, email, phone).Scan(
		&b.ID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.Status,
		&b.ScheduledAt,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepository) ByID(ctx context.Context, id int64) (model.Booking, error) {
	var b model.Booking
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_name, customer_email, customer_phone, status, scheduled_at, created_at
		FROM bookings
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.Status,
		&b.ScheduledAt,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports a Postgres unique-constraint error (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
