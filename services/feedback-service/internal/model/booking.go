package model

import "time"

// Booking lifecycle statuses. The feedback service only ever reads bookings;
// the booking system owns the lifecycle.
const (
	BookingStatusPending    = "pending"
	BookingStatusBooked     = "booked"
	BookingStatusInProgress = "in-progress"
	BookingStatusCompleted  = "completed"
	BookingStatusCancelled  = "cancelled"
)

type Booking struct {
	ID            int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Status        string
	ScheduledAt   time.Time
	CreatedAt     time.Time
}
