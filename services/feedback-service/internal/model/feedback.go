package model

import "time"

// Feedback is a customer review tied to exactly one booking. The UNIQUE
// constraint on BookingID in the store is the authoritative guard; rows are
// never updated or deleted by this service.
type Feedback struct {
	ID            string
	BookingID     int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Rating        int
	Comment       string
	OriginIP      string
	UserAgent     string
	CreatedAt     time.Time
}
