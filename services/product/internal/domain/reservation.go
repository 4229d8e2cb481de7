package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationApplied  ReservationStatus = "applied"
	ReservationRejected ReservationStatus = "rejected"
	ReservationReleased ReservationStatus = "released"
	// ReservationVoided marks a line whose cancellation arrived first.
	ReservationVoided ReservationStatus = "voided"
)

// Reservation is the durable outcome of reserving one order line. Unlike the
// idempotency keys it never expires, so a release can always tell whether
// stock was taken.
type Reservation struct {
	OrderID   uuid.UUID
	LineID    int64
	ProductID string
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
