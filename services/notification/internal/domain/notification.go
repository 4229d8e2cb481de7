package domain

import (
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusRetry   Status = "retry"
	StatusSkipped Status = "skipped"
)

type ReferenceType string

const (
	ReferenceOrder ReferenceType = "Order"
	ReferenceUser  ReferenceType = "User"
)

const DefaultMaxRetries = 3

type Notification struct {
	ID            int64
	UserID        string
	Email         string
	PhoneNumber   string
	Type          Channel
	TemplateName  string
	Subject       string
	Body          string
	Status        Status
	RetryCount    int
	MaxRetries    int
	ErrorMessage  *string
	ReferenceID   string
	ReferenceType ReferenceType
	CreatedAt     time.Time
	SentAt        *time.Time
	UpdatedAt     time.Time
}

func (n *Notification) MarkSent(now time.Time) {
	n.Status = StatusSent
	n.SentAt = &now
	n.ErrorMessage = nil
	n.UpdatedAt = now
}

// MarkFailed counts a failed attempt. The record stays eligible for a retry
// until RetryCount reaches MaxRetries.
func (n *Notification) MarkFailed(reason string, now time.Time) {
	n.RetryCount++
	n.ErrorMessage = &reason
	n.UpdatedAt = now

	if n.RetryCount < n.MaxRetries {
		n.Status = StatusRetry
		return
	}

	n.Status = StatusFailed
}

// MarkUndeliverable fails the record for good, without spending a retry.
func (n *Notification) MarkUndeliverable(reason string, now time.Time) {
	n.Status = StatusFailed
	n.ErrorMessage = &reason
	n.UpdatedAt = now
}

func (n *Notification) MarkSkipped(reason string, now time.Time) {
	n.Status = StatusSkipped
	n.ErrorMessage = &reason
	n.UpdatedAt = now
}
