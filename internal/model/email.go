package model

import (
	"time"

	"github.com/google/uuid"
)

type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// DefaultMaxAttempts is the delivery attempt ceiling applied when a draft
// does not specify one.
const DefaultMaxAttempts = 7

// QueuedEmail is a single outbound message awaiting or having completed
// delivery. Delivery fields are mutated only by the queue service; the
// provenance fields exist for operator visibility and have no behavioral
// effect.
type QueuedEmail struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Recipient string    `db:"recipient" json:"recipient"`
	Subject   string    `db:"subject" json:"subject"`
	HTMLBody  string    `db:"html_body" json:"html_body"`
	TextBody  *string   `db:"text_body" json:"text_body,omitempty"`
	FromEmail *string   `db:"from_email" json:"from_email,omitempty"`
	FromName  *string   `db:"from_name" json:"from_name,omitempty"`

	// Provenance of the originating form submission, if any.
	SenderName    *string `db:"sender_name" json:"sender_name,omitempty"`
	SenderEmail   *string `db:"sender_email" json:"sender_email,omitempty"`
	SenderPhone   *string `db:"sender_phone" json:"sender_phone,omitempty"`
	SenderMessage *string `db:"sender_message" json:"sender_message,omitempty"`

	Status        EmailStatus `db:"status" json:"status"`
	Attempts      int         `db:"attempts" json:"attempts"`
	MaxAttempts   int         `db:"max_attempts" json:"max_attempts"`
	LastAttemptAt *time.Time  `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time  `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError     *string     `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Exhausted reports whether the record has used up its attempt budget and is
// terminal until an operator resets it.
func (e *QueuedEmail) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}

// Due reports whether the record is eligible for a delivery attempt at now.
func (e *QueuedEmail) Due(now time.Time) bool {
	if e.Status == EmailStatusSent || e.Exhausted() {
		return false
	}
	if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
		return false
	}
	return true
}
