package model

import (
	"time"

	"github.com/google/uuid"
)

// FormCategory identifies which site form a verification code gates.
type FormCategory string

const (
	CategoryDemoRequest FormCategory = "demo-request"
	CategoryContact     FormCategory = "contact"
	CategoryCareers     FormCategory = "careers"
)

// ValidCategory reports whether c is one of the known form categories.
func ValidCategory(c FormCategory) bool {
	switch c {
	case CategoryDemoRequest, CategoryContact, CategoryCareers:
		return true
	}
	return false
}

// VerificationCode is a one-time numeric code proving control of an email
// address for a specific form category. EmailID links the code to the queued
// email that carried it, so a failed delivery can be reconciled with its code.
type VerificationCode struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	Email       string       `db:"email" json:"email"`
	Category    FormCategory `db:"category" json:"category"`
	Code        string       `db:"code" json:"-"`
	EmailID     *uuid.UUID   `db:"email_id" json:"email_id,omitempty"`
	Verified    bool         `db:"verified" json:"verified"`
	Invalidated bool         `db:"invalidated" json:"invalidated"`
	Attempts    int          `db:"attempts" json:"attempts"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at" json:"expires_at"`
}

func (v *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// Active reports whether the code can still be checked: unverified, not
// superseded by a newer issuance, and not expired.
func (v *VerificationCode) Active(now time.Time) bool {
	return !v.Verified && !v.Invalidated && !v.Expired(now)
}
