package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/velora/mailroom/internal/model"
)

// EmailUpdate is a partial update of a QueuedEmail's mutable delivery fields.
// Nil pointers leave the column untouched; the Clear flags set the nullable
// columns back to NULL, which a nil pointer cannot express.
type EmailUpdate struct {
	Status        *model.EmailStatus
	Attempts      *int
	MaxAttempts   *int
	LastAttemptAt *time.Time
	NextRetryAt   *time.Time
	LastError     *string

	ClearNextRetryAt bool
	ClearLastError   bool
}

// VerificationUpdate is a partial update of a VerificationCode.
type VerificationUpdate struct {
	Verified *bool
	Attempts *int
	EmailID  *uuid.UUID
}

type EmailQueueRepository interface {
	Create(ctx context.Context, email *model.QueuedEmail) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error)
	Update(ctx context.Context, id uuid.UUID, update EmailUpdate) (*model.QueuedEmail, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// ListByStatus returns records newest-created-first. A nil status
	// returns all records regardless of status.
	ListByStatus(ctx context.Context, status *model.EmailStatus) ([]*model.QueuedEmail, error)
	// ListDue returns records eligible for a delivery attempt at now:
	// pending or failed, attempts below the ceiling, and no retry hold-off
	// still in the future.
	ListDue(ctx context.Context, now time.Time) ([]*model.QueuedEmail, error)
}

type VerificationRepository interface {
	Create(ctx context.Context, code *model.VerificationCode) error
	// GetActive returns the most recently created unverified, uninvalidated,
	// unexpired code for the key, or nil if none exists.
	GetActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (*model.VerificationCode, error)
	Update(ctx context.Context, id uuid.UUID, update VerificationUpdate) (*model.VerificationCode, error)
	// InvalidateActive marks all active codes for the key as superseded.
	InvalidateActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// PurgeExpiredOrVerified deletes spent records. Pure storage hygiene:
	// lookups already filter, so correctness never depends on running it.
	PurgeExpiredOrVerified(ctx context.Context, now time.Time) (int64, error)
}
