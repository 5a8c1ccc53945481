package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/velora/mailroom/internal/model"
	"github.com/velora/mailroom/internal/repository"
	apperrors "github.com/velora/mailroom/pkg/errors"
)

const emailColumns = `id, recipient, subject, html_body, text_body, from_email, from_name,
	sender_name, sender_email, sender_phone, sender_message,
	status, attempts, max_attempts, last_attempt_at, next_retry_at, last_error, created_at`

type emailQueueRepository struct {
	BaseRepository
}

func NewEmailQueueRepository(base BaseRepository) repository.EmailQueueRepository {
	return &emailQueueRepository{base}
}

func (r *emailQueueRepository) Create(ctx context.Context, email *model.QueuedEmail) error {
	if email == nil {
		return fmt.Errorf("email cannot be nil")
	}
	if email.Recipient == "" {
		return fmt.Errorf("email recipient cannot be empty")
	}

	if email.ID == uuid.Nil {
		email.ID = uuid.New()
	}
	if email.Status == "" {
		email.Status = model.EmailStatusPending
	}
	if email.MaxAttempts <= 0 {
		email.MaxAttempts = model.DefaultMaxAttempts
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}

	query := r.GetDB().Rebind(`
		INSERT INTO queued_emails (` + emailColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.GetDB().ExecContext(ctx, query,
		email.ID,
		email.Recipient,
		email.Subject,
		email.HTMLBody,
		email.TextBody,
		email.FromEmail,
		email.FromName,
		email.SenderName,
		email.SenderEmail,
		email.SenderPhone,
		email.SenderMessage,
		email.Status,
		email.Attempts,
		email.MaxAttempts,
		email.LastAttemptAt,
		email.NextRetryAt,
		email.LastError,
		email.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queued email: %w", err)
	}
	return nil
}

func (r *emailQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error) {
	query := r.GetDB().Rebind(`SELECT ` + emailColumns + ` FROM queued_emails WHERE id = ?`)

	var email model.QueuedEmail
	err := r.GetDB().GetContext(ctx, &email, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued email: %w", err)
	}
	return &email, nil
}

func (r *emailQueueRepository) Update(ctx context.Context, id uuid.UUID, update repository.EmailUpdate) (*model.QueuedEmail, error) {
	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *update.Attempts)
	}
	if update.MaxAttempts != nil {
		sets = append(sets, "max_attempts = ?")
		args = append(args, *update.MaxAttempts)
	}
	if update.LastAttemptAt != nil {
		sets = append(sets, "last_attempt_at = ?")
		args = append(args, update.LastAttemptAt.UTC())
	}
	switch {
	case update.ClearNextRetryAt:
		sets = append(sets, "next_retry_at = NULL")
	case update.NextRetryAt != nil:
		sets = append(sets, "next_retry_at = ?")
		args = append(args, update.NextRetryAt.UTC())
	}
	switch {
	case update.ClearLastError:
		sets = append(sets, "last_error = NULL")
	case update.LastError != nil:
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}

	if len(sets) == 0 {
		return r.getExisting(ctx, id)
	}

	query := r.GetDB().Rebind(fmt.Sprintf(
		`UPDATE queued_emails SET %s WHERE id = ?`, strings.Join(sets, ", "),
	))
	args = append(args, id)

	result, err := r.GetDB().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update queued email: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperrors.NewNotFound("queued email", nil)
	}

	return r.getExisting(ctx, id)
}

func (r *emailQueueRepository) getExisting(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error) {
	email, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return nil, apperrors.NewNotFound("queued email", nil)
	}
	return email, nil
}

func (r *emailQueueRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := r.GetDB().Rebind(`DELETE FROM queued_emails WHERE id = ?`)

	result, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete queued email: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *emailQueueRepository) ListByStatus(ctx context.Context, status *model.EmailStatus) ([]*model.QueuedEmail, error) {
	var (
		query string
		args  []interface{}
	)
	if status == nil {
		query = `SELECT ` + emailColumns + ` FROM queued_emails ORDER BY created_at DESC`
	} else {
		query = r.GetDB().Rebind(`SELECT ` + emailColumns + ` FROM queued_emails WHERE status = ? ORDER BY created_at DESC`)
		args = append(args, *status)
	}

	emails := []*model.QueuedEmail{}
	if err := r.GetDB().SelectContext(ctx, &emails, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list queued emails: %w", err)
	}
	return emails, nil
}

func (r *emailQueueRepository) ListDue(ctx context.Context, now time.Time) ([]*model.QueuedEmail, error) {
	query := r.GetDB().Rebind(`
		SELECT ` + emailColumns + `
		FROM queued_emails
		WHERE status IN (?, ?)
		AND attempts < max_attempts
		AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC
	`)

	emails := []*model.QueuedEmail{}
	err := r.GetDB().SelectContext(ctx, &emails, query,
		model.EmailStatusPending, model.EmailStatusFailed, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due emails: %w", err)
	}
	return emails, nil
}
