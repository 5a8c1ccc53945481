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

const verificationColumns = `id, email, category, code, email_id, verified, invalidated, attempts, created_at, expires_at`

type verificationRepository struct {
	BaseRepository
}

func NewVerificationRepository(base BaseRepository) repository.VerificationRepository {
	return &verificationRepository{base}
}

func (r *verificationRepository) Create(ctx context.Context, code *model.VerificationCode) error {
	if code == nil {
		return fmt.Errorf("verification code cannot be nil")
	}
	if code.Email == "" || code.Code == "" {
		return fmt.Errorf("verification code email and code cannot be empty")
	}

	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := r.GetDB().Rebind(`
		INSERT INTO verification_codes (` + verificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.GetDB().ExecContext(ctx, query,
		code.ID,
		code.Email,
		code.Category,
		code.Code,
		code.EmailID,
		code.Verified,
		code.Invalidated,
		code.Attempts,
		code.CreatedAt,
		code.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create verification code: %w", err)
	}
	return nil
}

func (r *verificationRepository) GetActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (*model.VerificationCode, error) {
	query := r.GetDB().Rebind(`
		SELECT ` + verificationColumns + `
		FROM verification_codes
		WHERE email = ?
		AND category = ?
		AND verified = ?
		AND invalidated = ?
		AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var code model.VerificationCode
	err := r.GetDB().GetContext(ctx, &code, query, email, category, false, false, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active verification code: %w", err)
	}
	return &code, nil
}

func (r *verificationRepository) Update(ctx context.Context, id uuid.UUID, update repository.VerificationUpdate) (*model.VerificationCode, error) {
	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if update.Verified != nil {
		sets = append(sets, "verified = ?")
		args = append(args, *update.Verified)
	}
	if update.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *update.Attempts)
	}
	if update.EmailID != nil {
		sets = append(sets, "email_id = ?")
		args = append(args, *update.EmailID)
	}

	if len(sets) == 0 {
		return r.getExisting(ctx, id)
	}

	query := r.GetDB().Rebind(fmt.Sprintf(
		`UPDATE verification_codes SET %s WHERE id = ?`, strings.Join(sets, ", "),
	))
	args = append(args, id)

	result, err := r.GetDB().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update verification code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperrors.NewNotFound("verification code", nil)
	}

	return r.getExisting(ctx, id)
}

func (r *verificationRepository) getExisting(ctx context.Context, id uuid.UUID) (*model.VerificationCode, error) {
	query := r.GetDB().Rebind(`SELECT ` + verificationColumns + ` FROM verification_codes WHERE id = ?`)

	var code model.VerificationCode
	err := r.GetDB().GetContext(ctx, &code, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("verification code", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}
	return &code, nil
}

func (r *verificationRepository) InvalidateActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (int64, error) {
	query := r.GetDB().Rebind(`
		UPDATE verification_codes
		SET invalidated = ?
		WHERE email = ?
		AND category = ?
		AND verified = ?
		AND invalidated = ?
		AND expires_at > ?
	`)

	result, err := r.GetDB().ExecContext(ctx, query, true, email, category, false, false, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate verification codes: %w", err)
	}
	return result.RowsAffected()
}

func (r *verificationRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	query := r.GetDB().Rebind(`DELETE FROM verification_codes WHERE id = ?`)

	result, err := r.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete verification code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *verificationRepository) PurgeExpiredOrVerified(ctx context.Context, now time.Time) (int64, error) {
	query := r.GetDB().Rebind(`
		DELETE FROM verification_codes
		WHERE expires_at < ? OR verified = ? OR invalidated = ?
	`)

	result, err := r.GetDB().ExecContext(ctx, query, now.UTC(), true, true)
	if err != nil {
		return 0, fmt.Errorf("failed to purge verification codes: %w", err)
	}
	return result.RowsAffected()
}
