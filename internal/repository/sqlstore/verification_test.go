package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora/mailroom/internal/model"
	"github.com/velora/mailroom/internal/repository"
	apperrors "github.com/velora/mailroom/pkg/errors"
)

func testCode(email string, createdAt time.Time, ttl time.Duration) *model.VerificationCode {
	return &model.VerificationCode{
		Email:     email,
		Category:  model.CategoryContact,
		Code:      "123456",
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ttl),
	}
}

func TestVerificationGetActivePicksNewest(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	older := testCode("b@x.com", now.Add(-5*time.Minute), 15*time.Minute)
	newer := testCode("b@x.com", now.Add(-1*time.Minute), 15*time.Minute)
	newer.Code = "654321"

	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.GetActive(ctx, "b@x.com", model.CategoryContact, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "654321", got.Code)
}

func TestVerificationGetActiveFilters(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expired := testCode("b@x.com", now.Add(-30*time.Minute), 15*time.Minute)

	verified := testCode("b@x.com", now.Add(-2*time.Minute), 15*time.Minute)
	verified.Verified = true

	invalidated := testCode("b@x.com", now.Add(-1*time.Minute), 15*time.Minute)
	invalidated.Invalidated = true

	otherCategory := testCode("b@x.com", now, 15*time.Minute)
	otherCategory.Category = model.CategoryCareers

	for _, c := range []*model.VerificationCode{expired, verified, invalidated, otherCategory} {
		require.NoError(t, repo.Create(ctx, c))
	}

	got, err := repo.GetActive(ctx, "b@x.com", model.CategoryContact, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.GetActive(ctx, "b@x.com", model.CategoryCareers, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, otherCategory.ID, got.ID)
}

func TestVerificationUpdate(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	code := testCode("b@x.com", now, 15*time.Minute)
	require.NoError(t, repo.Create(ctx, code))

	attempts := 2
	updated, err := repo.Update(ctx, code.ID, repository.VerificationUpdate{Attempts: &attempts})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Attempts)
	assert.False(t, updated.Verified)

	verified := true
	emailID := uuid.New()
	updated, err = repo.Update(ctx, code.ID, repository.VerificationUpdate{
		Verified: &verified,
		EmailID:  &emailID,
	})
	require.NoError(t, err)
	assert.True(t, updated.Verified)
	require.NotNil(t, updated.EmailID)
	assert.Equal(t, emailID, *updated.EmailID)

	_, err = repo.Update(ctx, uuid.New(), repository.VerificationUpdate{Attempts: &attempts})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestVerificationInvalidateActive(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	active := testCode("b@x.com", now.Add(-time.Minute), 15*time.Minute)
	expired := testCode("b@x.com", now.Add(-time.Hour), 15*time.Minute)

	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, expired))

	count, err := repo.InvalidateActive(ctx, "b@x.com", model.CategoryContact, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetActive(ctx, "b@x.com", model.CategoryContact, now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVerificationPurge(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	expired := testCode("a@x.com", now.Add(-time.Hour), 15*time.Minute)
	verified := testCode("b@x.com", now, 15*time.Minute)
	verified.Verified = true
	live := testCode("c@x.com", now, 15*time.Minute)

	for _, c := range []*model.VerificationCode{expired, verified, live} {
		require.NoError(t, repo.Create(ctx, c))
	}

	count, err := repo.PurgeExpiredOrVerified(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	got, err := repo.GetActive(ctx, "c@x.com", model.CategoryContact, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.ID, got.ID)
}

func TestVerificationDelete(t *testing.T) {
	_, repo := newTestRepos(t)
	ctx := context.Background()

	code := testCode("a@x.com", time.Now().UTC(), 15*time.Minute)
	require.NoError(t, repo.Create(ctx, code))

	deleted, err := repo.Delete(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, code.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
