package verification

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora/mailroom/internal/model"
	"github.com/velora/mailroom/internal/repository"
	"github.com/velora/mailroom/internal/service/mailqueue"
	apperrors "github.com/velora/mailroom/pkg/errors"
	"github.com/velora/mailroom/pkg/logger"
	"github.com/velora/mailroom/pkg/metrics"
)

// fakeVerificationRepo is an in-memory VerificationRepository.
type fakeVerificationRepo struct {
	mu    sync.Mutex
	codes map[uuid.UUID]*model.VerificationCode
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{codes: make(map[uuid.UUID]*model.VerificationCode)}
}

func (f *fakeVerificationRepo) Create(ctx context.Context, code *model.VerificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	cp := *code
	f.codes[code.ID] = &cp
	return nil
}

func (f *fakeVerificationRepo) GetActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (*model.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *model.VerificationCode
	for _, code := range f.codes {
		if code.Email != email || code.Category != category || !code.Active(now) {
			continue
		}
		if newest == nil || code.CreatedAt.After(newest.CreatedAt) {
			newest = code
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeVerificationRepo) Update(ctx context.Context, id uuid.UUID, update repository.VerificationUpdate) (*model.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[id]
	if !ok {
		return nil, apperrors.NewNotFound("verification code", nil)
	}
	if update.Verified != nil {
		code.Verified = *update.Verified
	}
	if update.Attempts != nil {
		code.Attempts = *update.Attempts
	}
	if update.EmailID != nil {
		id := *update.EmailID
		code.EmailID = &id
	}
	cp := *code
	return &cp, nil
}

func (f *fakeVerificationRepo) InvalidateActive(ctx context.Context, email string, category model.FormCategory, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, code := range f.codes {
		if code.Email == email && code.Category == category && code.Active(now) {
			code.Invalidated = true
			count++
		}
	}
	return count, nil
}

func (f *fakeVerificationRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.codes[id]; !ok {
		return false, nil
	}
	delete(f.codes, id)
	return true, nil
}

func (f *fakeVerificationRepo) PurgeExpiredOrVerified(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, code := range f.codes {
		if code.Expired(now) || code.Verified || code.Invalidated {
			delete(f.codes, id)
			count++
		}
	}
	return count, nil
}

func (f *fakeVerificationRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes)
}

// fakeMailQueue records enqueued drafts.
type fakeMailQueue struct {
	mu         sync.Mutex
	drafts     []*mailqueue.Draft
	enqueueErr error
}

func (f *fakeMailQueue) Enqueue(ctx context.Context, draft *mailqueue.Draft) (*model.QueuedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.drafts = append(f.drafts, draft)
	return &model.QueuedEmail{ID: uuid.New(), Recipient: draft.Recipient}, nil
}

func (f *fakeMailQueue) ProcessQueue(ctx context.Context) (mailqueue.Report, error) {
	return mailqueue.Report{}, nil
}

func (f *fakeMailQueue) List(ctx context.Context, status *model.EmailStatus) ([]*model.QueuedEmail, error) {
	return nil, nil
}

func (f *fakeMailQueue) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeMailQueue) Retry(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error) {
	return nil, apperrors.NewNotFound("queued email", nil)
}

func (f *fakeMailQueue) enqueued() []*mailqueue.Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mailqueue.Draft(nil), f.drafts...)
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func fixedGenerator(code string) CodeGenerator {
	return func() (string, error) { return code, nil }
}

func newTestService(repo repository.VerificationRepository, queue mailqueue.Service, clock *fixedClock, code string) Service {
	testLogger := logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Output: io.Discard})
	return NewService(repo, queue, nil, Config{
		Cooldown: -1, // disabled unless a test opts in
		Generate: fixedGenerator(code),
		Now:      clock.Now,
	}, testLogger, metrics.NewUnregistered("test"))
}

func testClock() *fixedClock {
	return &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestIssueAndVerifyFlow(t *testing.T) {
	repo := newFakeVerificationRepo()
	queue := &fakeMailQueue{}
	clock := testClock()
	svc := newTestService(repo, queue, clock, "123456")
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	// The delivery email exists durably before IssueCode returns.
	drafts := queue.enqueued()
	require.Len(t, drafts, 1)
	assert.Equal(t, "b@x.com", drafts[0].Recipient)
	assert.Contains(t, drafts[0].HTMLBody, "123456")
	assert.Contains(t, drafts[0].TextBody, "123456")

	// Wrong code first.
	err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "000000")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMismatch))

	// Then the right one.
	require.NoError(t, svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "123456"))

	// A success consumes the code: the same correct code now fails.
	err = svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "123456")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNoActiveCode))
}

func TestVerifyWithoutIssue(t *testing.T) {
	svc := newTestService(newFakeVerificationRepo(), &fakeMailQueue{}, testClock(), "123456")

	err := svc.VerifyCode(context.Background(), "b@x.com", model.CategoryContact, "123456")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNoActiveCode))
}

func TestVerifyExpiredCode(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	svc := newTestService(repo, &fakeMailQueue{}, clock, "123456")
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	clock.Advance(16 * time.Minute)

	// Correct code, but past the TTL.
	err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "123456")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNoActiveCode))
}

func TestMismatchCounting(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	svc := newTestService(repo, &fakeMailQueue{}, clock, "123456")
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	for i := 0; i < 3; i++ {
		err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "999999")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMismatch))
	}

	record, err := repo.GetActive(ctx, "b@x.com", model.CategoryContact, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, record.Attempts)
	assert.False(t, record.Verified)
}

func TestTooManyAttemptsLocksCode(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	svc := newTestService(repo, &fakeMailQueue{}, clock, "123456")
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	for i := 0; i < 5; i++ {
		err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "999999")
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMismatch))
	}

	// The correct code no longer works once the cap is hit.
	err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "123456")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrTooManyAttempts))
}

func TestReissueSupersedesPriorCode(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	testLogger := logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Output: io.Discard})

	codes := []string{"111111", "222222"}
	var calls int
	generate := func() (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}

	svc := NewService(repo, &fakeMailQueue{}, nil, Config{
		Cooldown: -1,
		Generate: generate,
		Now:      clock.Now,
	}, testLogger, metrics.NewUnregistered("test"))
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))
	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	// The superseded code is dead even though it has not expired.
	err := svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "111111")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMismatch))

	require.NoError(t, svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "222222"))
}

func TestIssueRollsBackOnEnqueueFailure(t *testing.T) {
	repo := newFakeVerificationRepo()
	queue := &fakeMailQueue{enqueueErr: errors.New("disk gone")}
	clock := testClock()
	svc := newTestService(repo, queue, clock, "123456")

	err := svc.IssueCode(context.Background(), "b@x.com", model.CategoryContact)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrStorage))

	// The orphaned code was compensating-deleted.
	assert.Equal(t, 0, repo.count())
}

func TestIssueRejectsUnknownCategory(t *testing.T) {
	svc := newTestService(newFakeVerificationRepo(), &fakeMailQueue{}, testClock(), "123456")

	err := svc.IssueCode(context.Background(), "b@x.com", model.FormCategory("newsletter"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestIssueCooldown(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	testLogger := logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Output: io.Discard})

	svc := NewService(repo, &fakeMailQueue{}, nil, Config{
		Cooldown: time.Minute,
		Generate: fixedGenerator("123456"),
		Now:      clock.Now,
	}, testLogger, metrics.NewUnregistered("test"))
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))

	err := svc.IssueCode(ctx, "b@x.com", model.CategoryContact)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrTooManyAttempts))

	// A different key is unaffected.
	require.NoError(t, svc.IssueCode(ctx, "other@x.com", model.CategoryContact))
}

func TestPurge(t *testing.T) {
	repo := newFakeVerificationRepo()
	clock := testClock()
	svc := newTestService(repo, &fakeMailQueue{}, clock, "123456")
	ctx := context.Background()

	require.NoError(t, svc.IssueCode(ctx, "b@x.com", model.CategoryContact))
	require.NoError(t, svc.VerifyCode(ctx, "b@x.com", model.CategoryContact, "123456"))

	count, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 0, repo.count())
}

func TestGenerateCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
		seen[code] = true
	}
	// Not a randomness test, just a sanity check that codes vary.
	assert.Greater(t, len(seen), 1)
}
