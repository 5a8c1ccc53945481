package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/velora/mailroom/internal/model"
	"github.com/velora/mailroom/internal/repository"
	"github.com/velora/mailroom/internal/service/mailqueue"
	apperrors "github.com/velora/mailroom/pkg/errors"
	"github.com/velora/mailroom/pkg/logger"
	"github.com/velora/mailroom/pkg/messaging"
	"github.com/velora/mailroom/pkg/metrics"
)

const (
	// codeTTL is how long an issued code stays checkable.
	codeTTL = 15 * time.Minute
	// maxAttempts locks a code after this many wrong submissions.
	maxAttempts = 5
	// resendCooldown throttles re-issuance per (email, category).
	resendCooldown = 60 * time.Second

	codeLength = 6
)

// CodeGenerator produces the numeric code. Injected so tests can fix it.
type CodeGenerator func() (string, error)

// GenerateCode returns a random 6-digit numeric string.
func GenerateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type Service interface {
	// IssueCode creates a fresh code for the key, superseding any active
	// one, and enqueues the delivery email carrying it. The code record and
	// its email exist durably before the call returns; delivery itself
	// happens on the next queue sweep.
	IssueCode(ctx context.Context, email string, category model.FormCategory) error
	// VerifyCode checks a submitted code against the active record.
	// A success consumes the code: repeating the call fails.
	VerifyCode(ctx context.Context, email string, category model.FormCategory, submitted string) error
	// Purge deletes expired, verified and superseded records.
	Purge(ctx context.Context) (int64, error)
}

// Config tunes the coordinator.
type Config struct {
	TTL      time.Duration
	Cooldown time.Duration
	Generate CodeGenerator
	Now      func() time.Time
}

type service struct {
	repo     repository.VerificationRepository
	queue    mailqueue.Service
	broker   messaging.Broker
	logger   *logger.Logger
	metrics  *metrics.Metrics
	cooldown *cache.Cache
	ttl      time.Duration
	minGap   time.Duration
	generate CodeGenerator
	now      func() time.Time
}

func NewService(
	repo repository.VerificationRepository,
	queue mailqueue.Service,
	broker messaging.Broker,
	cfg Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) Service {
	if cfg.TTL <= 0 {
		cfg.TTL = codeTTL
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	} else if cfg.Cooldown == 0 {
		cfg.Cooldown = resendCooldown
	}
	if cfg.Generate == nil {
		cfg.Generate = GenerateCode
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if broker == nil {
		broker = messaging.NoopBroker{}
	}

	return &service{
		repo:     repo,
		queue:    queue,
		broker:   broker,
		logger:   logger,
		metrics:  metrics,
		cooldown: cache.New(cfg.Cooldown, 5*time.Minute),
		ttl:      cfg.TTL,
		minGap:   cfg.Cooldown,
		generate: cfg.Generate,
		now:      cfg.Now,
	}
}

func cooldownKey(email string, category model.FormCategory) string {
	return email + "|" + string(category)
}

func (s *service) IssueCode(ctx context.Context, email string, category model.FormCategory) error {
	if email == "" {
		return apperrors.NewBadRequest("email is required", nil)
	}
	if !model.ValidCategory(category) {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown form category %q", category), nil)
	}

	if s.minGap > 0 {
		if _, held := s.cooldown.Get(cooldownKey(email, category)); held {
			return apperrors.NewTooManyAttempts()
		}
	}

	code, err := s.generate()
	if err != nil {
		return apperrors.NewInternal(err)
	}

	now := s.now().UTC()

	// Supersede any still-active code so exactly one is checkable.
	if _, err := s.repo.InvalidateActive(ctx, email, category, now); err != nil {
		return apperrors.NewStorage("invalidate prior codes", err)
	}

	record := &model.VerificationCode{
		Email:     email,
		Category:  category,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return apperrors.NewStorage("create verification code", err)
	}

	queued, err := s.queue.Enqueue(ctx, &mailqueue.Draft{
		Recipient: email,
		Subject:   "Your verification code",
		HTMLBody:  codeEmailHTML(code, s.ttl),
		TextBody:  codeEmailText(code, s.ttl),
	})
	if err != nil {
		// The code without its email is useless; roll it back and report
		// one combined failure.
		if _, delErr := s.repo.Delete(ctx, record.ID); delErr != nil {
			s.logger.Error(delErr, "failed to roll back verification code",
				"code_id", record.ID.String())
		}
		return apperrors.NewStorage("enqueue verification email", err)
	}

	if _, err := s.repo.Update(ctx, record.ID, repository.VerificationUpdate{
		EmailID: &queued.ID,
	}); err != nil {
		// Linkage is for reconciliation only; the issued code still works.
		s.logger.Error(err, "failed to link verification code to email",
			"code_id", record.ID.String())
	}

	if s.minGap > 0 {
		s.cooldown.Set(cooldownKey(email, category), struct{}{}, s.minGap)
	}
	s.metrics.CodesIssued.Inc()

	if err := s.broker.Publish(ctx, messaging.ChannelCodeIssued, map[string]interface{}{
		"email":    email,
		"category": category,
	}); err != nil {
		s.logger.ZL.Debug().Err(err).Msg("event publish failed")
	}

	s.logger.ZL.Debug().
		Str("email", email).
		Str("category", string(category)).
		Msg("verification code issued")

	return nil
}

func (s *service) VerifyCode(ctx context.Context, email string, category model.FormCategory, submitted string) error {
	now := s.now().UTC()

	record, err := s.repo.GetActive(ctx, email, category, now)
	if err != nil {
		return apperrors.NewStorage("lookup verification code", err)
	}
	if record == nil {
		// Covers "never requested", "expired" and "already consumed";
		// callers show one generic message for all of them.
		s.logger.ZL.Debug().
			Str("email", email).
			Str("category", string(category)).
			Msg("no active verification code")
		return apperrors.NewNoActiveCode()
	}

	if record.Attempts >= maxAttempts {
		return apperrors.NewTooManyAttempts()
	}

	if submitted != record.Code {
		attempts := record.Attempts + 1
		if _, err := s.repo.Update(ctx, record.ID, repository.VerificationUpdate{
			Attempts: &attempts,
		}); err != nil {
			return apperrors.NewStorage("record failed attempt", err)
		}
		s.metrics.CodeMismatches.Inc()
		s.logger.ZL.Debug().
			Str("email", email).
			Int("attempts", attempts).
			Msg("verification code mismatch")
		return apperrors.NewCodeMismatch()
	}

	verified := true
	if _, err := s.repo.Update(ctx, record.ID, repository.VerificationUpdate{
		Verified: &verified,
	}); err != nil {
		return apperrors.NewStorage("mark code verified", err)
	}

	s.metrics.CodesVerified.Inc()

	if err := s.broker.Publish(ctx, messaging.ChannelCodeVerified, map[string]interface{}{
		"email":    email,
		"category": category,
	}); err != nil {
		s.logger.ZL.Debug().Err(err).Msg("event publish failed")
	}

	return nil
}

func (s *service) Purge(ctx context.Context) (int64, error) {
	count, err := s.repo.PurgeExpiredOrVerified(ctx, s.now().UTC())
	if err != nil {
		return 0, apperrors.NewStorage("purge verification codes", err)
	}
	if count > 0 {
		s.logger.ZL.Debug().Int64("purged", count).Msg("verification codes purged")
	}
	return count, nil
}

func codeEmailHTML(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		`<p>Your verification code is:</p><h2 style="letter-spacing:4px">%s</h2><p>It expires in %d minutes.</p>`,
		code, int(ttl.Minutes()),
	)
}

func codeEmailText(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}
