package mailqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/velora/mailroom/internal/model"
	"github.com/velora/mailroom/internal/repository"
	"github.com/velora/mailroom/internal/transport"
	apperrors "github.com/velora/mailroom/pkg/errors"
	"github.com/velora/mailroom/pkg/logger"
	"github.com/velora/mailroom/pkg/messaging"
	"github.com/velora/mailroom/pkg/metrics"
	"github.com/velora/mailroom/pkg/validator"
)

const (
	// retryBase is the hold-off after the first failed attempt; it doubles
	// per failure up to retryCap. With the default ceiling of 7 attempts the
	// schedule is 30m, 1h, 2h, 4h, 8h, 16h, 24h.
	retryBase = 30 * time.Minute
	retryCap  = 24 * time.Hour
)

// Draft is the caller-supplied content of an email to enqueue.
type Draft struct {
	Recipient string `validate:"required,email"`
	Subject   string `validate:"required,max=255"`
	HTMLBody  string `validate:"required"`
	TextBody  string
	FromEmail string `validate:"omitempty,email"`
	FromName  string

	// Provenance of the originating form submission, operator-visible only.
	SenderName    string
	SenderEmail   string
	SenderPhone   string
	SenderMessage string

	// MaxAttempts overrides the default attempt ceiling when positive.
	MaxAttempts int
}

// Report summarizes one sweep.
type Report struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Service interface {
	// Enqueue persists a draft as a pending record. It never sends.
	Enqueue(ctx context.Context, draft *Draft) (*model.QueuedEmail, error)
	// ProcessQueue attempts delivery for every due record and returns the
	// outcome counts. Individual record failures are recorded, not raised;
	// only a failure to read the due set errors out.
	ProcessQueue(ctx context.Context) (Report, error)
	List(ctx context.Context, status *model.EmailStatus) ([]*model.QueuedEmail, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// Retry resets a record to pending with a fresh attempt budget. This is
	// the only way a record that exhausted its attempts is revived.
	Retry(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error)
}

// Config tunes sweep concurrency.
type Config struct {
	// Workers bounds concurrent transport calls within one sweep.
	Workers int
	// RatePerSecond caps transport calls across workers; 0 disables.
	RatePerSecond float64
	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

type service struct {
	repo     repository.EmailQueueRepository
	sender   transport.Sender
	broker   messaging.Broker
	validate validator.Validator
	logger   *logger.Logger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	workers  int
	now      func() time.Time
}

func NewService(
	repo repository.EmailQueueRepository,
	sender transport.Sender,
	broker messaging.Broker,
	cfg Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Workers)
	}
	if broker == nil {
		broker = messaging.NoopBroker{}
	}

	return &service{
		repo:     repo,
		sender:   sender,
		broker:   broker,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
		limiter:  limiter,
		workers:  cfg.Workers,
		now:      cfg.Now,
	}
}

func (s *service) Enqueue(ctx context.Context, draft *Draft) (*model.QueuedEmail, error) {
	if draft == nil {
		return nil, apperrors.NewBadRequest("draft is required", nil)
	}
	if err := s.validate.Validate(draft); err != nil {
		return nil, apperrors.NewBadRequest(err.Error(), err)
	}

	email := &model.QueuedEmail{
		ID:            uuid.New(),
		Recipient:     draft.Recipient,
		Subject:       draft.Subject,
		HTMLBody:      draft.HTMLBody,
		TextBody:      optional(draft.TextBody),
		FromEmail:     optional(draft.FromEmail),
		FromName:      optional(draft.FromName),
		SenderName:    optional(draft.SenderName),
		SenderEmail:   optional(draft.SenderEmail),
		SenderPhone:   optional(draft.SenderPhone),
		SenderMessage: optional(draft.SenderMessage),
		Status:        model.EmailStatusPending,
		MaxAttempts:   model.DefaultMaxAttempts,
		CreatedAt:     s.now().UTC(),
	}
	if draft.MaxAttempts > 0 {
		email.MaxAttempts = draft.MaxAttempts
	}

	if err := s.repo.Create(ctx, email); err != nil {
		return nil, apperrors.NewStorage("enqueue email", err)
	}

	s.logger.ZL.Debug().
		Str("email_id", email.ID.String()).
		Str("recipient", email.Recipient).
		Msg("email enqueued")

	return email, nil
}

func (s *service) ProcessQueue(ctx context.Context) (Report, error) {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	due, err := s.repo.ListDue(ctx, s.now().UTC())
	if err != nil {
		return Report{}, apperrors.NewStorage("list due emails", err)
	}
	s.metrics.QueueDueSize.Set(float64(len(due)))

	if len(due) == 0 {
		return Report{}, nil
	}

	var succeeded, failed atomic.Int64

	jobs := make(chan *model.QueuedEmail)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for email := range jobs {
				if s.limiter != nil {
					if err := s.limiter.Wait(ctx); err != nil {
						failed.Add(1)
						continue
					}
				}
				if s.attempt(ctx, email) {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}

	for _, email := range due {
		jobs <- email
	}
	close(jobs)
	wg.Wait()

	report := Report{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}

	s.logger.ZL.Info().
		Int("due", len(due)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("queue sweep finished")

	return report, nil
}

// attempt delivers one record and persists the outcome. It never returns an
// error: a transport or storage fault on a single record is logged and
// counted, and must not abort the rest of the sweep.
func (s *service) attempt(ctx context.Context, email *model.QueuedEmail) bool {
	msg := &transport.Message{
		To:      email.Recipient,
		Subject: email.Subject,
		HTML:    email.HTMLBody,
		QueueID: email.ID.String(),
	}
	if email.TextBody != nil {
		msg.Text = *email.TextBody
	}
	if email.FromEmail != nil {
		msg.FromEmail = *email.FromEmail
	}
	if email.FromName != nil {
		msg.FromName = *email.FromName
	}

	_, sendErr := s.sender.Send(ctx, msg)
	now := s.now().UTC()

	if sendErr == nil {
		status := model.EmailStatusSent
		if _, err := s.repo.Update(ctx, email.ID, repository.EmailUpdate{
			Status:           &status,
			LastAttemptAt:    &now,
			ClearNextRetryAt: true,
			ClearLastError:   true,
		}); err != nil {
			s.logger.Error(err, "failed to mark email sent", "email_id", email.ID.String())
			return false
		}

		s.metrics.EmailsSent.Inc()
		s.publish(ctx, messaging.ChannelMailSent, email, "")
		return true
	}

	attempts := email.Attempts + 1
	status := model.EmailStatusFailed
	errMsg := fmt.Sprintf("delivery attempt %d failed: %v", attempts, sendErr)

	update := repository.EmailUpdate{
		Status:        &status,
		Attempts:      &attempts,
		LastAttemptAt: &now,
		LastError:     &errMsg,
	}

	exhausted := attempts >= email.MaxAttempts
	if exhausted {
		// Terminal: no further automatic retries, record stays visible for
		// manual reprocessing or deletion.
		update.ClearNextRetryAt = true
	} else {
		next := now.Add(backoffFor(attempts))
		update.NextRetryAt = &next
	}

	if _, err := s.repo.Update(ctx, email.ID, update); err != nil {
		s.logger.Error(err, "failed to record delivery failure", "email_id", email.ID.String())
		return false
	}

	s.metrics.EmailsFailed.Inc()
	if exhausted {
		s.metrics.EmailsExhausted.Inc()
		s.logger.Warn("email exhausted its attempt budget",
			"email_id", email.ID.String(),
			"attempts", attempts,
		)
		s.publish(ctx, messaging.ChannelMailExhausted, email, errMsg)
	} else {
		s.logger.ZL.Debug().
			Str("email_id", email.ID.String()).
			Int("attempts", attempts).
			Err(sendErr).
			Msg("delivery attempt failed, retry scheduled")
		s.publish(ctx, messaging.ChannelMailFailed, email, errMsg)
	}
	return false
}

func (s *service) List(ctx context.Context, status *model.EmailStatus) ([]*model.QueuedEmail, error) {
	emails, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperrors.NewStorage("list queue", err)
	}
	return emails, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, apperrors.NewStorage("delete queue item", err)
	}
	return deleted, nil
}

func (s *service) Retry(ctx context.Context, id uuid.UUID) (*model.QueuedEmail, error) {
	email, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewStorage("get queue item", err)
	}
	if email == nil {
		return nil, apperrors.NewNotFound("queued email", nil)
	}

	status := model.EmailStatusPending
	attempts := 0
	updated, err := s.repo.Update(ctx, id, repository.EmailUpdate{
		Status:           &status,
		Attempts:         &attempts,
		ClearNextRetryAt: true,
		ClearLastError:   true,
	})
	if err != nil {
		return nil, apperrors.NewStorage("reset queue item", err)
	}

	s.logger.Info("queue item reset for reprocessing", "email_id", id.String())
	return updated, nil
}

// QueueEvent is the payload published on mail.* channels.
type QueueEvent struct {
	ID        uuid.UUID `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Error     string    `json:"error,omitempty"`
}

func (s *service) publish(ctx context.Context, channel string, email *model.QueuedEmail, errMsg string) {
	event := QueueEvent{
		ID:        email.ID,
		Recipient: email.Recipient,
		Subject:   email.Subject,
		Error:     errMsg,
	}
	if err := s.broker.Publish(ctx, channel, event); err != nil {
		s.logger.ZL.Debug().Err(err).Str("channel", channel).Msg("event publish failed")
	}
}

// backoffFor returns the retry hold-off after the given number of failed
// attempts: capped exponential starting at retryBase.
func backoffFor(attempts int) time.Duration {
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
