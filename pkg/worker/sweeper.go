package worker

import (
	"context"
	"time"

	"github.com/velora/mailroom/internal/service/mailqueue"
	"github.com/velora/mailroom/internal/service/verification"
	"github.com/velora/mailroom/pkg/logger"
)

// SweeperConfig tunes the periodic queue sweep.
type SweeperConfig struct {
	// SweepInterval is how often the delivery queue is processed.
	SweepInterval time.Duration
	// PurgeInterval is how often spent verification codes are deleted.
	// Zero disables purging; lookups filter regardless.
	PurgeInterval time.Duration
}

// Sweeper drives the delivery queue and verification-store hygiene on a
// schedule. It is the in-process stand-in for the cron trigger an operator
// would otherwise wire up.
type Sweeper struct {
	queue    mailqueue.Service
	verifier verification.Service
	config   SweeperConfig
	logger   *logger.Logger
}

func NewSweeper(
	queue mailqueue.Service,
	verifier verification.Service,
	config SweeperConfig,
	logger *logger.Logger,
) *Sweeper {
	if config.SweepInterval <= 0 {
		panic("SweepInterval must be greater than 0")
	}

	return &Sweeper{
		queue:    queue,
		verifier: verifier,
		config:   config,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	sweep := time.NewTicker(s.config.SweepInterval)
	defer sweep.Stop()

	var purge <-chan time.Time
	if s.config.PurgeInterval > 0 {
		t := time.NewTicker(s.config.PurgeInterval)
		defer t.Stop()
		purge = t.C
	}

	s.logger.Info("starting queue sweeper")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down queue sweeper")
			return
		case <-sweep.C:
			if _, err := s.queue.ProcessQueue(ctx); err != nil {
				s.logger.Error(err, "queue sweep failed")
			}
		case <-purge:
			if _, err := s.verifier.Purge(ctx); err != nil {
				s.logger.Error(err, "verification purge failed")
			}
		}
	}
}
