package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/velora/mailroom/internal/config"
	"github.com/velora/mailroom/internal/repository/sqlstore"
	"github.com/velora/mailroom/internal/service/mailqueue"
	"github.com/velora/mailroom/internal/service/verification"
	"github.com/velora/mailroom/internal/transport"
	"github.com/velora/mailroom/pkg/logger"
	"github.com/velora/mailroom/pkg/messaging"
	"github.com/velora/mailroom/pkg/messaging/redis"
	"github.com/velora/mailroom/pkg/metrics"
	"github.com/velora/mailroom/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := &logger.Logger{ZL: log.Logger}

	db, err := sqlstore.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "Failed to open database")
	}
	defer db.Close()

	var broker messaging.Broker = messaging.NoopBroker{}
	if cfg.Redis.URL != "" {
		broker, err = redis.NewRedisBroker(redis.Config{
			URL:        cfg.Redis.URL,
			MaxRetries: 3,
			PoolSize:   10,
		}, &log.Logger)
		if err != nil {
			appLogger.Fatal(err, "Failed to create Redis broker")
		}
	}
	defer broker.Close()

	baseRepo := sqlstore.NewBaseRepository(db)
	queueRepo := sqlstore.NewEmailQueueRepository(baseRepo)
	verificationRepo := sqlstore.NewVerificationRepository(baseRepo)

	m := metrics.New("mailroom")
	sender := transport.NewSMTPSender(cfg.SMTP)

	queueSvc := mailqueue.NewService(queueRepo, sender, broker, mailqueue.Config{
		Workers:       cfg.Queue.Workers,
		RatePerSecond: cfg.Queue.RatePerSecond,
	}, appLogger, m)

	verificationSvc := verification.NewService(verificationRepo, queueSvc, broker, verification.Config{
		TTL:      cfg.Verification.TTL,
		Cooldown: cfg.Verification.Cooldown,
	}, appLogger, m)

	sweeper := worker.NewSweeper(queueSvc, verificationSvc, worker.SweeperConfig{
		SweepInterval: cfg.Queue.SweepInterval,
		PurgeInterval: cfg.Queue.PurgeInterval,
	}, appLogger)

	serveMonitoring(cfg.Monitoring, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	sweeper.Start(ctx)
}

func serveMonitoring(cfg config.MonitoringConfig, logger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			logger.ZL.Error().Err(err).Msg("Monitoring server failed")
			os.Exit(1)
		}
	}()
}
