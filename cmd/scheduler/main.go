package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/circuitbreaker"
	"github.com/hpark-dev/ordernoti/internal/config"
	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/mailbox"
	"github.com/hpark-dev/ordernoti/internal/metrics"
	"github.com/hpark-dev/ordernoti/internal/notify"
	"github.com/hpark-dev/ordernoti/internal/observ"
	"github.com/hpark-dev/ordernoti/internal/redis"
	"github.com/hpark-dev/ordernoti/internal/sched"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ordernoti scheduler",
		zap.String("env", cfg.Env),
		zap.Int("ops_port", cfg.OpsPort),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		// The scheduler lock lives in Redis; without it we cannot
		// safely run alongside other replicas.
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	repo := db.NewRepository(database, logger)
	emailLogs := db.NewEmailLogRepository(database, logger)
	notifLogs := db.NewNotificationLogRepository(database, logger)
	announcements := db.NewAnnouncementRepository(database, logger)

	locker := redis.NewLocker(redisClient, logger)
	usage := redis.NewUsageRecorder(redisClient, logger)

	sender, breakers, err := buildSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	templates, err := notify.NewTemplateEngine(notify.NewDBTemplateSource(database, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Contacts:   repo,
		Attempts:   notifLogs,
		Templates:  templates,
		Sender:     sender,
		Usage:      usage,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	poller, err := mailbox.NewPoller(mailbox.PollerConfig{
		Accounts:        repo,
		Ledger:          emailLogs,
		Dialer:          mailbox.NewIMAPDialer(logger),
		Dispatcher:      dispatcher,
		Usage:           usage,
		AddressCacheTTL: cfg.AddressCacheTTL,
		MaxAttachBytes:  cfg.AttachmentMaxBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create mail poller: %w", err)
	}

	retrier := notify.NewRetryScheduler(notify.RetrySchedulerConfig{
		Queue:      notifLogs,
		Emails:     emailLogs,
		Companies:  repo,
		Contacts:   repo,
		Attempts:   notifLogs,
		Dispatcher: dispatcher,
		BatchSize:  cfg.RetryBatchSize,
		Pacing:     cfg.RetryPacing,
	}, logger)

	announcer := notify.NewAnnouncementSender(notify.AnnouncementSenderConfig{
		Store:     announcements,
		Templates: templates,
		Sender:    sender,
		Usage:     usage,
		BatchSize: cfg.AnnounceBatchSize,
		Pacing:    cfg.AnnouncePacing,
	}, logger)

	orchestrator := sched.NewOrchestrator(locker, logger,
		sched.Task{Name: "mail-check", Interval: cfg.MailCheckInterval, Run: poller.Run},
		sched.Task{Name: "retry-check", Interval: cfg.RetryCheckInterval, Run: retrier.Run},
		sched.Task{Name: "announcement-check", Interval: cfg.AnnounceCheckInterval, Run: announcer.Run},
		sched.Task{Name: "prune-notification-logs", Interval: cfg.PruneInterval, Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.NotificationRetention)
			pruned, err := notifLogs.PruneOld(ctx, cutoff)
			if err != nil {
				return err
			}
			if pruned > 0 {
				logger.Info("pruned notification logs", zap.Int64("rows", pruned))
			}
			return nil
		}},
	)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	schedDone := make(chan struct{})
	go func() {
		orchestrator.Start(schedCtx)
		close(schedDone)
	}()

	logger.Info("scheduler started",
		zap.Duration("mail_check_interval", cfg.MailCheckInterval),
		zap.Duration("retry_check_interval", cfg.RetryCheckInterval),
		zap.Duration("announcement_check_interval", cfg.AnnounceCheckInterval),
	)

	srv := opsServer(cfg, logger, database, redisClient, breakers)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("ops server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedCancel()
		select {
		case <-schedDone:
			logger.Info("scheduler stopped")
		case <-time.After(30 * time.Second):
			logger.Warn("scheduler shutdown timed out")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("stopped gracefully")
	}

	return nil
}

// buildSender assembles the channel router: SNS for SMS, an HTTP
// webhook for chat, each behind its own circuit breaker. A missing
// provider is replaced with the log sender so dispatch still exercises
// the full state machine in development environments.
func buildSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.ChannelSender, []*circuitbreaker.CircuitBreaker, error) {
	var senders []notify.ChannelSender
	var breakers []*circuitbreaker.CircuitBreaker

	smsSender, err := notify.NewSMSSender(ctx, notify.SMSConfig{Region: cfg.AWSRegion}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS falls back to log output", zap.Error(err))
	} else {
		smsBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("sms"), logger)
		breakers = append(breakers, smsBreaker)
		senders = append(senders, circuitbreaker.NewProtectedSender(smsSender, smsBreaker, logger))
	}

	if cfg.ChatWebhookURL != "" {
		chatSender := notify.NewChatSender(notify.ChatConfig{
			Endpoint: cfg.ChatWebhookURL,
			Timeout:  cfg.ChatTimeout,
		}, logger)
		chatBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("chat"), logger)
		breakers = append(breakers, chatBreaker)
		senders = append(senders, circuitbreaker.NewProtectedSender(chatSender, chatBreaker, logger))
	} else {
		logger.Warn("chat webhook not configured, chat falls back to log output")
	}

	senders = append(senders, notify.NewLogSender(logger))
	return notify.NewMultiSender(logger, senders...), breakers, nil
}

func opsServer(cfg *config.Config, logger *zap.Logger, database *db.DB, redisClient *redis.Client, breakers []*circuitbreaker.CircuitBreaker) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := database.Health(req.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(req.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/breakers", func(w http.ResponseWriter, req *http.Request) {
		stats := make([]circuitbreaker.Stats, 0, len(breakers))
		for _, b := range breakers {
			stats = append(stats, b.Stats())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})

	r.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
