package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	OpsPort  int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (advisory locks + usage counters)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS region for SNS (SMS)
	AWSRegion string

	// Chat-app provider (HTTP webhook endpoint)
	ChatWebhookURL string
	ChatTimeout    time.Duration

	// Scheduling
	MailCheckInterval     time.Duration
	RetryCheckInterval    time.Duration
	AnnounceCheckInterval time.Duration
	PruneInterval         time.Duration

	// Dispatch / retry tuning
	MaxRetries        int
	RetryBatchSize    int
	RetryPacing       time.Duration
	AnnounceBatchSize int
	AnnouncePacing    time.Duration

	// Mailbox poller
	AddressCacheTTL    time.Duration
	AttachmentMaxBytes int

	// Notification log retention
	NotificationRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		OpsPort:  8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "ordernoti",
		DBPassword: "",
		DBName:     "ordernoti",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:   "ap-northeast-2",
		ChatTimeout: 10 * time.Second,

		MailCheckInterval:     5 * time.Minute,
		RetryCheckInterval:    1 * time.Minute,
		AnnounceCheckInterval: 1 * time.Minute,
		PruneInterval:         24 * time.Hour,

		MaxRetries:        3,
		RetryBatchSize:    50,
		RetryPacing:       500 * time.Millisecond,
		AnnounceBatchSize: 100,
		AnnouncePacing:    1 * time.Second,

		AddressCacheTTL:    5 * time.Minute,
		AttachmentMaxBytes: 1 << 20, // 1 MiB

		NotificationRetention: 180 * 24 * time.Hour,
	}

	if port := os.Getenv("OPS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid OPS_PORT: %w", err)
		}
		cfg.OpsPort = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if url := os.Getenv("CHAT_WEBHOOK_URL"); url != "" {
		cfg.ChatWebhookURL = url
	}

	var err error
	if cfg.ChatTimeout, err = durationEnv("CHAT_TIMEOUT", cfg.ChatTimeout); err != nil {
		return nil, err
	}
	if cfg.MailCheckInterval, err = durationEnv("MAIL_CHECK_INTERVAL", cfg.MailCheckInterval); err != nil {
		return nil, err
	}
	if cfg.RetryCheckInterval, err = durationEnv("RETRY_CHECK_INTERVAL", cfg.RetryCheckInterval); err != nil {
		return nil, err
	}
	if cfg.AnnounceCheckInterval, err = durationEnv("ANNOUNCE_CHECK_INTERVAL", cfg.AnnounceCheckInterval); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = durationEnv("PRUNE_INTERVAL", cfg.PruneInterval); err != nil {
		return nil, err
	}
	if cfg.RetryPacing, err = durationEnv("RETRY_PACING", cfg.RetryPacing); err != nil {
		return nil, err
	}
	if cfg.AnnouncePacing, err = durationEnv("ANNOUNCE_PACING", cfg.AnnouncePacing); err != nil {
		return nil, err
	}
	if cfg.AddressCacheTTL, err = durationEnv("ADDRESS_CACHE_TTL", cfg.AddressCacheTTL); err != nil {
		return nil, err
	}
	if cfg.NotificationRetention, err = durationEnv("NOTIFICATION_RETENTION", cfg.NotificationRetention); err != nil {
		return nil, err
	}

	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.RetryBatchSize, err = intEnv("RETRY_BATCH_SIZE", cfg.RetryBatchSize); err != nil {
		return nil, err
	}
	if cfg.AnnounceBatchSize, err = intEnv("ANNOUNCE_BATCH_SIZE", cfg.AnnounceBatchSize); err != nil {
		return nil, err
	}
	if cfg.AttachmentMaxBytes, err = intEnv("ATTACHMENT_MAX_BYTES", cfg.AttachmentMaxBytes); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
