package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpsPort != 8080 {
		t.Errorf("OpsPort = %d", cfg.OpsPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %s", cfg.Env)
	}
	if cfg.AWSRegion != "ap-northeast-2" {
		t.Errorf("AWSRegion = %s", cfg.AWSRegion)
	}
	if cfg.MailCheckInterval != 5*time.Minute {
		t.Errorf("MailCheckInterval = %v", cfg.MailCheckInterval)
	}
	if cfg.RetryCheckInterval != time.Minute {
		t.Errorf("RetryCheckInterval = %v", cfg.RetryCheckInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.AttachmentMaxBytes != 1<<20 {
		t.Errorf("AttachmentMaxBytes = %d", cfg.AttachmentMaxBytes)
	}
	if cfg.NotificationRetention != 180*24*time.Hour {
		t.Errorf("NotificationRetention = %v", cfg.NotificationRetention)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPS_PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("MAIL_CHECK_INTERVAL", "2m")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("CHAT_WEBHOOK_URL", "https://chat.example.com/hook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.OpsPort != 9090 {
		t.Errorf("OpsPort = %d", cfg.OpsPort)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %s", cfg.Env)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DBHost = %s", cfg.DBHost)
	}
	if cfg.MailCheckInterval != 2*time.Minute {
		t.Errorf("MailCheckInterval = %v", cfg.MailCheckInterval)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.ChatWebhookURL != "https://chat.example.com/hook" {
		t.Errorf("ChatWebhookURL = %s", cfg.ChatWebhookURL)
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("OPS_PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid OPS_PORT")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("RETRY_CHECK_INTERVAL", "five minutes")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid RETRY_CHECK_INTERVAL")
	}
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("RETRY_BATCH_SIZE", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid RETRY_BATCH_SIZE")
	}
}
