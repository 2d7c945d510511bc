package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Queue.Channel != "celery" {
		t.Errorf("expected channel celery, got %q", cfg.Queue.Channel)
	}
	if cfg.Queue.TaskName != "tasks.process_article" {
		t.Errorf("unexpected task name %q", cfg.Queue.TaskName)
	}
	if cfg.Queue.Lang != "py" || cfg.Queue.RoutingKey != "celery" {
		t.Errorf("unexpected worker tags: lang=%q routing_key=%q", cfg.Queue.Lang, cfg.Queue.RoutingKey)
	}
	if cfg.Kafka.Enabled() {
		t.Error("kafka should be disabled without brokers")
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 7000
queue:
  channel: articles
redis:
  readTimeout: 750ms
kafka:
  brokers: ["k1:9092"]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("RL_SERVER_PORT", "7100")
	t.Setenv("RL_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("env override not applied, port=%d", cfg.Server.Port)
	}
	if cfg.Queue.Channel != "articles" {
		t.Errorf("yaml channel not applied, got %q", cfg.Queue.Channel)
	}
	if cfg.Queue.TaskName != "tasks.process_article" {
		t.Errorf("default task name lost, got %q", cfg.Queue.TaskName)
	}
	if cfg.Redis.ReadTimeout != 750*time.Millisecond {
		t.Errorf("unexpected read timeout %v", cfg.Redis.ReadTimeout)
	}
	if !cfg.Kafka.Enabled() {
		t.Error("kafka should be enabled with brokers")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsEmptyChannel(t *testing.T) {
	t.Setenv("RL_QUEUE_CHANNEL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  channel: \"\"\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty channel")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
