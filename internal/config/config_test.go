package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected default worker count 2, got %d", cfg.WorkerCount)
	}
	if !cfg.UseMemoryQueue {
		t.Error("expected memory queue by default")
	}
	if cfg.ReplyTimeout != 45*time.Second {
		t.Errorf("expected 45s reply timeout, got %s", cfg.ReplyTimeout)
	}
	if cfg.DedupWindow != 10*time.Minute {
		t.Errorf("expected 10m dedup window, got %s", cfg.DedupWindow)
	}
	if cfg.HistoryLimit != 20 {
		t.Errorf("expected history limit 20, got %d", cfg.HistoryLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("REPLY_TIMEOUT", "20s")
	t.Setenv("REPLY_HISTORY_LIMIT", "50")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.UseMemoryQueue {
		t.Error("expected memory queue disabled")
	}
	if cfg.ReplyTimeout != 20*time.Second {
		t.Errorf("expected 20s reply timeout, got %s", cfg.ReplyTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("expected history limit 50, got %d", cfg.HistoryLimit)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis TLS enabled")
	}
}

func TestEnvHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "lots")
	t.Setenv("INGEST_DEDUP_WINDOW", "soon")

	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Errorf("malformed int should fall back, got %d", cfg.WorkerCount)
	}
	if cfg.DedupWindow != 10*time.Minute {
		t.Errorf("malformed duration should fall back, got %s", cfg.DedupWindow)
	}
}
