package autoreply

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/textdesk/textdesk/pkg/logging"
)

// InflightGate allows at most one automated reply per phone number at a
// time. A burst of inbound messages from the same customer produces a
// single reply built from the full conversation history.
type InflightGate struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger

	mu    sync.Mutex
	local map[string]time.Time
}

// NewInflightGate builds a gate. With a Redis client the marker is shared
// across processes; without one it falls back to a process-local map.
func NewInflightGate(client *redis.Client, ttl time.Duration, logger *logging.Logger) *InflightGate {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InflightGate{
		redis:  client,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]time.Time),
	}
}

// Acquire claims the marker for phone. Returns false when a reply for the
// same phone is already in flight. Redis errors fail open so a broken gate
// never silences the assistant. The TTL bounds how long a crashed worker
// can hold the marker.
func (g *InflightGate) Acquire(ctx context.Context, phone string) bool {
	if g == nil {
		return true
	}
	if g.redis == nil {
		return g.acquireLocal(phone)
	}
	ok, err := g.redis.SetNX(ctx, inflightKey(phone), 1, g.ttl).Result()
	if err != nil {
		g.logger.Warn("inflight check failed, allowing reply", "error", err, "phone", phone)
		return true
	}
	return ok
}

// Release clears the marker once the reply attempt finishes.
func (g *InflightGate) Release(ctx context.Context, phone string) {
	if g == nil {
		return
	}
	if g.redis == nil {
		g.mu.Lock()
		delete(g.local, phone)
		g.mu.Unlock()
		return
	}
	if err := g.redis.Del(ctx, inflightKey(phone)).Err(); err != nil {
		g.logger.Warn("failed to release inflight marker", "error", err, "phone", phone)
	}
}

func (g *InflightGate) acquireLocal(phone string) bool {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if until, held := g.local[phone]; held && now.Before(until) {
		return false
	}
	g.local[phone] = now.Add(g.ttl)
	return true
}

func inflightKey(phone string) string {
	return "autoreply:inflight:" + phone
}
