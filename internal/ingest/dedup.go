package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/textdesk/textdesk/pkg/logging"
)

// Deduper rejects redelivered transport receipts. The transport layer
// guarantees at-least-once delivery, so the same physical message can arrive
// again after a restart; a SET NX key on sender+timestamp+body hash catches
// repeats inside the window.
type Deduper struct {
	redis  *redis.Client
	window time.Duration
	logger *logging.Logger
}

// NewDeduper builds a Redis-backed deduper. A nil client disables dedup
// (every receipt is treated as first delivery).
func NewDeduper(client *redis.Client, window time.Duration, logger *logging.Logger) *Deduper {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Deduper{redis: client, window: window, logger: logger}
}

// FirstDelivery marks the receipt and reports whether it was new. Redis
// errors fail open: a broken dedup layer must not drop customer messages,
// at worst a duplicate row appears.
func (d *Deduper) FirstDelivery(ctx context.Context, sender string, ts time.Time, body string) bool {
	if d == nil || d.redis == nil {
		return true
	}
	key := dedupKey(sender, ts, body)
	ok, err := d.redis.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		d.logger.Warn("dedup check failed, accepting message", "error", err)
		return true
	}
	return ok
}

// Forget clears a delivery marker so the transport's retry of a failed
// ingest is accepted. Best effort: if the delete fails, one retry inside
// the window is lost and the warning is the only trace.
func (d *Deduper) Forget(ctx context.Context, sender string, ts time.Time, body string) {
	if d == nil || d.redis == nil {
		return
	}
	if err := d.redis.Del(ctx, dedupKey(sender, ts, body)).Err(); err != nil {
		d.logger.Warn("failed to clear delivery marker", "error", err, "sender", sender)
	}
}

func dedupKey(sender string, ts time.Time, body string) string {
	sum := sha256.Sum256([]byte(body))
	return fmt.Sprintf("ingest:dedup:%s:%d:%s", sender, ts.UnixMilli(), hex.EncodeToString(sum[:8]))
}
