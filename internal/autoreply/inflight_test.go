package autoreply

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestInflightGateLocal(t *testing.T) {
	gate := NewInflightGate(nil, time.Minute, nil)
	ctx := context.Background()

	assert.True(t, gate.Acquire(ctx, "+15551230000"))
	assert.False(t, gate.Acquire(ctx, "+15551230000"))
	assert.True(t, gate.Acquire(ctx, "+15559990000"))

	gate.Release(ctx, "+15551230000")
	assert.True(t, gate.Acquire(ctx, "+15551230000"))
}

func TestInflightGateRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := NewInflightGate(client, time.Minute, nil)
	ctx := context.Background()

	assert.True(t, gate.Acquire(ctx, "+15551230000"))
	assert.False(t, gate.Acquire(ctx, "+15551230000"))

	gate.Release(ctx, "+15551230000")
	assert.True(t, gate.Acquire(ctx, "+15551230000"))
}

func TestInflightGateTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := NewInflightGate(client, time.Minute, nil)
	ctx := context.Background()

	assert.True(t, gate.Acquire(ctx, "+15551230000"))
	mr.FastForward(2 * time.Minute)
	assert.True(t, gate.Acquire(ctx, "+15551230000"))
}

func TestInflightGateFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	gate := NewInflightGate(client, time.Minute, nil)
	assert.True(t, gate.Acquire(context.Background(), "+15551230000"))
}

func TestInflightGateNil(t *testing.T) {
	var gate *InflightGate
	assert.True(t, gate.Acquire(context.Background(), "+15551230000"))
	gate.Release(context.Background(), "+15551230000")
}
