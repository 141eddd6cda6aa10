package ingest

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDeduperRejectsRepeatWithinWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, 10*time.Minute, nil)

	ctx := context.Background()
	ts := time.UnixMilli(1000)

	if !d.FirstDelivery(ctx, "+15551230000", ts, "Hi") {
		t.Fatal("first delivery should pass")
	}
	if d.FirstDelivery(ctx, "+15551230000", ts, "Hi") {
		t.Fatal("identical redelivery should be rejected")
	}
	// Different body, same sender and timestamp: distinct physical message.
	if !d.FirstDelivery(ctx, "+15551230000", ts, "Hi again") {
		t.Fatal("different body should pass")
	}
}

func TestDeduperWindowExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Minute, nil)

	ctx := context.Background()
	ts := time.UnixMilli(1000)

	if !d.FirstDelivery(ctx, "+15551230000", ts, "Hi") {
		t.Fatal("first delivery should pass")
	}
	mr.FastForward(2 * time.Minute)
	if !d.FirstDelivery(ctx, "+15551230000", ts, "Hi") {
		t.Fatal("redelivery outside the window should pass")
	}
}

func TestDeduperFailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewDeduper(client, time.Minute, nil)
	mr.Close()

	if !d.FirstDelivery(context.Background(), "+15551230000", time.Now(), "Hi") {
		t.Fatal("redis failure must not drop messages")
	}
}

func TestDeduperNilClientAcceptsEverything(t *testing.T) {
	d := NewDeduper(nil, time.Minute, nil)
	for i := 0; i < 2; i++ {
		if !d.FirstDelivery(context.Background(), "+15551230000", time.UnixMilli(1), "Hi") {
			t.Fatal("nil client should accept all deliveries")
		}
	}
}
