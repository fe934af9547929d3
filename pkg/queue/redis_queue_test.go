package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:     redisSrv.Addr(),
		Stream:   "test:tags",
		Group:    "test-group",
		Consumer: "consumer-1",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func TestEnqueueDeliversConversationID(t *testing.T) {
	q, ctx := newTestQueue(t)
	if err := q.Enqueue(ctx, "conv-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	if streams[0].Messages[0].Values["conversation_id"] != "conv-1" {
		t.Fatalf("unexpected payload: %+v", streams[0].Messages[0].Values)
	}
}

func TestHandleMessageAcksOnSuccess(t *testing.T) {
	q, ctx := newTestQueue(t)
	if err := q.Enqueue(ctx, "conv-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	msg := streams[0].Messages[0]

	var handled string
	q.handleMessage(ctx, msg, func(_ context.Context, conversationID string) error {
		handled = conversationID
		return nil
	})
	if handled != "conv-2" {
		t.Fatalf("handler got %q, want conv-2", handled)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}
}

func TestHandleMessageKeepsPendingOnFailure(t *testing.T) {
	q, ctx := newTestQueue(t)
	if err := q.Enqueue(ctx, "conv-3"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	msg := streams[0].Messages[0]

	q.handleMessage(ctx, msg, func(context.Context, string) error {
		return context.DeadlineExceeded
	})
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("failed message should stay pending, got %d", pending.Count)
	}
}
