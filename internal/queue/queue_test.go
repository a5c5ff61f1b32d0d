package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: json.RawMessage(`{"action":"seed"}`)}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := receive(t, ch)
	assert.Equal(t, "audit", msg.Type)
	assert.JSONEq(t, `{"action":"seed"}`, string(msg.Body))

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.DeadlineExceeded)
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueueRoundTrip(t *testing.T) {
	client := newMiniRedis(t)
	q := NewRedisQueue(client, "")
	q.timeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: json.RawMessage(`{"action":"session.start"}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: json.RawMessage(`{"action":"session.end"}`)}))

	n, err := client.LLen(ctx, DefaultRedisKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	first := receive(t, ch)
	second := receive(t, ch)
	assert.JSONEq(t, `{"action":"session.start"}`, string(first.Body))
	assert.JSONEq(t, `{"action":"session.end"}`, string(second.Body))
}

func TestRedisQueueSkipsMalformedPayloads(t *testing.T) {
	client := newMiniRedis(t)
	q := NewRedisQueue(client, "test:queue")
	q.timeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.LPush(ctx, "test:queue", "not json").Err())
	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: json.RawMessage(`{}`)}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := receive(t, ch)
	assert.Equal(t, "audit", msg.Type)
}
