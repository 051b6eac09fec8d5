package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/correlation"
	"github.com/swarmforge/swarmcore/internal/eventbus"
)

func newTestSink(t *testing.T) (*Sink, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewSink(client, nil)
	return sink, func() {
		client.Close()
		mr.Close()
	}
}

func TestPublishThenReplayReturnsEventsInOrder(t *testing.T) {
	sink, cleanup := newTestSink(t)
	defer cleanup()

	corr := correlation.New()
	now := time.Unix(1000, 0)
	sink.Publish(eventbus.New(now, eventbus.TopicTaskStarted, "task-1", map[string]any{"n": 1}, corr))
	sink.Publish(eventbus.New(now.Add(time.Second), eventbus.TopicTaskCompleted, "task-1", map[string]any{"n": 2}, corr))

	got, err := sink.Replay(context.Background(), "task-1", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, eventbus.TopicTaskStarted, got[0].Type)
	assert.Equal(t, eventbus.TopicTaskCompleted, got[1].Type)
	assert.Equal(t, corr.TraceID, got[0].Metadata.TraceID)
}

func TestReplayScopedPerEntity(t *testing.T) {
	sink, cleanup := newTestSink(t)
	defer cleanup()

	corr := correlation.New()
	sink.Publish(eventbus.New(time.Now(), eventbus.TopicTaskStarted, "task-1", nil, corr))
	sink.Publish(eventbus.New(time.Now(), eventbus.TopicTaskStarted, "task-2", nil, corr))

	got, err := sink.Replay(context.Background(), "task-1", "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	sink, cleanup := newTestSink(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, sink.PutSnapshot(ctx, "plan-1", 1, []byte("state-blob")))

	blob, ok, err := sink.GetSnapshot(ctx, "plan-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("state-blob"), blob)

	_, ok, err = sink.GetSnapshot(ctx, "plan-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
