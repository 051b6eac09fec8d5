package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmforge/swarmcore/internal/correlation"
)

func TestBusDeliversToMatchingSubscribersOnly(t *testing.T) {
	bus := New()
	taskEvents := bus.Subscribe(func(e Event) bool { return e.Type == TopicTaskStarted })
	defer taskEvents.Close()

	corr := correlation.New()
	bus.Publish(New(time.Now(), TopicTaskStarted, "engine", nil, corr))
	bus.Publish(New(time.Now(), TopicPlanCompleted, "engine", nil, corr))

	select {
	case e := <-taskEvents.Events():
		assert.Equal(t, TopicTaskStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event not delivered")
	}

	select {
	case e := <-taskEvents.Events():
		t.Fatalf("unexpected second event delivered: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := newQueue(2)
	corr := correlation.New()
	for i := 0; i < 5; i++ {
		q.push(New(time.Now(), TopicTaskStarted, "engine", i, corr))
	}

	buffered := q.drain()
	require.Len(t, buffered, 2)
	assert.Equal(t, 3, buffered[0].Payload)
	assert.Equal(t, 4, buffered[1].Payload)
	assert.Equal(t, uint64(3), q.droppedCount())
}

func TestRecorderCapturesAllPublishedEvents(t *testing.T) {
	rec := NewRecorder()
	bus := New()
	bus.AddSink(rec)

	corr := correlation.New()
	bus.Publish(New(time.Now(), TopicTaskCompleted, "engine", "t1", corr))

	require.Eventually(t, func() bool {
		return len(rec.Events()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventCarriesCorrelationContext(t *testing.T) {
	corr := correlation.New()
	e := New(time.Now(), TopicPlanStarted, "engine", nil, corr)
	assert.Equal(t, corr.CorrelationID, e.Metadata.CorrelationID)
	assert.Equal(t, corr.TraceID, e.Metadata.TraceID)
	assert.Equal(t, corr.SpanID, e.Metadata.SpanID)
}
