package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildInheritsTraceAndLinksParentSpan(t *testing.T) {
	root := New()
	child := root.Child()

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.CorrelationID, child.CorrelationID)
	assert.Equal(t, root.SpanID, child.ParentSpanID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func TestHeadersRoundTrip(t *testing.T) {
	c := New()
	c.RequestID = "req-1"
	c.SessionID = "sess-1"

	h := c.Headers()
	got := FromHeaders(h)

	assert.Equal(t, c.CorrelationID, got.CorrelationID)
	assert.Equal(t, c.TraceID, got.TraceID)
	assert.Equal(t, c.SpanID, got.SpanID)
	assert.Equal(t, c.ParentSpanID, got.ParentSpanID)
	assert.Equal(t, c.RequestID, got.RequestID)
	assert.Equal(t, c.SessionID, got.SessionID)
}

func TestFromHeadersGeneratesFreshIDsWhenMissing(t *testing.T) {
	got := FromHeaders(map[string]string{})
	assert.NotEmpty(t, got.CorrelationID)
	assert.NotEmpty(t, got.TraceID)
	assert.NotEmpty(t, got.SpanID)
}

func TestIntoFromRoundTripsThroughContext(t *testing.T) {
	c := New()
	ctx := Into(context.Background(), c)
	got := From(ctx)
	assert.Equal(t, c, got)
}

func TestFromWithoutStoredContextReturnsFreshOne(t *testing.T) {
	got := From(context.Background())
	require.NotEmpty(t, got.CorrelationID)
}
