// Package redisstream is the optional durable EventSink adapter named in
// spec §6's persisted state layout: "append-only event log keyed by
// (stream = entityId, offset)". It is XADD-backed, one Redis stream per
// entity (the event's SourceID), with snapshot support layered on top of
// a plain string key per (entityId, version).
//
// Grounded on the teacher's internal/streaming/manager.go Publish/
// ReplaySince pair (XAdd with MaxLen/Approx trimming, per-stream TTL,
// XRange for replay), narrowed from that file's workflow-log-plus-DB-
// persistence/role-tagging/local-subscriber-fanout responsibilities down
// to exactly what eventbus.Sink plus replay needs. Tested against
// github.com/alicebob/miniredis/v2, the same pairing the teacher's
// redis_streams_test.go and redis_wrapper_test.go use.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swarmforge/swarmcore/internal/eventbus"
)

// DefaultMaxLen bounds each entity's stream length (approximate trim via
// XADD MaxLen/Approx, same as the teacher's manager.go).
const DefaultMaxLen = 10000

// DefaultTTL is the expiry set on a stream key after each append.
const DefaultTTL = 24 * time.Hour

// Sink is a durable eventbus.Sink backed by Redis streams, one stream per
// event SourceID (the entityId in spec §6's persisted layout).
type Sink struct {
	client *redis.Client
	logger *zap.Logger

	maxLen int64
	ttl    time.Duration
}

// Option configures a Sink at construction.
type Option func(*Sink)

// WithMaxLen overrides DefaultMaxLen.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(s *Sink) { s.ttl = d }
}

// NewSink wraps an existing Redis client. The caller owns the client's
// lifecycle (construction, Close).
func NewSink(client *redis.Client, logger *zap.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{client: client, logger: logger, maxLen: DefaultMaxLen, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func streamKey(entityID string) string {
	return fmt.Sprintf("swarmcore:events:%s", entityID)
}

func snapshotKey(entityID string, version int) string {
	return fmt.Sprintf("swarmcore:snapshot:%s:%d", entityID, version)
}

// Publish implements eventbus.Sink: appends e to its entity's stream.
// Like every sink wired to the bus, failures here are logged, never
// surfaced to the publisher (spec §6: "EventSink.publish(event) —
// non-blocking; MAY drop").
func (s *Sink) Publish(e eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		s.logger.Warn("redisstream: failed to marshal event payload", zap.Error(err), zap.String("event_id", e.ID))
		payloadJSON = []byte("null")
	}

	key := streamKey(e.SourceID)
	_, err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":             e.ID,
			"type":           e.Type,
			"ts_nano":        e.Timestamp.UnixNano(),
			"payload":        string(payloadJSON),
			"version":        e.Metadata.Version,
			"correlation_id": e.Metadata.CorrelationID,
			"trace_id":       e.Metadata.TraceID,
			"span_id":        e.Metadata.SpanID,
			"parent_span_id": e.Metadata.ParentSpanID,
		},
	}).Result()
	if err != nil {
		s.logger.Warn("redisstream: XAdd failed", zap.Error(err), zap.String("entity_id", e.SourceID))
		return
	}
	s.client.Expire(ctx, key, s.ttl)
}

// Replay returns every event recorded for entityID since offset
// (exclusive), oldest first. offset "" replays the whole stream.
func (s *Sink) Replay(ctx context.Context, entityID, offset string) ([]eventbus.Event, error) {
	start := "-"
	if offset != "" {
		start = "(" + offset
	}
	msgs, err := s.client.XRange(ctx, streamKey(entityID), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redisstream: XRange %s: %w", entityID, err)
	}

	out := make([]eventbus.Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeMessage(entityID, m)
		if err != nil {
			s.logger.Warn("redisstream: skipping malformed stream entry", zap.Error(err), zap.String("entity_id", entityID))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeMessage(entityID string, m redis.XMessage) (eventbus.Event, error) {
	field := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	var tsNano int64
	if _, err := fmt.Sscanf(field("ts_nano"), "%d", &tsNano); err != nil {
		return eventbus.Event{}, fmt.Errorf("parse ts_nano: %w", err)
	}
	var payload any
	if raw := field("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return eventbus.Event{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	var version int
	_, _ = fmt.Sscanf(field("version"), "%d", &version)

	return eventbus.Event{
		ID:        field("id"),
		Type:      field("type"),
		SourceID:  entityID,
		Timestamp: time.Unix(0, tsNano),
		Payload:   payload,
		Metadata: eventbus.Metadata{
			Version:       version,
			CorrelationID: field("correlation_id"),
			TraceID:       field("trace_id"),
			SpanID:        field("span_id"),
			ParentSpanID:  field("parent_span_id"),
		},
	}, nil
}

// PutSnapshot stores an opaque state blob for (entityID, version), per
// spec §6: "periodic snapshots keyed by (entityId, version) containing
// opaque state blob and the last-applied version."
func (s *Sink) PutSnapshot(ctx context.Context, entityID string, version int, blob []byte) error {
	return s.client.Set(ctx, snapshotKey(entityID, version), blob, 0).Err()
}

// GetSnapshot retrieves a previously stored snapshot blob, or
// (nil, false, nil) if none exists at that version.
func (s *Sink) GetSnapshot(ctx context.Context, entityID string, version int) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, snapshotKey(entityID, version)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
