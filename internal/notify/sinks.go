package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Log Sink
// =============================================================================

// LogSink writes notifications to the log. Payloads are omitted because they
// may carry one-time codes.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

// Notify implements Sink.
func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	s.logger.Info().
		Str("notification_id", n.ID.String()).
		Str("type", n.Type).
		Str("recipient_id", n.RecipientID.String()).
		Msg("Notification")
	return nil
}

// =============================================================================
// Redis Sink
// =============================================================================

// RedisSink publishes notifications as JSON on a Redis channel. Delivery
// fan-out to connected clients is the subscriber's job.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Notify implements Sink.
func (s *RedisSink) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// =============================================================================
// Multi Sink
// =============================================================================

// MultiSink delivers to every sink concurrently and returns the first error.
type MultiSink []Sink

// Notify implements Sink.
func (m MultiSink) Notify(ctx context.Context, n Notification) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m {
		g.Go(func() error {
			return s.Notify(ctx, n)
		})
	}
	return g.Wait()
}

// =============================================================================
// Memory Sink
// =============================================================================

// MemorySink keeps notifications in memory. Used by tests and local tooling.
type MemorySink struct {
	mu   sync.Mutex
	sent []Notification
}

// NewMemorySink creates a MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Notify implements Sink.
func (s *MemorySink) Notify(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

// Sent returns a copy of the delivered notifications.
func (s *MemorySink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the newest notification of typ, if any.
func (s *MemorySink) Last(typ string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Type == typ {
			return s.sent[i], true
		}
	}
	return Notification{}, false
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*RedisSink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = (*MemorySink)(nil)
)
