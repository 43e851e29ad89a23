// Package notify delivers user-facing notifications produced by the core.
// Delivery is best effort: a failed notification never fails the request
// that produced it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/metrics"
)

// Notification types.
const (
	TypeVoteCast          = "vote.cast"
	TypeMembershipChanged = "membership.changed"
	TypeOwnershipGranted  = "membership.ownership_granted"
	TypeReportClosed      = "report.closed"
	TypeMessageSent       = "message.sent"
	TypeOTPIssued         = "auth.otp_issued"
	TypeAccountLocked     = "auth.account_locked"
)

// PayloadCode carries a one-time code. Sinks that log must never print it.
const PayloadCode = "code"

// Notification is one message for one recipient.
type Notification struct {
	ID          uuid.UUID         `json:"id"`
	Type        string            `json:"type"`
	RecipientID uuid.UUID         `json:"recipient_id"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// New creates a notification.
func New(typ string, recipient uuid.UUID, payload map[string]string) Notification {
	return Notification{
		ID:          uuid.New(),
		Type:        typ,
		RecipientID: recipient,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
}

// Sink delivers a notification.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Notifier is what services depend on.
type Notifier interface {
	Publish(n Notification)
}

// Publisher hands notifications to a Sink on background goroutines with a
// per-delivery timeout. Failures are logged and counted only.
type Publisher struct {
	sink    Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger

	wg sync.WaitGroup
}

// NewPublisher creates a Publisher.
func NewPublisher(sink Sink, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		sink:    sink,
		timeout: timeout,
		metrics: m,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Publish delivers n asynchronously.
func (p *Publisher) Publish(n Notification) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.sink.Notify(ctx, n); err != nil {
			p.metrics.RecordNotification("failed")
			p.logger.Warn().
				Err(err).
				Str("type", n.Type).
				Str("recipient_id", n.RecipientID.String()).
				Msg("Notification delivery failed")
			return
		}
		p.metrics.RecordNotification("sent")
	}()
}

// Wait blocks until every published notification has been handled.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Discard drops every notification.
type Discard struct{}

// Publish implements Notifier.
func (Discard) Publish(Notification) {}

var (
	_ Notifier = (*Publisher)(nil)
	_ Notifier = Discard{}
)
