package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Notify(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestPublisher_DeliversAsync(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink, time.Second, nil, zerolog.Nop())

	recipient := uuid.New()
	pub.Publish(New(TypeVoteCast, recipient, map[string]string{"score": "1"}))
	pub.Publish(New(TypeMessageSent, recipient, nil))
	pub.Wait()

	sent := sink.Sent()
	require.Len(t, sent, 2)
	last, ok := sink.Last(TypeVoteCast)
	require.True(t, ok)
	assert.Equal(t, recipient, last.RecipientID)
	assert.Equal(t, "1", last.Payload["score"])
}

func TestPublisher_FailureIsSwallowed(t *testing.T) {
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.Anything).Return(errors.New("sink down"))

	var buf bytes.Buffer
	pub := NewPublisher(sink, time.Second, nil, zerolog.New(&buf))

	assert.NotPanics(t, func() {
		pub.Publish(New(TypeReportClosed, uuid.New(), nil))
		pub.Wait()
	})
	sink.AssertNumberOfCalls(t, "Notify", 1)
	assert.Contains(t, buf.String(), "Notification delivery failed")
}

func TestPublisher_AppliesTimeout(t *testing.T) {
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		<-ctx.Done()
	}).Return(context.DeadlineExceeded)

	pub := NewPublisher(sink, 10*time.Millisecond, nil, zerolog.Nop())
	pub.Publish(New(TypeMessageSent, uuid.New(), nil))

	done := make(chan struct{})
	go func() {
		pub.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not time out the sink")
	}
}

func TestLogSink_OmitsPayload(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	err := sink.Notify(context.Background(), New(TypeOTPIssued, uuid.New(), map[string]string{PayloadCode: "123456"}))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), TypeOTPIssued)
	assert.NotContains(t, buf.String(), "123456")
}

func TestMultiSink(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	failing := &mockSink{}
	failing.On("Notify", mock.Anything, mock.Anything).Return(errors.New("nope"))

	n := New(TypeVoteCast, uuid.New(), nil)
	require.NoError(t, MultiSink{a, b}.Notify(context.Background(), n))
	assert.Len(t, a.Sent(), 1)
	assert.Len(t, b.Sent(), 1)

	assert.Error(t, MultiSink{a, failing}.Notify(context.Background(), n))
}
