package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/metrics"
)

const kindEcho Kind = "test.echo"

type echoRequest struct {
	Text string
}

func (echoRequest) RequestKind() Kind { return kindEcho }

func (r echoRequest) Validate() error {
	if r.Text == "" {
		return domain.Invalid("text", "is required")
	}
	return nil
}

type otherRequest struct{}

func (otherRequest) RequestKind() Kind { return "test.other" }

type echoResult struct {
	Text   string
	UserID uuid.UUID
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *int) {
	t.Helper()
	d := New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	calls := 0
	d.MustRegister(kindEcho, Handle(func(ctx context.Context, p domain.Principal, req echoRequest) (*echoResult, error) {
		calls++
		return &echoResult{Text: req.Text, UserID: p.UserID}, nil
	}))
	return d, &calls
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	d, calls := newTestDispatcher(t)
	p := domain.NewPrincipal(uuid.New(), domain.RoleUser)

	res, err := Send[*echoResult](context.Background(), d, p, echoRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
	assert.Equal(t, p.UserID, res.UserID)
	assert.Equal(t, 1, *calls)
}

func TestDispatch_ValidationBeforeHandler(t *testing.T) {
	d, calls := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), domain.Principal{}, echoRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "text", ve.Field)
	assert.Zero(t, *calls, "handler must not run on invalid input")
}

func TestDispatch_NoHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), domain.Principal{}, otherRequest{})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestDispatch_CancelledContext(t *testing.T) {
	d, calls := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, domain.Principal{}, echoRequest{Text: "hi"})
	assert.Equal(t, context.Canceled, err, "cancellation is returned unwrapped")
	assert.Zero(t, *calls)
}

func TestRegister_Duplicate(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Register(kindEcho, func(ctx context.Context, p domain.Principal, req Request) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrDuplicateHandler)

	assert.Panics(t, func() {
		d.MustRegister(kindEcho, func(ctx context.Context, p domain.Principal, req Request) (any, error) {
			return nil, nil
		})
	})
}

func TestRegister_AfterFirstDispatchIsSealed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), domain.Principal{}, echoRequest{Text: "x"})
	require.NoError(t, err)

	err = d.Register("test.late", func(ctx context.Context, p domain.Principal, req Request) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrSealed)
}

func TestDispatch_ErrorsPassThroughUnchanged(t *testing.T) {
	d := New(nil, zerolog.Nop())
	partial := &domain.PartialSuccessError{Operation: "sanction", Cause: domain.ErrDependencyFailure}
	d.MustRegister(kindEcho, Handle(func(ctx context.Context, p domain.Principal, req echoRequest) (*echoResult, error) {
		return &echoResult{Text: req.Text}, partial
	}))

	res, err := Send[*echoResult](context.Background(), d, domain.Principal{}, echoRequest{Text: "ok"})
	assert.Same(t, partial, err)
	require.NotNil(t, res, "partial success still carries the output")
	assert.Equal(t, "ok", res.Text)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{domain.Invalid("x", "bad"), "validation"},
		{domain.ErrGroupNotFound, "not_found"},
		{domain.Denied(domain.DenyNotOwner, "edit"), "denied"},
		{domain.ErrOwnerMustTransfer, "invalid_transition"},
		{domain.ErrConflict, "conflict"},
		{context.DeadlineExceeded, "cancelled"},
		{&domain.PartialSuccessError{Operation: "x", Cause: errors.New("y")}, "partial_success"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}
