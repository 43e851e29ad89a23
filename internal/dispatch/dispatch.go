// Package dispatch routes typed requests to exactly one registered handler.
//
// The registry is filled at startup and sealed before the first request, so
// a duplicate registration is a configuration error caught before serving.
// The dispatcher holds no domain state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/metrics"
)

// Kind tags a request type. It is the routing key.
type Kind string

// Request is anything the dispatcher can route.
type Request interface {
	RequestKind() Kind
}

// Validator is implemented by requests that can check their own shape.
type Validator interface {
	Validate() error
}

// Handler processes one request kind.
type Handler func(ctx context.Context, p domain.Principal, req Request) (any, error)

var (
	// ErrNoHandler indicates no handler is registered for a request kind.
	ErrNoHandler = errors.New("no handler registered")

	// ErrDuplicateHandler indicates a second registration for the same kind.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrSealed indicates registration after the dispatcher started serving.
	ErrSealed = errors.New("dispatcher is sealed")
)

// Dispatcher is the request registry.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	sealed   bool

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an empty dispatcher.
func New(m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Kind]Handler),
		metrics:  m,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register binds kind to h.
func (d *Dispatcher) Register(kind Kind, h Handler) error {
	if kind == "" || h == nil {
		return fmt.Errorf("dispatch: register: empty kind or nil handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return fmt.Errorf("%w: %s", ErrSealed, kind)
	}
	if _, exists := d.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, kind)
	}
	d.handlers[kind] = h
	return nil
}

// MustRegister is Register that panics on error. Use it during startup wiring.
func (d *Dispatcher) MustRegister(kind Kind, h Handler) {
	if err := d.Register(kind, h); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. Dispatch seals implicitly on first use.
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	d.sealed = true
	d.mu.Unlock()
}

// Kinds returns the registered kinds.
func (d *Dispatcher) Kinds() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := make([]Kind, 0, len(d.handlers))
	for k := range d.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (d *Dispatcher) lookup(kind Kind) (Handler, bool) {
	d.mu.RLock()
	h, ok := d.handlers[kind]
	sealed := d.sealed
	d.mu.RUnlock()

	if !sealed {
		d.Seal()
	}
	return h, ok
}

// Dispatch routes req to its handler and returns the handler's result and
// error unchanged. A context that is already done is reported as ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, p domain.Principal, req Request) (any, error) {
	if req == nil {
		return nil, domain.Invalid("request", "is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind := req.RequestKind()
	h, ok := d.lookup(kind)
	if !ok {
		d.logger.Warn().Str("kind", string(kind)).Msg("No handler for request kind")
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	start := time.Now()
	result, err := h(ctx, p, req)
	elapsed := time.Since(start)

	outcome := Outcome(err)
	d.metrics.ObserveDispatch(string(kind), outcome, elapsed)
	d.logger.Debug().
		Str("kind", string(kind)).
		Str("user_id", p.UserID.String()).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("Request dispatched")

	return result, err
}

// Outcome maps an error to a short label for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPartialSuccess):
		return "partial_success"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, domain.ErrDependencyFailure):
		return "dependency_failure"
	}
	return "error"
}

// Handle adapts a typed function into a Handler. The request is validated
// before fn runs.
func Handle[Req Request, Res any](fn func(ctx context.Context, p domain.Principal, req Req) (Res, error)) Handler {
	return func(ctx context.Context, p domain.Principal, req Request) (any, error) {
		typed, ok := req.(Req)
		if !ok {
			return nil, domain.Invalid("request", fmt.Sprintf("unexpected type %T for kind %s", req, req.RequestKind()))
		}
		if v, ok := any(typed).(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, err
			}
		}
		return fn(ctx, p, typed)
	}
}

// Send dispatches req and asserts the result type.
func Send[Res any](ctx context.Context, d *Dispatcher, p domain.Principal, req Request) (Res, error) {
	var zero Res
	result, err := d.Dispatch(ctx, p, req)
	if result == nil {
		return zero, err
	}
	typed, ok := result.(Res)
	if !ok {
		return zero, errors.Join(err, fmt.Errorf("dispatch: unexpected result type %T", result))
	}
	return typed, err
}
