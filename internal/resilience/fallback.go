package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/eggyy1224/space-live-project-sub000/internal/observe"
)

// ErrAllFailed is returned when no backend of a stage could serve the call.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig tunes a [FallbackGroup].
type FallbackConfig struct {
	// Stage labels the pipeline stage ("llm", "tts", "stt") in logs,
	// breaker names and the failover counter. The typed constructors fill
	// it in when empty.
	Stage string

	// CircuitBreaker is the template for every backend's breaker. Its Name
	// is replaced with "stage/backend".
	CircuitBreaker CircuitBreakerConfig

	// Metrics receives one failover count per backend that could not serve
	// a call. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds the backends of one stage in preference order, each
// behind its own breaker. A call goes to the first backend whose breaker
// admits it and moves down the list on failure.
//
// Backends must be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	stage    string
	cfg      CircuitBreakerConfig
	metrics  *observe.Metrics
	backends []backend[T]
}

// NewFallbackGroup returns a group whose preferred backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	fg := &FallbackGroup[T]{stage: cfg.Stage, cfg: cfg.CircuitBreaker, metrics: cfg.Metrics}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends v behind every backend added before it.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cb := fg.cfg
	cb.Name = name
	if fg.stage != "" {
		cb.Name = fg.stage + "/" + name
	}
	fg.backends = append(fg.backends, backend[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
}

// Names returns the backend names in preference order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.backends))
	for i, b := range fg.backends {
		out[i] = b.name
	}
	return out
}

// Primary returns the preferred backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// each calls fn with every backend in preference order.
func (fg *FallbackGroup[T]) each(fn func(T)) {
	for _, b := range fg.backends {
		fn(b.value)
	}
}

// ExecuteWithResult runs fn against the backends of fg in order and returns
// the first success. Backends with an open breaker are passed over. A done
// ctx ends the walk with ctx's error, and a failure caused by cancellation
// is returned as is rather than tried elsewhere. When every backend fails
// the error wraps [ErrAllFailed] and the last cause.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	log := observe.Logger(ctx).With("stage", fg.stage)

	var lastErr error
	for i := range fg.backends {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		b := &fg.backends[i]
		var out R
		err := b.breaker.Execute(func() error {
			var err error
			out, err = fn(b.value)
			return err
		})
		if err == nil {
			if i > 0 {
				log.Info("served by fallback", "provider", b.name, "skipped", i)
			}
			return out, nil
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return zero, err
		}

		lastErr = err
		fg.metrics.RecordFailover(ctx, fg.stage, b.name)
		switch {
		case errors.Is(err, ErrCircuitOpen):
			log.Debug("provider circuit open", "provider", b.name)
		case i < len(fg.backends)-1:
			log.Warn("provider failed, trying next", "provider", b.name, "err", err)
		default:
			log.Error("last provider failed", "provider", b.name, "err", err)
		}
	}
	if fg.stage == "" {
		return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
	}
	return zero, fmt.Errorf("%w: %s: %w", ErrAllFailed, fg.stage, lastErr)
}
