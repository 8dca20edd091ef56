package channel

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/garagelink/garagelink/internal/telemetry"
)

const instrumentationName = "github.com/garagelink/garagelink/internal/channel"

// BreakerConfig holds configuration for the publish circuit breaker.
type BreakerConfig struct {
	// Name identifies the circuit breaker for logging and metrics.
	Name string

	// MaxRequests is the number of trial publishes allowed while half-open.
	// Default: 1
	MaxRequests uint32

	// Interval is the cyclic period for clearing counts while closed.
	// Default: 0 (never cleared)
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// ReadyToTrip decides when to open. Defaults to DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultReadyToTrip trips the circuit breaker when at least 5 publishes have been made
// and the failure rate is 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// Guarded wraps a Publisher with a circuit breaker, a span per publish and a
// publish counter.
type Guarded struct {
	next      Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	tracer    trace.Tracer
	published metric.Int64Counter
	logger    zerolog.Logger
}

// NewGuarded wraps next. While the breaker is open Publish fails fast with ErrCircuitOpen.
func NewGuarded(next Publisher, cfg BreakerConfig, logger zerolog.Logger) (*Guarded, error) {
	if cfg.Name == "" {
		cfg.Name = "command-channel"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	published, err := telemetry.Meter(instrumentationName).Int64Counter(
		"garagelink.commands.published",
		metric.WithDescription("Number of device commands handed to the command channel"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	g := &Guarded{
		next:      next,
		tracer:    telemetry.Tracer(instrumentationName),
		published: published,
		logger:    logger,
	}

	g.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		ReadyToTrip:  cfg.ReadyToTrip,
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("command channel circuit breaker state changed")
		},
	})

	return g, nil
}

// isBreakerSuccess keeps caller mistakes and abandoned requests from tripping the breaker.
func isBreakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrInvalidTopic)
}

// Publish sends payload through the breaker.
func (g *Guarded) Publish(ctx context.Context, topic string, payload []byte) error {
	ctx, span := g.tracer.Start(ctx, "channel.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.Int("messaging.message.body.size", len(payload)),
		),
	)
	defer span.End()

	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Publish(ctx, topic, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = ErrCircuitOpen
	}

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	g.published.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))

	return err
}

// State returns the current breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

// Ping delegates to the wrapped publisher when it supports health checks.
func (g *Guarded) Ping(ctx context.Context) error {
	if g.breaker.State() == gobreaker.StateOpen {
		return ErrCircuitOpen
	}
	if p, ok := g.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
