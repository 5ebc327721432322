package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/metrics"
	"github.com/liamcoop/simpleexpr/multiassetengine"
	"github.com/liamcoop/simpleexpr/rules"
)

// ErrSerializeFailed is returned when an event cannot be encoded
var ErrSerializeFailed = errors.New("failed to serialize notification")

// Event is published every time the rule changes state
type Event struct {
	ID          string       `json:"id"`
	Rule        string       `json:"rule"`
	Description string       `json:"description,omitempty"`
	Reason      rules.Reason `json:"reason"`
	EmittedAt   time.Time    `json:"emitted_at"`
}

// Sink delivers events to one destination
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Dispatcher evaluates batches against an engine and publishes an Event to
// every sink when the rule state changes
type Dispatcher struct {
	engine  *multiassetengine.Engine
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithTimeout bounds the time spent publishing one event
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a dispatcher; with no sinks it only evaluates
func NewDispatcher(engine *multiassetengine.Engine, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:  engine,
		sinks:   sinks,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Engine returns the engine the dispatcher evaluates against
func (d *Dispatcher) Engine() *multiassetengine.Engine {
	return d.engine
}

// EvaluateJSON runs one cycle over a JSON payload and notifies on a
// transition. Publish failures are logged and do not fail the cycle.
func (d *Dispatcher) EvaluateJSON(ctx context.Context, data []byte) (multiassetengine.CycleResult, error) {
	res, err := d.engine.EvaluateJSON(data)
	if err != nil {
		return res, err
	}
	d.afterCycle(ctx, res)
	return res, nil
}

// Evaluate runs one cycle over input and notifies on a transition
func (d *Dispatcher) Evaluate(ctx context.Context, input multiassetengine.Input) multiassetengine.CycleResult {
	res := d.engine.EvaluateCycle(input)
	d.afterCycle(ctx, res)
	return res
}

func (d *Dispatcher) afterCycle(ctx context.Context, res multiassetengine.CycleResult) {
	if !res.Transitioned || len(d.sinks) == 0 {
		return
	}
	if err := d.Notify(ctx, res.Reason); err != nil {
		logger.Error("failed to publish notification", "error", err)
	}
}

// Notify publishes reason to every sink and joins the failures
func (d *Dispatcher) Notify(ctx context.Context, reason rules.Reason) error {
	event := Event{
		ID:        uuid.New().String(),
		Rule:      multiassetengine.RuleName,
		Reason:    reason,
		EmittedAt: d.now().UTC(),
	}
	if cfg := d.engine.Config(); cfg != nil {
		event.Description = cfg.Description
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			metrics.NotificationsPublishedTotal.WithLabelValues(sink.Name(), "failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		metrics.NotificationsPublishedTotal.WithLabelValues(sink.Name(), "success").Inc()
		logger.Debug("notification published", "sink", sink.Name(), "event_id", event.ID, "state", reason.State.String())
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (d *Dispatcher) Close() error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func encode(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return data, nil
}
