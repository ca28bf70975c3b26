package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

const (
	defaultSinkName   = "registration_subscriber"
	defaultBufferSize = 64

	metricDropped = "realtime.dropped"
	metricPublish = "realtime.published"
)

type (
	// Bus publishes committed state changes to per-event topics. The engine
	// calls Publish after commit, outside any lock.
	Bus interface {
		Publish(ctx context.Context, change Change) error
	}

	// Options configures the Pulse-backed bus.
	Options struct {
		// Client is the Pulse client. Required.
		Client Client
		// SinkName identifies the consumer group used by subscribers.
		// Defaults to "registration_subscriber".
		SinkName string
		// Buffer is the per-subscriber channel capacity. Messages beyond it
		// are dropped. Defaults to 64.
		Buffer int
		// Logger and Metrics default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// PulseBus is the production Bus. It is also the subscription entry
	// point for the read side.
	PulseBus struct {
		client  Client
		sink    string
		buffer  int
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// New constructs a Pulse-backed bus.
func New(opts Options) (*PulseBus, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sink := opts.SinkName
	if sink == "" {
		sink = defaultSinkName
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &PulseBus{
		client:  opts.Client,
		sink:    sink,
		buffer:  buffer,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Publish appends the change to its event topic.
func (b *PulseBus) Publish(ctx context.Context, change Change) error {
	if change.EventID == "" {
		return errors.New("change is missing event id")
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	handle, err := b.client.Stream(Topic(change.EventID))
	if err != nil {
		return err
	}
	payload, err := encodeChange(change)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, string(change.Kind), payload); err != nil {
		return err
	}
	b.metrics.IncCounter(metricPublish, 1, "kind", string(change.Kind))
	return nil
}

// Subscribe opens a consumer group on the event's topic and returns a
// bounded channel of changes. A subscriber that stops draining loses
// messages: the consume loop never blocks on a full channel, it drops and
// counts. The returned cancel stops consumption and closes the channel.
func (b *PulseBus) Subscribe(ctx context.Context, eventID string) (<-chan Change, context.CancelFunc, error) {
	if eventID == "" {
		return nil, nil, errors.New("event id is required")
	}
	handle, err := b.client.Stream(Topic(eventID))
	if err != nil {
		return nil, nil, err
	}
	sink, err := handle.NewSink(ctx, b.sink)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Change, b.buffer)
	runCtx, cancel := context.WithCancel(ctx)
	go b.consume(runCtx, eventID, sink, out)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return out, cancelFunc, nil
}

func (b *PulseBus) consume(ctx context.Context, eventID string, sink Sink, out chan<- Change) {
	defer close(out)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			change, err := decodeChange(evt.Payload)
			if err != nil {
				b.logger.Warn(ctx, "dropping undecodable realtime message",
					"event_id", eventID, "err", err)
				b.metrics.IncCounter(metricDropped, 1, "reason", "decode")
			} else {
				select {
				case out <- change:
				default:
					b.metrics.IncCounter(metricDropped, 1, "reason", "lagging")
				}
			}
			if err := sink.Ack(ctx, evt); err != nil && ctx.Err() == nil {
				b.logger.Warn(ctx, "realtime ack failed", "event_id", eventID, "err", err)
			}
		}
	}
}
