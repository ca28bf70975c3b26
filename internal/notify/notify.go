// Package notify dispatches the side effects of committed business events:
// an email, a targeted system message, and where applicable an audit record.
// Dispatch is fire and forget relative to the caller's response. Failures
// are logged and counted, never propagated, and nothing here is bounded by
// the originating request's deadline.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub001/internal/telemetry"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 4
	defaultRateEvery = time.Second
	defaultRateBurst = 5
	shutdownGrace    = 10 * time.Second

	metricDispatched = "notify.dispatched"
	metricDropped    = "notify.dropped"
	metricFailures   = "notify.failures"
)

type (
	// Recipient is one notification target.
	Recipient struct {
		UserID string
		Email  string
		Name   string
	}

	// Email is the first leg of a trio.
	Email struct {
		To      string
		Subject string
		Body    string
	}

	// Trio is the unit of dispatch: an email plus a system message to each
	// recipient, and optionally one audit record for the action itself.
	Trio struct {
		Kind       string
		EventID    string
		Recipients []Recipient
		Subject    string
		Body       string
		// Audit is the optional third leg. Nil means the action carries no
		// audit row of its own.
		Audit *domain.AuditRecord
	}

	// EmailSender delivers a single email.
	EmailSender interface {
		Send(ctx context.Context, email Email) error
	}

	// MessageStore persists the durable legs of a trio.
	MessageStore interface {
		InsertSystemMessage(ctx context.Context, m *domain.SystemMessage) error
		InsertAuditRecord(ctx context.Context, r *domain.AuditRecord) error
	}

	// Dispatcher accepts trios for asynchronous delivery.
	Dispatcher interface {
		Dispatch(trio Trio)
	}

	// Options configures the queue dispatcher.
	Options struct {
		// Sender delivers emails. Required.
		Sender EmailSender
		// Store persists system messages and audit records. Required.
		Store MessageStore
		// QueueSize bounds the pending trio queue. Defaults to 256. A full
		// queue drops the trio with a metric, it never blocks the caller.
		QueueSize int
		// Workers is the delivery concurrency. Defaults to 4.
		Workers int
		// RateEvery and RateBurst shape the per-recipient email limiter.
		// Defaults: one email per second, burst 5.
		RateEvery time.Duration
		RateBurst int
		Logger    telemetry.Logger
		Metrics   telemetry.Metrics
	}

	// QueueDispatcher is the production Dispatcher. Start spawns the
	// workers; Close stops accepting and drains the queue.
	QueueDispatcher struct {
		sender    EmailSender
		store     MessageStore
		queue     chan Trio
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		rateEvery time.Duration
		rateBurst int

		mu       sync.Mutex
		limiters map[string]*rate.Limiter
		closed   bool

		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}
)

// New constructs and starts a queue dispatcher.
func New(opts Options) (*QueueDispatcher, error) {
	if opts.Sender == nil {
		return nil, errors.New("email sender is required")
	}
	if opts.Store == nil {
		return nil, errors.New("message store is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	every := opts.RateEvery
	if every <= 0 {
		every = defaultRateEvery
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &QueueDispatcher{
		sender:    opts.Sender,
		store:     opts.Store,
		queue:     make(chan Trio, size),
		logger:    logger,
		metrics:   metrics,
		rateEvery: every,
		rateBurst: burst,
		limiters:  map[string]*rate.Limiter{},
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Dispatch enqueues the trio. Never blocks: when the queue is full the trio
// is dropped and counted.
func (d *QueueDispatcher) Dispatch(trio Trio) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.metrics.IncCounter(metricDropped, 1, "kind", trio.Kind, "reason", "closed")
		return
	}
	select {
	case d.queue <- trio:
	default:
		d.logger.Warn(d.ctx, "notification queue full, dropping trio",
			"kind", trio.Kind, "event_id", trio.EventID)
		d.metrics.IncCounter(metricDropped, 1, "kind", trio.Kind, "reason", "queue_full")
	}
}

// Close stops accepting new trios, drains the queue, and waits for in-flight
// deliveries up to a grace period.
func (d *QueueDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *QueueDispatcher) work() {
	defer d.wg.Done()
	for trio := range d.queue {
		d.deliver(trio)
	}
}

// deliver sends the trio to each recipient, deduplicated by email so a user
// who is both a participant and a guest of the same event receives one
// notification. Leg failures are independent: a failed email does not stop
// the system message, and vice versa.
func (d *QueueDispatcher) deliver(trio Trio) {
	seen := make(map[string]bool, len(trio.Recipients))
	for _, rcpt := range trio.Recipients {
		if rcpt.Email != "" {
			if seen[rcpt.Email] {
				continue
			}
			seen[rcpt.Email] = true
		}
		d.deliverEmail(trio, rcpt)
		d.deliverSystemMessage(trio, rcpt)
	}
	if trio.Audit != nil {
		d.deliverAudit(trio)
	}
	d.metrics.IncCounter(metricDispatched, 1, "kind", trio.Kind)
}

func (d *QueueDispatcher) deliverEmail(trio Trio, rcpt Recipient) {
	if rcpt.Email == "" {
		return
	}
	if err := d.limiter(rcpt.Email).Wait(d.ctx); err != nil {
		return
	}
	err := d.sender.Send(d.ctx, Email{To: rcpt.Email, Subject: trio.Subject, Body: trio.Body})
	if err != nil {
		d.logger.Error(d.ctx, "email delivery failed",
			"kind", trio.Kind, "event_id", trio.EventID, "to", rcpt.Email, "err", err)
		d.metrics.IncCounter(metricFailures, 1, "kind", trio.Kind, "leg", "email")
	}
}

func (d *QueueDispatcher) deliverSystemMessage(trio Trio, rcpt Recipient) {
	if rcpt.UserID == "" {
		return
	}
	msg := &domain.SystemMessage{
		ID:        uuid.NewString(),
		UserID:    rcpt.UserID,
		Title:     trio.Subject,
		Body:      trio.Body,
		Kind:      trio.Kind,
		EventID:   trio.EventID,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.InsertSystemMessage(d.ctx, msg); err != nil {
		d.logger.Error(d.ctx, "system message persist failed",
			"kind", trio.Kind, "event_id", trio.EventID, "user_id", rcpt.UserID, "err", err)
		d.metrics.IncCounter(metricFailures, 1, "kind", trio.Kind, "leg", "message")
	}
}

func (d *QueueDispatcher) deliverAudit(trio Trio) {
	record := *trio.Audit
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if err := d.store.InsertAuditRecord(d.ctx, &record); err != nil {
		d.logger.Error(d.ctx, "audit record persist failed",
			"kind", trio.Kind, "event_id", trio.EventID, "err", err)
		d.metrics.IncCounter(metricFailures, 1, "kind", trio.Kind, "leg", "audit")
	}
}

func (d *QueueDispatcher) limiter(email string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[email]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.rateEvery), d.rateBurst)
		d.limiters[email] = l
	}
	return l
}
