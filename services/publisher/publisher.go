// Package publisher emits album events and lookup requests on RabbitMQ.
//
// Messages are queued and delivered by a pool of workers; transient broker
// failures are retried. Start must be called before publishing. A stopped
// publisher cannot be restarted.
package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/streamdal/rabbit"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/util"
)

const (
	CloudEventsSpecVersion     = "1.0"
	CloudEventsDataContentType = "application/protobuf"
	CloudEventsSource          = "fivehundred"

	EventAlbumCreated    = "album.created"
	EventAlbumUpdated    = "album.updated"
	EventLookupRequested = "album.lookup.requested"

	DefaultNumWorkers = 4
	DefaultQueueSize  = 1000
	DefaultAttempts   = 3
	DefaultRetryDelay = 250 * time.Millisecond
	StopTimeout       = 5 * time.Second
)

var ErrNotRunning = errors.New("publisher is not running")

type IPublisher interface {
	Start() error
	Stop() error

	// Publish queues an already encoded message. Prefer the typed methods.
	Publish(ctx context.Context, data []byte, routingKey string) error

	// PublishAlbumEvent publishes album.created / album.updated with the
	// event type as the routing key.
	PublishAlbumEvent(ctx context.Context, eventType string, album *db.Album, fields []string) error

	// PublishLookupRequest asks a processor to import a single input.
	PublishLookupRequest(ctx context.Context, req *LookupRequest) error
}

type Options struct {
	RabbitBackend rabbit.IRabbit

	NumWorkers int
	QueueSize  int

	// Delivery attempts per message, with exponential backoff from RetryDelay
	Attempts   int
	RetryDelay time.Duration

	// Cancelled by main on shutdown
	ExternalShutdownCtx context.Context

	// Signalled once the workers have exited after an external shutdown
	ExternalShutdownDoneCh chan<- struct{}

	NewRelic *newrelic.Application
	Log      clog.ICustomLog
}

// Stats counts messages by outcome since Start.
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type runState int

const (
	stateNew runState = iota
	stateRunning
	stateStopped
)

type outbound struct {
	routingKey string
	body       []byte
	queuedAt   time.Time
}

type Publisher struct {
	options *Options
	queue   chan *outbound
	workers sync.WaitGroup

	stopCtx context.Context
	stopFn  context.CancelFunc

	stateMtx sync.Mutex
	state    runState

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	log clog.ICustomLog
}

func New(opts *Options) (*Publisher, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "failed to validate options")
	}

	stopCtx, stopFn := context.WithCancel(context.Background())

	p := &Publisher{
		options: opts,
		queue:   make(chan *outbound, opts.QueueSize),
		stopCtx: stopCtx,
		stopFn:  stopFn,
		log:     opts.Log.With(zap.String("pkg", "publisher")),
	}

	go p.watchExternalShutdown()

	return p, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.RabbitBackend == nil {
		return errors.New("rabbit backend cannot be nil")
	}

	if opts.Log == nil {
		return errors.New("log cannot be nil")
	}

	if opts.ExternalShutdownCtx == nil {
		return errors.New("external shutdown context cannot be nil")
	}

	if opts.ExternalShutdownDoneCh == nil {
		return errors.New("external shutdown done channel cannot be nil")
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = DefaultNumWorkers
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	return nil
}

func (p *Publisher) Start() error {
	p.stateMtx.Lock()
	defer p.stateMtx.Unlock()

	switch p.state {
	case stateRunning:
		return errors.New("publisher already started")
	case stateStopped:
		return errors.New("publisher was stopped and cannot be restarted")
	}

	p.state = stateRunning

	for id := 0; id < p.options.NumWorkers; id++ {
		p.workers.Add(1)

		go func(id int) {
			defer p.workers.Done()
			p.work(id)
		}(id)
	}

	p.log.Debug("publisher started", zap.Int("numWorkers", p.options.NumWorkers))

	return nil
}

// Stop halts the workers. Messages still queued are counted as dropped.
func (p *Publisher) Stop() error {
	p.stateMtx.Lock()

	if p.state != stateRunning {
		p.stateMtx.Unlock()
		return ErrNotRunning
	}

	p.state = stateStopped
	p.stateMtx.Unlock()

	p.stopFn()

	done := make(chan struct{})

	go func() {
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(StopTimeout):
		return errors.Errorf("timed out after %s waiting for publish workers", StopTimeout)
	}

	if left := len(p.queue); left > 0 {
		p.dropped.Add(int64(left))
		p.log.Warn("dropping unpublished messages", zap.Int("count", left))
	}

	stats := p.Stats()
	p.log.Debug("publisher stopped",
		zap.Int64("published", stats.Published),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped))

	return nil
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Publisher) PublishAlbumEvent(ctx context.Context, eventType string, album *db.Album, fields []string) error {
	data, err := NewAlbumEvent(eventType, album, fields)
	if err != nil {
		return err
	}

	return errors.Wrapf(p.Publish(ctx, data, eventType), "failed to publish %s event", eventType)
}

func (p *Publisher) PublishLookupRequest(ctx context.Context, req *LookupRequest) error {
	data, err := NewLookupEvent(req)
	if err != nil {
		return err
	}

	return errors.Wrap(p.Publish(ctx, data, EventLookupRequested), "failed to publish lookup request")
}

func (p *Publisher) Publish(ctx context.Context, data []byte, routingKey string) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	if !p.running() {
		return ErrNotRunning
	}

	segment := newrelic.FromContext(ctx).StartSegment("publisher_enqueue")
	defer segment.End()

	msg := &outbound{routingKey: routingKey, body: data, queuedAt: time.Now()}

	select {
	case p.queue <- msg:
		return nil
	case <-p.stopCtx.Done():
		return ErrNotRunning
	case <-p.options.ExternalShutdownCtx.Done():
		return errors.New("shutting down, message not queued")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "message not queued")
	}
}

func (p *Publisher) work(id int) {
	logger := p.log.With(zap.String("method", "work"), zap.Int("worker", id))

	for {
		select {
		case <-p.stopCtx.Done():
			return
		case msg := <-p.queue:
			p.deliver(logger, msg)
		}
	}
}

func (p *Publisher) deliver(logger clog.ICustomLog, msg *outbound) {
	txn := p.options.NewRelic.StartTransaction("publisher_deliver")
	defer txn.End()

	txn.AddAttribute("routingKey", msg.routingKey)

	err := util.RetryFunc(p.stopCtx, func() error {
		return p.options.RabbitBackend.Publish(p.stopCtx, msg.routingKey, msg.body)
	}, p.options.Attempts, util.WithDelay(p.options.RetryDelay), util.WithLogger(logger))
	if err != nil {
		p.failed.Add(1)
		txn.NoticeError(err)
		logger.Error("unable to publish message",
			zap.String("routingKey", msg.routingKey),
			zap.Duration("queuedFor", time.Since(msg.queuedAt)),
			zap.Error(err))

		return
	}

	p.published.Add(1)
}

func (p *Publisher) running() bool {
	p.stateMtx.Lock()
	defer p.stateMtx.Unlock()

	return p.state == stateRunning
}

func (p *Publisher) watchExternalShutdown() {
	<-p.options.ExternalShutdownCtx.Done()

	if err := p.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		p.log.Error("unable to stop publisher", zap.Error(err))
	}

	p.workers.Wait()

	p.options.ExternalShutdownDoneCh <- struct{}{}
}
