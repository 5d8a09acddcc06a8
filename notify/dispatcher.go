package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"auctionwatch/models"
	"github.com/google/uuid"
)

// DispatchStore records delivery outcomes.
type DispatchStore interface {
	MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID) error
}

type dispatchJob struct {
	notification *models.Notification
	channels     []models.Channel
}

// Dispatcher fans notifications out to external channels through a bounded
// worker pool. Each channel has its own rate limiter so one slow provider
// does not starve the rest.
type Dispatcher struct {
	store      DispatchStore
	sink       Sink
	limiters   map[models.Channel]*rate.Limiter
	queue      chan dispatchJob
	maxRetries int
	backoff    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration
	Limits     map[models.Channel]rate.Limit
	Bursts     map[models.Channel]int
}

func NewDispatcher(store DispatchStore, sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		store:      store,
		sink:       sink,
		limiters:   make(map[models.Channel]*rate.Limiter),
		queue:      make(chan dispatchJob, 256),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		ctx:        ctx,
		cancel:     cancel,
	}

	for ch, limit := range opts.Limits {
		burst := opts.Bursts[ch]
		if burst <= 0 {
			burst = 1
		}
		d.limiters[ch] = rate.NewLimiter(limit, burst)
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue hands a notification to the worker pool. Non-blocking; when the
// queue is full the job is dropped and the record marked failed, which the
// deferred sweep will not resurrect.
func (d *Dispatcher) Enqueue(n *models.Notification, channels []models.Channel) {
	select {
	case d.queue <- dispatchJob{notification: n, channels: channels}:
	default:
		log.Printf("Dispatcher: queue full, dropping notification %s", n.ID)
		if err := d.store.MarkNotificationFailed(context.Background(), n.ID); err != nil {
			log.Printf("Dispatcher: mark failed: %v", err)
		}
	}
}

// Stop drains in-flight work and shuts the pool down.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.queue:
			d.dispatch(job)
		}
	}
}

func (d *Dispatcher) dispatch(job dispatchJob) {
	n := job.notification
	delivered := 0

	for _, ch := range job.channels {
		if lim, ok := d.limiters[ch]; ok {
			if err := lim.Wait(d.ctx); err != nil {
				return
			}
		}

		if err := d.sendWithRetry(ch, n); err != nil {
			log.Printf("Dispatcher: %s delivery failed for %s: %v", ch, n.ID, err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		if err := d.store.MarkNotificationDelivered(d.ctx, n.ID, time.Now()); err != nil {
			log.Printf("Dispatcher: mark delivered %s: %v", n.ID, err)
		}
		return
	}

	if err := d.store.MarkNotificationFailed(d.ctx, n.ID); err != nil {
		log.Printf("Dispatcher: mark failed %s: %v", n.ID, err)
	}
}

func (d *Dispatcher) sendWithRetry(ch models.Channel, n *models.Notification) error {
	var err error
	delay := d.backoff

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if err = d.sink.Send(d.ctx, ch, n.OwnerID, n); err == nil {
			return nil
		}
		if attempt == d.maxRetries {
			break
		}

		select {
		case <-d.ctx.Done():
			return d.ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
