// Package notify delivers update notification email off the request path.
// Delivery is fire-and-forget: a failed or dropped notification is logged
// and counted, never surfaced to the poster.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"orderdesk/api/internal/metrics"
	"orderdesk/api/internal/store"
)

// Job describes one pending notification.
type Job struct {
	OrderID      int64
	EventID      int64
	TargetUserID int64
	Excerpt      string
	ThreadURL    string
}

// Directory resolves recipient addresses.
type Directory interface {
	UserByID(ctx context.Context, id int64) (store.User, error)
}

// Sender delivers a single notification email.
type Sender interface {
	IsConfigured() bool
	SendOrderUpdateEmail(to, recipientName string, orderID int64, excerpt, threadURL string) error
}

// Dispatcher fans jobs out to a fixed pool of delivery workers over a
// bounded queue. Enqueue never blocks; when the queue is full the job is
// dropped and counted.
type Dispatcher struct {
	jobs      chan Job
	directory Directory
	sender    Sender
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts workers goroutines consuming a queue of queueSize.
func NewDispatcher(directory Directory, sender Sender, workers, queueSize int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		jobs:      make(chan Job, queueSize),
		directory: directory,
		sender:    sender,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue schedules a notification without blocking the caller.
func (d *Dispatcher) Enqueue(job Job) {
	select {
	case d.jobs <- job:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		log.Warn().
			Int64("order_id", job.OrderID).
			Int64("event_id", job.EventID).
			Msg("notification queue full, dropping job")
	}
}

// Close stops accepting jobs and waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationsFailedTotal.Inc()
			log.Error().
				Interface("panic", r).
				Int64("order_id", job.OrderID).
				Msg("notification delivery panicked")
		}
	}()

	if !d.sender.IsConfigured() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := d.directory.UserByID(ctx, job.TargetUserID)
	if err != nil {
		metrics.NotificationsFailedTotal.Inc()
		log.Warn().Err(err).
			Int64("order_id", job.OrderID).
			Int64("user_id", job.TargetUserID).
			Msg("notification recipient lookup failed")
		return
	}
	if user.Email == "" {
		return
	}

	start := time.Now()
	err = d.sender.SendOrderUpdateEmail(user.Email, user.Name, job.OrderID, job.Excerpt, job.ThreadURL)
	metrics.NotificationDeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NotificationsFailedTotal.Inc()
		log.Warn().Err(err).
			Int64("order_id", job.OrderID).
			Int64("user_id", job.TargetUserID).
			Msg("notification delivery failed")
		return
	}

	metrics.NotificationsSentTotal.Inc()
	log.Debug().
		Int64("order_id", job.OrderID).
		Int64("event_id", job.EventID).
		Msg("notification sent")
}
