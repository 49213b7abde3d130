package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lithammer/shortuuid/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"

	"github.com/fadelink/fadelink/links"
	"github.com/fadelink/fadelink/models"
	"github.com/fadelink/fadelink/store"
)

// Worker drains the durable cleanup queue. A job is acked only after both
// deletes succeed; anything else goes back to the queue for redelivery, so
// cleanup is at-least-once and every step must stay idempotent.
type Worker struct {
	svc    *links.Service
	queue  *store.RabbitQueue
	logger *log.Logger
}

func NewWorker(svc *links.Service, queue *store.RabbitQueue, logger *log.Logger) *Worker {
	return &Worker{svc: svc, queue: queue, logger: logger}
}

// Run consumes until ctx is canceled. Unacked deliveries are redelivered
// once the channel closes, so a crash mid-job loses no work.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.queue.Consume()
	if err != nil {
		return err
	}
	w.logger.Info("cleanup worker waiting for jobs")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	tag := shortuuid.New()
	var job models.CleanupJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		// TODO: cap redeliveries and route persistently failing payloads to
		// an inspection queue.
		w.logger.Error("malformed cleanup job", "job", tag, "err", err)
		_ = d.Nack(false, true)
		return
	}
	if err := w.svc.Cleanup(ctx, job.ID, job.ObjectPath); err != nil {
		w.logger.Warn("cleanup failed, requeueing", "job", tag, "id", job.ID, "err", err)
		_ = d.Nack(false, true)
		return
	}
	w.logger.Info("cleaned up link", "job", tag, "id", job.ID, "path", job.ObjectPath)
	_ = d.Ack(false)
}

// sweepSlack is added on top of the longest validity window before an object
// counts as orphaned, to absorb store clock skew.
const sweepSlack = time.Hour

// Sweeper enqueues cleanup for objects that outlived every validity window.
// That covers objects orphaned by a crash between the object write and the
// metadata write, and records reclaimed by the store TTL with no inline
// cleanup trigger ever firing.
type Sweeper struct {
	objects store.ObjectStore
	queue   store.CleanupQueue
	logger  *log.Logger
	nowFunc func() time.Time
}

func NewSweeper(objects store.ObjectStore, queue store.CleanupQueue, logger *log.Logger) *Sweeper {
	return &Sweeper{objects: objects, queue: queue, logger: logger, nowFunc: time.Now}
}

// Register schedules the hourly sweep on c.
func (s *Sweeper) Register(c *cron.Cron) error {
	_, err := c.AddFunc("@hourly", s.Sweep)
	return err
}

func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := s.nowFunc().Add(-(models.MaxValidity() + sweepSlack))
	keys, err := s.objects.ListOlderThan(ctx, links.ObjectPrefix, cutoff)
	if err != nil {
		s.logger.Error("orphan sweep failed", "err", err)
		return
	}
	for _, key := range keys {
		// No record ID survives for these; the worker skips the metadata
		// delete when ID is empty.
		if err := s.queue.Publish(ctx, models.CleanupJob{ObjectPath: key}); err != nil {
			s.logger.Error("enqueue sweep job failed", "path", key, "err", err)
		}
	}
	if len(keys) > 0 {
		s.logger.Info("swept orphaned objects", "count", len(keys))
	}
}
