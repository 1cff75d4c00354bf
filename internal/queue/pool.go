package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
)

// TaskHandler processes one delivery. A nil return acks the delivery; an
// error leaves it in the queue for redelivery after the visibility timeout.
type TaskHandler func(ctx context.Context, delivery *Delivery) error

// Pool polls the broker with a fixed set of workers and hands deliveries to
// the registered handler. Each worker hosts at most one running job.
type Pool struct {
	broker       *Broker
	handler      TaskHandler
	concurrency  int
	pollInterval time.Duration
	heartbeat    time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewPool creates a worker pool over the broker. The heartbeat interval is
// derived from the broker's visibility timeout so a healthy long-running job
// is never redelivered mid-flight.
func NewPool(broker *Broker, handler TaskHandler, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		broker:       broker,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		heartbeat:    broker.visibilityTimeout / 2,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info().
		Int("concurrency", p.concurrency).
		Str("poll_interval", p.pollInterval.String()).
		Msg("Starting job worker pool")

	for i := 0; i < p.concurrency; i++ {
		workerID := i
		common.SafeGo(p.logger, "queue-worker", func() {
			p.worker(workerID)
		})
	}
}

// Stop signals all workers to finish their current delivery and exit. It
// does not wait for running jobs; the supervisor handles its own shutdown.
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping job worker pool")
	p.cancel()
}

func (p *Pool) worker(workerID int) {
	// Stagger startup so workers do not contend on the same badger keys.
	stagger := (p.pollInterval / time.Duration(p.concurrency)) * time.Duration(workerID)
	select {
	case <-time.After(stagger):
	case <-p.ctx.Done():
		return
	}

	p.logger.Debug().Int("worker_id", workerID).Msg("Queue worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Queue worker stopped")
			return
		case <-ticker.C:
			if err := p.poll(workerID); err != nil && !errors.Is(err, ErrNoMessage) {
				p.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing delivery")
			}
		}
	}
}

func (p *Pool) poll(workerID int) error {
	delivery, err := p.broker.Receive(p.ctx)
	if err != nil {
		return err
	}

	p.logger.Debug().
		Str("job_id", delivery.Task.JobID).
		Str("task_handle", delivery.Handle).
		Int("receive_count", delivery.ReceiveCount).
		Int("worker_id", workerID).
		Msg("Delivery received")

	// Keep the delivery invisible while the handler runs.
	hbCtx, stopHeartbeat := context.WithCancel(p.ctx)
	common.SafeGo(p.logger, "delivery-heartbeat", func() {
		p.extendLoop(hbCtx, delivery)
	})

	handlerErr := p.handler(p.ctx, delivery)
	stopHeartbeat()

	if handlerErr != nil {
		// Leave the delivery unacked; it reappears after the visibility
		// timeout, up to the broker's max receive count.
		return handlerErr
	}

	if err := delivery.Ack(); err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", delivery.Task.JobID).
			Msg("Failed to ack delivery; job row is terminal so redelivery is a no-op")
	}
	return nil
}

func (p *Pool) extendLoop(ctx context.Context, delivery *Delivery) {
	if p.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := delivery.Extend(p.broker.visibilityTimeout); err != nil {
				p.logger.Debug().
					Err(err).
					Str("task_handle", delivery.Handle).
					Msg("Failed to extend delivery visibility")
				return
			}
		}
	}
}
