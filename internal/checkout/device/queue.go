// Package device drives the till peripherals: cash drawer, pole display
// and receipt printer. Every effect runs on a background queue and is
// retried a few times; a failure is logged and counted, never returned to
// the sale. The post-sale backend calls and events share the queue.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/georgemunganga/printa-checkout/internal/logger"
	"github.com/georgemunganga/printa-checkout/internal/metrics"
	"github.com/sourcegraph/conc"
)

// Kind names a peripheral for logs and metrics.
type Kind string

const (
	KindDrawer      Kind = "drawer"
	KindPoleDisplay Kind = "pole_display"
	KindPrinter     Kind = "printer"
	// KindBackend and KindEvents are not peripherals: they label the
	// bookkeeping that follows a synced sale.
	KindBackend Kind = "backend"
	KindEvents  Kind = "events"
)

// Task is one side effect for one device.
type Task struct {
	Device  Kind
	OrderID string
	// Timeout bounds each attempt.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type QueueConfig struct {
	Workers     int
	Size        int
	MaxAttempts int
	// InitialInterval is the first backoff wait; zero means 200ms.
	InitialInterval time.Duration
}

// Queue runs tasks on a fixed set of workers.
type Queue struct {
	cfg     QueueConfig
	tasks   chan Task
	log     *logger.Logger
	metrics *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts the workers. Call Close to drain and stop them.
func NewQueue(cfg QueueConfig, log *logger.Logger, m *metrics.Registry) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg,
		tasks:   make(chan Task, cfg.Size),
		log:     log,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Go(q.work)
	}
	return q
}

// Enqueue hands a task to the workers without blocking. It reports false
// when the queue is full or closed; the task is then dropped.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(t, "queue closed")
		return false
	}
	select {
	case q.tasks <- t:
		return true
	default:
		q.drop(t, "queue full")
		return false
	}
}

// Close stops accepting tasks, lets the workers finish what is queued and
// waits for them. Pending retries are abandoned once ctx is done.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
	}
	q.cancel()
}

func (q *Queue) work() {
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	log := q.log.With("device", t.Device, "order_id", t.OrderID)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.cfg.InitialInterval
	eb.MaxInterval = 10 * q.cfg.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(q.cfg.MaxAttempts-1)), q.ctx)

	attempt := 0
	op := func() error {
		attempt++
		ctx := q.ctx
		if t.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(q.ctx, t.Timeout)
			defer cancel()
		}
		return t.Run(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Debugw("device task failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		log.Warnw("device task failed", "attempts", attempt, "error", err)
		q.count(t.Device, metrics.OutcomeFailed)
		return
	}
	q.count(t.Device, metrics.OutcomeDone)
}

func (q *Queue) drop(t Task, reason string) {
	q.log.Warnw("device task dropped", "device", t.Device, "order_id", t.OrderID, "reason", reason)
	q.count(t.Device, metrics.OutcomeDropped)
}

func (q *Queue) count(d Kind, outcome string) {
	if q.metrics != nil {
		q.metrics.DeviceTasks.WithLabelValues(string(d), outcome).Inc()
	}
}
