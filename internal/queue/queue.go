package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("queue closed")
var ErrQueueFull = errors.New("queue full")

// TaskFunc is one unit of background work. It receives the queue's run
// context, not the submitter's: the submitting request returns immediately
// while the work keeps going.
type TaskFunc func(ctx context.Context) error

// FailFunc is invoked once when a task has exhausted its attempts. It runs
// on the worker goroutine with the last error.
type FailFunc func(ctx context.Context, err error)

type task struct {
	name   string
	fn     TaskFunc
	onFail FailFunc
}

type Config struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	BaseDelay   time.Duration
}

// Queue is an in-process worker pool with bounded retries and exponential
// backoff. Failures after the final attempt are logged and dropped here;
// tasks that need durable failure state record it themselves (the ingest
// pipeline writes its error into the IngestionRecord).
type Queue struct {
	cfg    Config
	tasks  chan task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func New(cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Queue{
		cfg:   cfg,
		tasks: make(chan task, cfg.Buffer),
	}
}

func (q *Queue) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop drains queued tasks and waits for in-flight work to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
	if q.cancel != nil {
		q.cancel()
	}
}

// Submit enqueues a named task. It never blocks the caller: a full buffer
// is reported as an error instead.
func (q *Queue) Submit(name string, fn TaskFunc) error {
	return q.SubmitTracked(name, fn, nil)
}

// SubmitTracked is Submit with a callback fired after the final failed
// attempt, so callers can persist the failure somewhere durable.
func (q *Queue) SubmitTracked(name string, fn TaskFunc, onFail FailFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task{name: name, fn: fn, onFail: onFail}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	logger := logutil.GetLogger(q.ctx).With(zap.String("task", t.name))
	delay := q.cfg.BaseDelay
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := t.fn(q.ctx)
		if err == nil {
			logger.Debug("task finished", zap.Int("attempt", attempt), zap.Duration("duration", time.Since(start)))
			return
		}
		if attempt == q.cfg.MaxAttempts {
			logger.Error("task failed, attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
			if t.onFail != nil {
				t.onFail(q.ctx, err)
			}
			return
		}
		logger.Warn("task failed, will retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			return
		}
		delay *= 2
	}
}
