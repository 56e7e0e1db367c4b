package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one job. A nil return acknowledges the job; an error
// reschedules it with backoff until the attempt budget runs out.
type HandlerFunc func(ctx context.Context, job Job) error

// Worker pulls jobs from one queue and dispatches them by name.
type Worker struct {
	q           *Queue
	log         *zap.Logger
	handlers    map[string]HandlerFunc
	concurrency int
	maxAttempts int
	backoffBase time.Duration
}

type WorkerOption func(*Worker)

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) { w.concurrency = n }
}

func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) { w.maxAttempts = n }
}

func NewWorker(q *Queue, log *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		q:           q,
		log:         log,
		handlers:    make(map[string]HandlerFunc),
		concurrency: 4,
		maxAttempts: 5,
		backoffBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers the handler for a job name. Must be called before Run.
func (w *Worker) Handle(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run processes jobs until ctx is cancelled. It owns a promotion sweep for
// delayed jobs, a reclaimer for jobs whose consumer died mid-flight, and a
// pool of consumers.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if _, err := w.q.promote(ctx); err != nil && ctx.Err() == nil {
					w.log.Warn("delayed job promotion failed", zap.Error(err))
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(activeLeaseTTL / 2)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				n, err := w.q.reclaim(ctx)
				if err != nil && ctx.Err() == nil {
					w.log.Warn("active job reclaim failed", zap.Error(err))
				}
				if n > 0 {
					w.log.Warn("redelivered stalled jobs",
						zap.String("queue", w.q.name), zap.Int("count", n))
				}
			}
		}
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := w.q.dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	err := w.dispatch(ctx, *job)
	if err == nil {
		w.q.finish(ctx, job)
		if job.Repeat > 0 {
			_, err := w.q.Enqueue(ctx, job.Name, job.Payload, Options{
				Delay:       job.Repeat,
				UniqueID:    job.UniqueID,
				RepeatEvery: job.Repeat,
			})
			if err != nil {
				w.log.Warn("repeat re-enqueue failed",
					zap.String("name", job.Name), zap.Error(err))
			}
		}
		return
	}

	if job.Attempts+1 >= w.maxAttempts {
		w.log.Error("job failed terminally",
			zap.String("queue", w.q.name),
			zap.String("name", job.Name),
			zap.String("job", job.ID),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(err))
		w.q.finish(ctx, job)
		return
	}

	delay := w.backoffBase << uint(job.Attempts)
	w.log.Warn("job failed, retrying",
		zap.String("queue", w.q.name),
		zap.String("name", job.Name),
		zap.String("job", job.ID),
		zap.Int("attempt", job.Attempts+1),
		zap.Duration("delay", delay),
		zap.Error(err))
	w.q.retry(ctx, job, delay)
}

func (w *Worker) dispatch(ctx context.Context, job Job) error {
	fn, ok := w.handlers[job.Name]
	if !ok {
		return fmt.Errorf("no handler for job %q", job.Name)
	}
	return fn(ctx, job)
}
