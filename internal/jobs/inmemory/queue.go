package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/txn-harvester/internal/jobs"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

// envelope carries a run through the queue with its retry count.
type envelope struct {
	run     *jobs.CycleRun
	attempt int
}

// Queue is an in-memory implementation of run publisher and consumer.
// It uses Go channels to hand finished runs to a slower durable sink and
// retries failed handler calls with a linear backoff.
type Queue struct {
	runChan    chan *envelope
	closeChan  chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	workers    int
	maxRetries int
	backoff    time.Duration
}

// NewQueue creates a new in-memory run queue.
// bufferSize determines how many runs can be queued before PublishRun blocks.
func NewQueue(bufferSize, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		runChan:    make(chan *envelope, bufferSize),
		closeChan:  make(chan struct{}),
		workers:    workers,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// WithRetry sets the retry budget and the base backoff between attempts.
func (q *Queue) WithRetry(maxRetries int, backoff time.Duration) *Queue {
	q.maxRetries = maxRetries
	q.backoff = backoff
	return q
}

// PublishRun implements the Publisher interface.
func (q *Queue) PublishRun(ctx context.Context, run *jobs.CycleRun) error {
	runCopy := *run
	return q.enqueue(ctx, &envelope{run: &runCopy})
}

func (q *Queue) enqueue(ctx context.Context, env *envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	// Enqueue with context cancellation support
	select {
	case q.runChan <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
func (q *Queue) Start(ctx context.Context, handler jobs.RunHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes runs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.RunHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			q.drain(ctx, handler)
			return
		case env := <-q.runChan:
			if env == nil {
				return
			}
			q.process(ctx, env, handler, true)
		}
	}
}

// drain hands every run still buffered at Stop to the handler once.
func (q *Queue) drain(ctx context.Context, handler jobs.RunHandler) {
	for {
		select {
		case env := <-q.runChan:
			if env == nil {
				return
			}
			q.process(ctx, env, handler, false)
		default:
			return
		}
	}
}

// process executes the handler for one run and, when retry is set,
// schedules another attempt on failure.
func (q *Queue) process(ctx context.Context, env *envelope, handler jobs.RunHandler, retry bool) {
	log := logger.FromContext(ctx)

	err := handler(ctx, env.run)
	if err == nil {
		return
	}

	if !retry || env.attempt >= q.maxRetries {
		log.Error().
			Err(err).
			Str("run_id", env.run.RunID).
			Int("attempts", env.attempt+1).
			Msg("Giving up on persisting cycle run")
		return
	}

	env.attempt++
	backoff := time.Duration(env.attempt) * q.backoff
	log.Warn().
		Err(err).
		Str("run_id", env.run.RunID).
		Dur("backoff", backoff).
		Msg("Persisting cycle run failed, retrying")

	time.AfterFunc(backoff, func() {
		if err := q.enqueue(ctx, env); err != nil {
			log.Error().
				Err(err).
				Str("run_id", env.run.RunID).
				Int("attempts", env.attempt).
				Msg("Could not requeue cycle run, dropping it")
		}
	})
}

// Stop implements the Consumer interface.
// It stops the queue, hands buffered runs to the handler and waits for the
// workers to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
