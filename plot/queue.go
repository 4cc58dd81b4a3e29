package plot

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueClosed is returned by Submit once the queue has been closed.
var ErrQueueClosed = errors.New("run queue is closed")

// Runner executes one batch. *Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, readings []TelemetryReading) (*RunResult, error)
}

type runRequest struct {
	ctx      context.Context
	readings []TelemetryReading
	source   string
	reply    chan runReply
}

type runReply struct {
	result *RunResult
	err    error
}

// RunQueue serializes pipeline runs through a single consumer goroutine.
type RunQueue struct {
	runner   Runner
	requests chan runRequest
	onResult func(source string, result *RunResult, err error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunQueue creates a queue with room for capacity waiting batches.
func NewRunQueue(runner Runner, capacity int) *RunQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &RunQueue{
		runner:   runner,
		requests: make(chan runRequest, capacity),
	}
}

// OnResult registers a hook invoked by the consumer after every run.
// Must be set before Start.
func (q *RunQueue) OnResult(fn func(source string, result *RunResult, err error)) {
	q.onResult = fn
}

// Start launches the consumer.
func (q *RunQueue) Start() {
	q.wg.Add(1)
	go q.consume()
}

func (q *RunQueue) consume() {
	defer q.wg.Done()
	for req := range q.requests {
		if err := req.ctx.Err(); err != nil {
			req.reply <- runReply{err: err}
			continue
		}
		result, err := q.runner.Run(req.ctx, req.readings)
		if err != nil {
			log.Printf("[QUEUE] run from %s failed: %v", req.source, err)
		}
		if q.onResult != nil {
			q.onResult(req.source, result, err)
		}
		req.reply <- runReply{result: result, err: err}
	}
}

// Submit enqueues a batch and waits for its result. source names the
// ingestion surface for logging ("http", "mqtt", "cli").
func (q *RunQueue) Submit(ctx context.Context, source string, readings []TelemetryReading) (*RunResult, error) {
	req := runRequest{
		ctx:      ctx,
		readings: readings,
		source:   source,
		reply:    make(chan runReply, 1),
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	select {
	case q.requests <- req:
		q.mu.RUnlock()
	case <-ctx.Done():
		q.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting batches and waits for queued runs to finish.
func (q *RunQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.requests)
	q.mu.Unlock()
	q.wg.Wait()
}
