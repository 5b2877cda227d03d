// Package inbound classifies chat messages and replies to them, one FIFO
// lane per chat with a global cap on parallel classifications.
package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ardian231/notify-wa/internal/types"
)

const laneSize = 100

// Queue gives each chat its own lane so messages from one chat are handled
// in order, while the semaphore limits processing across all chats.
type Queue struct {
	lanes     map[types.ChatKey]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	active    atomic.Int64
	processed atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue running up to maxConcurrent jobs at once.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.ChatKey]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue, closes every lane and waits for running jobs.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for key, lane := range q.lanes {
		close(lane)
		delete(q.lanes, key)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}

// Enqueue adds job to its chat's lane, starting the lane on first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue not running")
	}

	key := job.Message.ChatKey
	lane, exists := q.lanes[key]
	if !exists {
		lane = make(chan *Job, laneSize)
		q.lanes[key] = lane
		q.wg.Add(1)
		go q.processLane(key, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for chat %s", key)
	}
}

func (q *Queue) processLane(key types.ChatKey, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.run(key, job)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) run(key types.ChatKey, job *Job) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	started := time.Now()
	job.StartedAt = &started
	job.Status = JobRunning
	job.Ctx = q.ctx

	err := q.processor(job)

	ended := time.Now()
	job.EndedAt = &ended
	if err != nil {
		job.Status = JobFailed
		job.Err = err
		slog.Error("inbound job failed", "job_id", string(job.ID), "chat", string(key), "error", err)
	} else {
		job.Status = JobComplete
	}
	q.processed.Add(1)
}

// Processed returns how many jobs have finished.
func (q *Queue) Processed() int64 {
	return q.processed.Load()
}

// WaitIdle blocks until no jobs are running, or the timeout expires.
// Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
