package taskqueue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"
)

// Task expiration time
var TaskExpirationTime = 4 * time.Hour

// DefaultMaxRetries bounds retries of tasks created without an explicit backoff.
const DefaultMaxRetries = 10

// ErrTaskExpired is returned when a task has expired
var ErrTaskExpired = errors.New("task expired")

// AnyTask is an interface for tasks that can be executed
type AnyTask interface {
	Execute() error
	ShouldRetry(error) bool
	IsExpired() bool
	// NextDelay returns the wait before the next attempt, or backoff.Stop.
	NextDelay() time.Duration
}

// Task is a generic implementation of AnyTask
type Task[T any] struct {
	ExecuteFunc func() (T, error)
	Callback    func(T, error)
	RetryIf     func(error) bool
	Backoff     backoff.BackOff
	CreatedAt   time.Time
	TTL         time.Duration
}

// NewTask creates a task that is retried, immediately and at most
// DefaultMaxRetries times, whenever retryIf accepts its error. A nil retryIf
// never retries.
func NewTask[T any](
	executeFunc func() (T, error),
	callback func(T, error),
	retryIf func(error) bool,
) Task[T] {
	return Task[T]{
		ExecuteFunc: executeFunc,
		Callback:    callback,
		RetryIf:     retryIf,
		Backoff:     backoff.WithMaxRetries(&backoff.ZeroBackOff{}, DefaultMaxRetries),
		CreatedAt:   time.Now(),
		TTL:         TaskExpirationTime,
	}
}

// RetryOn retries when the error wraps target.
func RetryOn(target error) func(error) bool {
	if target == nil {
		return nil
	}
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// WithBackoff replaces the retry schedule.
func (t Task[T]) WithBackoff(b backoff.BackOff) Task[T] {
	t.Backoff = b
	return t
}

// Execute executes the task and calls the callback with the result
func (t Task[T]) Execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task execution: %v", r)
		}
	}()

	// Check if the task has expired
	if t.IsExpired() {
		return ErrTaskExpired
	}

	result, err := t.ExecuteFunc()
	t.Callback(result, err)
	return err
}

// ShouldRetry reports whether err is worth another attempt
func (t Task[T]) ShouldRetry(err error) bool {
	return t.RetryIf != nil && t.RetryIf(err)
}

// IsExpired returns true if the task was created more than TTL ago
func (t Task[T]) IsExpired() bool {
	return time.Since(t.CreatedAt) > t.TTL
}

func (t Task[T]) NextDelay() time.Duration {
	if t.Backoff == nil {
		return backoff.Stop
	}
	return t.Backoff.NextBackOff()
}

// Queue runs tasks on a bounded worker pool and resubmits retryable
// failures after their backoff delay.
type Queue struct {
	pool *workerpool.WorkerPool
	wg   sync.WaitGroup

	// mu keeps Submit from racing the pool shutdown in Close.
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue with the given number of workers. A single
// worker executes tasks sequentially.
func NewQueue(workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		pool: workerpool.New(workers),
	}
}

// Add adds a task to the queue. Tasks added after Close are dropped.
func (q *Queue) Add(task AnyTask) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return
	}
	q.wg.Add(1)
	q.pool.Submit(func() {
		q.processTask(task)
	})
}

// processTask processes a task and schedules a retry if necessary
func (q *Queue) processTask(task AnyTask) {
	defer q.wg.Done()

	// Skip expired tasks
	if task.IsExpired() {
		return
	}

	err := task.Execute()
	if err == nil || errors.Is(err, ErrTaskExpired) || !task.ShouldRetry(err) {
		return
	}

	delay := task.NextDelay()
	if delay == backoff.Stop {
		log.WithError(err).Warn("task retries exhausted")
		return
	}

	q.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.Add(task)
	})
}

// Wait waits for all tasks, including scheduled retries, to complete
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks and waits for the ones already queued.
// Pending retries are dropped when their timer fires.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.pool.StopWait()
}
