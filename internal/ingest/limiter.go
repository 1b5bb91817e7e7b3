package ingest

// limiter.go bounds how many records are processed at once.
//
// The limiter is a semaphore sized to the worker count. The orchestrator
// acquires a slot before starting each record, so at most that many stage
// calls (and therefore database connections and map server requests) are in
// flight. WaitForDrain supports graceful shutdown.

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// DefaultWorkers returns the pool size for parallel runs: the CPU count minus
// one, never below one.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// WorkerLimiter controls concurrent record processing using a semaphore.
type WorkerLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
	done   int
}

// NewWorkerLimiter creates a limiter that allows at most workers concurrent
// records. A non-positive value uses DefaultWorkers.
func NewWorkerLimiter(workers int) *WorkerLimiter {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &WorkerLimiter{
		semaphore: make(chan struct{}, workers),
	}
}

// Acquire blocks until a slot is free or ctx is done.
// The caller MUST call Release() when the record completes (use defer).
func (l *WorkerLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *WorkerLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (l *WorkerLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.done++
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of records currently being processed.
func (l *WorkerLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Workers returns the maximum number of concurrent records.
func (l *WorkerLimiter) Workers() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until no record is in flight or ctx is done.
func (l *WorkerLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter state.
type LimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Workers   int `json:"workers"`
	Completed int `json:"completed"`
}

// Status returns the current limiter state for monitoring.
func (l *WorkerLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active, done := l.active, l.done
	l.mu.RUnlock()

	return LimiterStatus{
		Active:    active,
		Available: cap(l.semaphore) - len(l.semaphore),
		Workers:   cap(l.semaphore),
		Completed: done,
	}
}
