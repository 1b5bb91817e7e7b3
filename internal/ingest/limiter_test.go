package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerLimiter_AcquireRelease(t *testing.T) {
	limiter := NewWorkerLimiter(2)
	ctx := context.Background()

	if got := limiter.Status().Available; got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if limiter.TryAcquire() {
		t.Error("TryAcquire should fail when full")
	}

	limiter.Release()
	limiter.Release()

	st := limiter.Status()
	if st.Active != 0 || st.Available != 2 || st.Completed != 2 {
		t.Errorf("Status = %+v", st)
	}
}

func TestWorkerLimiter_AcquireCancelled(t *testing.T) {
	limiter := NewWorkerLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestWorkerLimiter_ConcurrentAccess(t *testing.T) {
	const workers = 3
	const total = 12

	limiter := NewWorkerLimiter(workers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			if c := limiter.ActiveCount(); c > maxObserved {
				maxObserved = c
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > workers {
		t.Errorf("observed %d concurrent, limit %d", maxObserved, workers)
	}
	if limiter.Status().Completed != total {
		t.Errorf("Completed = %d, want %d", limiter.Status().Completed, total)
	}
}

func TestWorkerLimiter_WaitForDrain(t *testing.T) {
	limiter := NewWorkerLimiter(2)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain: %v", err)
	}
}

func TestDefaultWorkers(t *testing.T) {
	if DefaultWorkers() < 1 {
		t.Error("DefaultWorkers must be at least one")
	}
	if NewWorkerLimiter(0).Workers() != DefaultWorkers() {
		t.Error("zero workers should use DefaultWorkers")
	}
}
