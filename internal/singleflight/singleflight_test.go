package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCoalescesConcurrentCalls(t *testing.T) {
	g := New()
	var executions int32
	start := make(chan struct{})

	const workers = 10
	results := make([]interface{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			v, err := g.Do(context.Background(), "key", func() (interface{}, error) {
				atomic.AddInt32(&executions, 1)
				time.Sleep(30 * time.Millisecond)
				return "shared", nil
			})
			if err != nil {
				t.Errorf("Do() error: %v", err)
			}
			results[n] = v
		}(i)
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 1 {
		t.Errorf("expected 1 execution, got %d", got)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("worker %d got %v", i, v)
		}
	}
}

func TestDoNeverReplaysCompletedResults(t *testing.T) {
	g := New()
	var executions int32
	fn := func() (interface{}, error) {
		return atomic.AddInt32(&executions, 1), nil
	}

	first, _ := g.Do(context.Background(), "key", fn)
	second, _ := g.Do(context.Background(), "key", fn)

	if first == second {
		t.Error("sequential calls must each execute; completed results are single-use")
	}
	if got := atomic.LoadInt32(&executions); got != 2 {
		t.Errorf("expected 2 executions, got %d", got)
	}
}

func TestDoPropagatesErrorToAllWaiters(t *testing.T) {
	g := New()
	wantErr := errors.New("issuance failed")
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := g.Do(context.Background(), "key", func() (interface{}, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, wantErr
			})
			if !errors.Is(err, wantErr) {
				t.Errorf("Do() error = %v, want %v", err, wantErr)
			}
		}()
	}
	close(start)
	wg.Wait()
}

func TestDoWaiterHonorsContext(t *testing.T) {
	g := New()
	ownerRunning := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = g.Do(context.Background(), "key", func() (interface{}, error) {
			close(ownerRunning)
			<-release
			return "late", nil
		})
	}()
	<-ownerRunning

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Do(ctx, "key", func() (interface{}, error) {
		t.Error("waiter must not execute fn")
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestDoDistinctKeysRunIndependently(t *testing.T) {
	g := New()
	var executions int32
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _ = g.Do(context.Background(), k, func() (interface{}, error) {
				atomic.AddInt32(&executions, 1)
				time.Sleep(20 * time.Millisecond)
				return k, nil
			})
		}(key)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&executions); got != 3 {
		t.Errorf("expected 3 executions, got %d", got)
	}
}

func TestForgetAllowsFreshExecution(t *testing.T) {
	g := New()
	ownerRunning := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = g.Do(context.Background(), "key", func() (interface{}, error) {
			close(ownerRunning)
			<-release
			return "old", nil
		})
	}()
	<-ownerRunning

	g.Forget("key")

	v, err := g.Do(context.Background(), "key", func() (interface{}, error) {
		return "new", nil
	})
	close(release)
	if err != nil || v != "new" {
		t.Errorf("Do() after Forget = %v, %v", v, err)
	}
}
