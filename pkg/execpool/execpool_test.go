package execpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lockstep/pkg/logx"
)

func TestDoBoundsParallelism(t *testing.T) {
	t.Parallel()
	p := New(2, logx.Logger{})

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	fn := func() error {
		mu.Lock()
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inside--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Do(context.Background(), fn); err != nil {
				t.Errorf("Do error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Fatalf("observed %d concurrent runs, want <= 2", maxSeen)
	}
}

func TestDoPropagatesError(t *testing.T) {
	t.Parallel()
	p := New(1, logx.Logger{})
	boom := errors.New("boom")
	if err := p.Do(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do = %v, want boom", err)
	}
}

func TestDoAcquireHonorsContext(t *testing.T) {
	t.Parallel()
	p := New(1, logx.Logger{})

	block := make(chan struct{})
	go func() { _ = p.Do(context.Background(), func() error { <-block; return nil }) }()

	// Let the first call take the slot.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func() error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do = %v, want DeadlineExceeded", err)
	}
	close(block)
}

func TestStartedWorkRunsToCompletion(t *testing.T) {
	t.Parallel()
	p := New(1, logx.Logger{})

	var completed atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	errc := p.Go(ctx, func() error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		completed.Store(true)
		return nil
	})

	<-started
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Go = %v, want Canceled for the waiter", err)
	}
	// The function itself keeps running after the waiter gave up.
	time.Sleep(50 * time.Millisecond)
	if !completed.Load() {
		t.Fatal("started function did not run to completion")
	}
}

func TestCall(t *testing.T) {
	t.Parallel()
	p := New(1, logx.Logger{})

	v, err := Call(context.Background(), p, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Call = (%d, %v), want (42, nil)", v, err)
	}

	boom := errors.New("boom")
	v, err = Call(context.Background(), p, func() (int, error) { return 7, boom })
	if !errors.Is(err, boom) || v != 0 {
		t.Fatalf("Call = (%d, %v), want (0, boom)", v, err)
	}
}
