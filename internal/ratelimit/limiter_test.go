package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSlidingWindow_ThirdAcquireWaitsForWindow(t *testing.T) {
	l := NewSlidingWindow(2, time.Second)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	done := make([]time.Duration, 3)
	for i := range 3 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire: %v", err)
			}
			done[i] = time.Since(start)
		}(i)
	}
	wg.Wait()

	fast, slow := 0, 0
	for _, d := range done {
		if d < 500*time.Millisecond {
			fast++
		} else if d >= 950*time.Millisecond {
			slow++
		}
	}
	if fast != 2 || slow != 1 {
		t.Errorf("completion times = %v, want two immediate and one after ~1s", done)
	}
}

func TestSlidingWindow_WaitingCount(t *testing.T) {
	l := NewSlidingWindow(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- l.Acquire(ctx) }()

	deadline := time.Now().Add(time.Second)
	for l.Waiting() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Waiting() != 1 {
		t.Fatalf("Waiting() = %d, want 1", l.Waiting())
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if l.Waiting() != 0 {
		t.Errorf("Waiting() after cancel = %d, want 0", l.Waiting())
	}
}

func TestSlidingWindow_Reset(t *testing.T) {
	l := NewSlidingWindow(1, time.Hour)
	ctx := context.Background()
	l.Acquire(ctx)
	l.Reset()

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire after Reset: %v", err)
	}
}

func TestSlidingWindow_PrunesExpired(t *testing.T) {
	l := NewSlidingWindow(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, ok := l.tryAcquire(); !ok {
		t.Fatal("first acquire refused")
	}
	now = now.Add(30 * time.Second)
	wait, ok := l.tryAcquire()
	if ok {
		t.Fatal("second acquire admitted inside the window")
	}
	if wait != 30*time.Second {
		t.Errorf("wait = %s, want exact remaining lifetime 30s", wait)
	}
	now = now.Add(30 * time.Second)
	if _, ok := l.tryAcquire(); !ok {
		t.Error("acquire refused after the oldest stamp expired")
	}
}
