package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestScheduleImmediate(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(2)
	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(func() { wg.Done() }, 0)

	waitOrFail(t, &wg, time.Second)
	s.Shutdown(context.Background())
}

func TestScheduleWithDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(1)
	start := time.Now()
	done := make(chan time.Duration, 1)
	s.Schedule(func() { done <- time.Since(start) }, 50*time.Millisecond)

	select {
	case elapsed := <-done:
		if elapsed < 40*time.Millisecond {
			t.Errorf("task ran too early: %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	s.Shutdown(context.Background())
}

func TestShutdownCancelsPendingTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(1)
	ran := false
	s.Schedule(func() { ran = true }, time.Hour)
	s.Shutdown(context.Background())

	if ran {
		t.Error("task scheduled far in the future should not have run")
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for task")
	}
}
