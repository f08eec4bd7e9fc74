// Package scheduler implements the delayed scheduler: a bounded worker
// pool that executes send tasks immediately or after a delay, using a
// goroutine pool plus per-task timers rather than a dedicated thread per
// pending task.
package scheduler

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Task is a unit of work submitted to the scheduler.
type Task func()

// Scheduler is a bounded worker pool executing Tasks immediately or after
// a delay. The default pool size is 1, matching the router's single
// send-task thread; it is configurable.
type Scheduler struct {
	workers int
	jobs    chan Task

	wg       sync.WaitGroup
	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	shutdownOnce sync.Once
	done         chan struct{}
	log          *log.Entry
}

// New starts a Scheduler with the given worker count (minimum 1).
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		workers: workers,
		jobs:    make(chan Task, 1024),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
		log:     log.WithField("component", "scheduler"),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

// Schedule runs task after delay elapses (immediately if delay <= 0). It
// is safe to call concurrently and safe to call after Shutdown (the task
// is simply dropped).
func (s *Scheduler) Schedule(task Task, delay time.Duration) {
	if delay <= 0 {
		s.submit(task)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.timersMu.Lock()
		delete(s.timers, timer)
		s.timersMu.Unlock()
		s.submit(task)
	})

	s.timersMu.Lock()
	s.timers[timer] = struct{}{}
	s.timersMu.Unlock()
}

func (s *Scheduler) submit(task Task) {
	select {
	case <-s.done:
		s.log.Debug("scheduler shut down, dropping task")
	case s.jobs <- task:
	}
}

// Shutdown cancels pending timers and drains the worker pool. It blocks
// until every in-flight task has returned.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		close(s.done)

		s.timersMu.Lock()
		for t := range s.timers {
			t.Stop()
		}
		s.timers = make(map[*time.Timer]struct{})
		s.timersMu.Unlock()
	})

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		s.log.Warn("scheduler shutdown deadline exceeded waiting for workers to drain")
	}
}
