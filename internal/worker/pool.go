/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Job is a unit of background work. Name is only used for logging.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue. Jobs can also be
// scheduled to enter the queue after a delay.
type Pool struct {
	workers int
	timeout time.Duration
	onError func(Job, error)

	ch      chan Job
	wg      sync.WaitGroup
	pending sync.WaitGroup
	once    sync.Once

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Job, n)
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithErrorHandler is called for every job that returns an error or panics.
func WithErrorHandler(fn func(Job, error)) Option {
	return func(p *Pool) {
		p.onError = fn
	}
}

func NewPool(opts ...Option) *Pool {
	p := &Pool{
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
		timers:  make(map[*time.Timer]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				logrus.WithField("worker_id", workerID).Debug("worker started")

				for job := range p.ch {
					p.run(workerID, job)
				}

				logrus.WithField("worker_id", workerID).Debug("worker stopped")
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, job Job) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return job.Run(ctx)
	}()

	if err != nil {
		logrus.WithFields(logrus.Fields{"worker_id": workerID, "job": job.Name}).WithError(err).Error("job failed")
		if p.onError != nil {
			p.onError(job, err)
		}
	}
}

// Submit queues job without blocking. A full queue is reported as ErrQueueFull.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	select {
	case p.ch <- job:
		return nil
	default:
		p.pending.Done()
		logrus.WithField("job", job.Name).Warn("queue full, rejecting job")
		return ErrQueueFull
	}
}

// SubmitAfter queues job once delay has elapsed. Timers still waiting at Shutdown are dropped.
func (p *Pool) SubmitAfter(delay time.Duration, job Job) error {
	if delay <= 0 {
		return p.Submit(job)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer p.pending.Done()

		p.mu.Lock()
		delete(p.timers, timer)
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		if err := p.Submit(job); err != nil {
			logrus.WithField("job", job.Name).WithError(err).Error("delayed job could not be queued")
			if p.onError != nil {
				p.onError(job, err)
			}
		}
	})
	p.timers[timer] = struct{}{}
	return nil
}

// Wait blocks until every submitted and scheduled job has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Shutdown stops accepting jobs, drops pending timers and waits for queued jobs to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for t := range p.timers {
		if t.Stop() {
			p.pending.Done()
		}
		delete(p.timers, t)
	}
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		logrus.Warn("worker pool shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		logrus.Info("worker pool drained, shutdown complete")
		return nil
	}
}
