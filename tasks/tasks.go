// Copyright 2025 The tron-shkeeper Authors
// This file is part of tron-shkeeper.
//
// tron-shkeeper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tron-shkeeper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tron-shkeeper. If not, see <http://www.gnu.org/licenses/>.

// Package tasks is a small in-process job scheduler: long-running operations
// (sweeps, payouts, AML checks) run on a bounded worker pool, callers poll
// results by task id. A job already in flight is not started twice.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Task result lifecycle.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Job is one unit of work. Name and Args identify the job for deduplication:
// only one job with a given identity runs at a time.
type Job struct {
	Name string
	Args []string
	Run  func(ctx context.Context) (any, error)
}

func (j Job) key() string {
	return j.Name + "|" + strings.Join(j.Args, "|")
}

// Result is the observable state of a submitted job.
type Result struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type queued struct {
	id  string
	job Job
}

// Settled results stay pollable for retention, then are evicted on the next
// submission. maxResults hard-caps the store against poll-free submitters.
const (
	resultRetention = time.Hour
	maxResults      = 4096
)

// Scheduler runs submitted jobs on a fixed pool of workers.
type Scheduler struct {
	queue chan queued
	log   log.Logger

	mu        sync.Mutex
	results   map[string]*Result
	inflight  map[string]bool
	retention time.Duration
}

// NewScheduler builds a scheduler with the given worker count.
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		queue:     make(chan queued, workers*16),
		log:       log.New("module", "tasks"),
		results:   make(map[string]*Result),
		inflight:  make(map[string]bool),
		retention: resultRetention,
	}
}

// evict drops settled results past retention, then the oldest settled ones
// while the store is over its cap. Caller holds mu. Pending and running
// results are never evicted.
func (s *Scheduler) evict(now time.Time) {
	for id, res := range s.results {
		if res.Status == StatusPending || res.Status == StatusRunning {
			continue
		}
		if now.Sub(res.FinishedAt) > s.retention {
			delete(s.results, id)
		}
	}
	for len(s.results) > maxResults {
		var oldestID string
		var oldest time.Time
		for id, res := range s.results {
			if res.Status == StatusPending || res.Status == StatusRunning {
				continue
			}
			if oldestID == "" || res.FinishedAt.Before(oldest) {
				oldestID, oldest = id, res.FinishedAt
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.results, oldestID)
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		go s.worker(ctx)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-s.queue:
			s.run(ctx, q)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, q queued) {
	s.mu.Lock()
	s.results[q.id].Status = StatusRunning
	s.mu.Unlock()

	value, err := q.job.Run(ctx)

	s.mu.Lock()
	res := s.results[q.id]
	res.FinishedAt = time.Now()
	if err != nil {
		res.Status = StatusError
		res.Error = err.Error()
	} else {
		res.Status = StatusSuccess
		res.Result = value
	}
	delete(s.inflight, q.job.key())
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Task failed", "name", q.job.Name, "args", q.job.Args, "id", q.id, "err", err)
	} else {
		s.log.Debug("Task finished", "name", q.job.Name, "id", q.id)
	}
}

// Submit queues a job and returns its task id. If a job with the same
// identity is already queued or running, a skipped result is recorded
// instead.
func (s *Scheduler) Submit(job Job) string {
	id := uuid.NewString()
	now := time.Now()

	s.mu.Lock()
	s.evict(now)
	if s.inflight[job.key()] {
		s.results[id] = &Result{
			ID: id, Name: job.Name, Status: StatusSkipped,
			Error:     fmt.Sprintf("skipped: %s is already running", job.Name),
			CreatedAt: now, FinishedAt: now,
		}
		s.mu.Unlock()
		s.log.Debug("Task skipped, already running", "name", job.Name, "args", job.Args)
		return id
	}
	s.inflight[job.key()] = true
	s.results[id] = &Result{ID: id, Name: job.Name, Status: StatusPending, CreatedAt: now}
	s.mu.Unlock()

	s.queue <- queued{id: id, job: job}
	return id
}

// SubmitAfter queues a job after a delay. The task id is issued immediately;
// deduplication applies when the delay fires.
func (s *Scheduler) SubmitAfter(ctx context.Context, delay time.Duration, job Job) string {
	id := uuid.NewString()
	now := time.Now()
	s.mu.Lock()
	s.evict(now)
	s.results[id] = &Result{ID: id, Name: job.Name, Status: StatusPending, CreatedAt: now}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.inflight[job.key()] {
			res := s.results[id]
			res.Status = StatusSkipped
			res.Error = fmt.Sprintf("skipped: %s is already running", job.Name)
			res.FinishedAt = time.Now()
			s.mu.Unlock()
			return
		}
		s.inflight[job.key()] = true
		s.mu.Unlock()
		s.queue <- queued{id: id, job: job}
	}()
	return id
}

// Periodic submits the job on every tick until ctx is cancelled. Ticks that
// land while the previous run is still active are deduplicated away.
func (s *Scheduler) Periodic(ctx context.Context, interval time.Duration, job Job) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Submit(job)
		}
	}
}

// Result returns the state of a task.
func (s *Scheduler) Result(id string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[id]
	if !ok {
		return Result{}, false
	}
	return *res, true
}
