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

package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, s *Scheduler, id string, status string) Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if res, ok := s.Result(id); ok && res.Status == status {
			return res
		}
		time.Sleep(10 * time.Millisecond)
	}
	res, _ := s.Result(id)
	t.Fatalf("task %s never reached %s, last state %+v", id, status, res)
	return Result{}
}

func TestSubmitAndResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(2)
	s.Start(ctx, 2)

	id := s.Submit(Job{
		Name: "sweep",
		Args: []string{"TRX"},
		Run:  func(context.Context) (any, error) { return "done", nil },
	})
	res := waitFor(t, s, id, StatusSuccess)
	assert.Equal(t, "done", res.Result)
	assert.False(t, res.FinishedAt.IsZero())

	_, ok := s.Result("no-such-id")
	assert.False(t, ok)
}

func TestSubmitError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(1)
	s.Start(ctx, 1)

	id := s.Submit(Job{
		Name: "payout",
		Run:  func(context.Context) (any, error) { return nil, errors.New("node unreachable") },
	})
	res := waitFor(t, s, id, StatusError)
	assert.Contains(t, res.Error, "node unreachable")
}

func TestDuplicateJobIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(2)
	s.Start(ctx, 2)

	release := make(chan struct{})
	var runs atomic.Int32
	job := Job{
		Name: "sweep",
		Args: []string{"USDT"},
		Run: func(context.Context) (any, error) {
			runs.Add(1)
			<-release
			return nil, nil
		},
	}

	first := s.Submit(job)
	waitFor(t, s, first, StatusRunning)

	second := s.Submit(job)
	res := waitFor(t, s, second, StatusSkipped)
	assert.Contains(t, res.Error, "already running")

	// A job with different args is a different identity.
	other := job
	other.Args = []string{"TRX"}
	otherRelease := make(chan struct{})
	other.Run = func(context.Context) (any, error) { close(otherRelease); return nil, nil }
	third := s.Submit(other)
	waitFor(t, s, third, StatusSuccess)

	close(release)
	waitFor(t, s, first, StatusSuccess)
	assert.Equal(t, int32(1), runs.Load())

	// Once finished, the identity can run again.
	release = make(chan struct{})
	close(release)
	fourth := s.Submit(Job{
		Name: "sweep",
		Args: []string{"USDT"},
		Run:  func(context.Context) (any, error) { return nil, nil },
	})
	waitFor(t, s, fourth, StatusSuccess)
}

func TestSettledResultsAreEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(1)
	s.Start(ctx, 1)

	first := s.Submit(Job{
		Name: "sweep",
		Args: []string{"TRX"},
		Run:  func(context.Context) (any, error) { return nil, nil },
	})
	waitFor(t, s, first, StatusSuccess)

	// Age the settled result past retention; the next submission evicts it.
	s.mu.Lock()
	s.results[first].FinishedAt = time.Now().Add(-2 * resultRetention)
	s.mu.Unlock()

	second := s.Submit(Job{
		Name: "sweep",
		Args: []string{"USDT"},
		Run:  func(context.Context) (any, error) { return nil, nil },
	})
	waitFor(t, s, second, StatusSuccess)

	_, ok := s.Result(first)
	assert.False(t, ok)
	_, ok = s.Result(second)
	assert.True(t, ok)
}

func TestEvictionSparesUnsettledResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(2)
	s.Start(ctx, 2)

	release := make(chan struct{})
	running := s.Submit(Job{
		Name: "payout",
		Run: func(context.Context) (any, error) {
			<-release
			return nil, nil
		},
	})
	waitFor(t, s, running, StatusRunning)

	// An eviction pass while the job runs must not touch its result.
	s.mu.Lock()
	s.evict(time.Now().Add(2 * resultRetention))
	s.mu.Unlock()

	_, ok := s.Result(running)
	require.True(t, ok)

	close(release)
	waitFor(t, s, running, StatusSuccess)
}

func TestSubmitAfter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(1)
	s.Start(ctx, 1)

	start := time.Now()
	id := s.SubmitAfter(ctx, 50*time.Millisecond, Job{
		Name: "aml-check",
		Args: []string{"feedface"},
		Run:  func(context.Context) (any, error) { return nil, nil },
	})

	res, ok := s.Result(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, res.Status)

	waitFor(t, s, id, StatusSuccess)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
