package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

type fakeLock struct {
	held    map[string]bool
	foreign map[string]bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}, foreign: map[string]bool{}}
}

func (f *fakeLock) Acquire(_ context.Context, job string) (bool, error) {
	if f.held[job] || f.foreign[job] {
		return false, nil
	}
	f.held[job] = true
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, job string) error {
	delete(f.held, job)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, registry *Registry, lock Lock, clock *manualClock) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	return service
}

func TestRunDueRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	registry := NewRegistry()
	registry.Register(success, time.Hour)
	registry.Register(failure, time.Hour)
	lock := newFakeLock()
	service := newTestService(t, registry, lock, &manualClock{now: time.Now()})

	service.runDue(context.Background())

	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failure.runs)
	assert.Empty(t, lock.held, "locks are released after each job")
}

func TestRunDueHonoursPerJobCadence(t *testing.T) {
	fast := &testJob{name: "reconcile"}
	slow := &testJob{name: "sweep"}
	registry := NewRegistry()
	registry.Register(fast, 5*time.Minute)
	registry.Register(slow, time.Hour)
	clock := &manualClock{now: time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)}
	service := newTestService(t, registry, newFakeLock(), clock)

	for i := 0; i < 13; i++ {
		service.runDue(context.Background())
		clock.now = clock.now.Add(5 * time.Minute)
	}

	assert.Equal(t, 13, fast.runs)
	assert.Equal(t, 2, slow.runs)
}

func TestRunDueSkipsJobsLockedElsewhere(t *testing.T) {
	job := &testJob{name: "sweep"}
	registry := NewRegistry()
	registry.Register(job, time.Minute)
	lock := newFakeLock()
	lock.foreign["sweep"] = true
	service := newTestService(t, registry, lock, &manualClock{now: time.Now()})

	service.runDue(context.Background())

	assert.Zero(t, job.runs)
}
