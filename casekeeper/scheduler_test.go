package casekeeper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJob(t *testing.T) {
	s := newJobScheduler(testLogger(t))

	done := make(chan struct{})
	s.Schedule(
		"job-1", time.Now().Add(10*time.Millisecond), func() {
			close(done)
		},
	)
	assert.Equal(t, 1, s.Len())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	// the job removes itself once it fires
	assert.Eventually(
		t, func() bool {
			return s.Len() == 0
		}, time.Second, 10*time.Millisecond,
	)
}

func TestSchedulerOneJobPerID(t *testing.T) {
	s := newJobScheduler(testLogger(t))
	t.Cleanup(s.StopAll)

	var runs atomic.Int64
	far := time.Now().Add(30 * time.Millisecond)
	farther := time.Now().Add(60 * time.Millisecond)

	s.Schedule(
		"channel-1", far, func() {
			runs.Add(1)
		},
	)
	// same ID: the pending job moves, it doesn't double up
	s.Schedule(
		"channel-1", farther, func() {
			runs.Add(1)
		},
	)
	assert.Equal(t, 1, s.Len())

	runAt, ok := s.NextRun("channel-1")
	require.True(t, ok)
	assert.Equal(t, farther, runAt)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
}

func TestSchedulerReschedulePushesBack(t *testing.T) {
	s := newJobScheduler(testLogger(t))
	t.Cleanup(s.StopAll)

	first := time.Now().Add(time.Hour)
	second := time.Now().Add(2 * time.Hour)

	s.Schedule("job", first, func() {})
	runAt, ok := s.NextRun("job")
	require.True(t, ok)
	assert.Equal(t, first, runAt)

	s.Schedule("job", second, func() {})
	runAt, ok = s.NextRun("job")
	require.True(t, ok)
	assert.Equal(t, second, runAt)
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerPastDueRunsImmediately(t *testing.T) {
	s := newJobScheduler(testLogger(t))

	done := make(chan struct{})
	s.Schedule(
		"late", time.Now().Add(-time.Minute), func() {
			close(done)
		},
	)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due job never ran")
	}
}

func TestSchedulerRemove(t *testing.T) {
	s := newJobScheduler(testLogger(t))

	var runs atomic.Int64
	s.Schedule(
		"job", time.Now().Add(20*time.Millisecond), func() {
			runs.Add(1)
		},
	)
	s.Remove("job")
	assert.Equal(t, 0, s.Len())

	_, ok := s.NextRun("job")
	assert.False(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), runs.Load())

	// removing an unknown ID is a no-op
	s.Remove("never-scheduled")
}

func TestSchedulerStopAll(t *testing.T) {
	s := newJobScheduler(testLogger(t))

	var runs atomic.Int64
	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(
			id, time.Now().Add(20*time.Millisecond), func() {
				runs.Add(1)
			},
		)
	}
	require.Equal(t, 3, s.Len())

	s.StopAll()
	assert.Equal(t, 0, s.Len())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), runs.Load())
}
