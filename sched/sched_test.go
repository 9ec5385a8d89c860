package sched

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestSchedulerArmFiresAfterAdvance(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	fired := make(chan struct{}, 1)
	s.Arm(TimerRoundDeadline, 5*time.Second, func() { fired <- struct{}{} })

	mock.Add(5 * time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSchedulerReArmCancelsPrevious(t *testing.T) {
	mock := clock.NewMock()
	s := NewScheduler(mock)

	count := 0
	s.Arm(TimerRoundDeadline, 5*time.Second, func() { count++ })
	s.Arm(TimerRoundDeadline, 10*time.Second, func() { count++ })

	mock.Add(5 * time.Second)
	require.Equal(t, 0, count)

	mock.Add(5 * time.Second)
	require.Equal(t, 1, count)
}

func TestTimerStopIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	timer := NewTimer(mock, time.Second, func() {})
	timer.Stop()
	timer.Stop() // must not panic
}
