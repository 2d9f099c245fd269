package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolheart77/netstack/internal/scheduler"
)

func TestFetchReturnsAssertedWaker(t *testing.T) {
	var s scheduler.Sleeper
	var w1, w2 scheduler.Waker
	s.AddWaker(&w1, 1)
	s.AddWaker(&w2, 2)

	w2.Assert()

	id, ok := s.Fetch(true)
	require.True(t, ok)
	require.Equal(t, 2, id)
}

func TestFetchNonBlockingWithNoWaker(t *testing.T) {
	var s scheduler.Sleeper
	var w scheduler.Waker
	s.AddWaker(&w, 1)

	_, ok := s.Fetch(false)
	require.False(t, ok)
}

func TestAssertBeforeRegistrationIsQueued(t *testing.T) {
	var s scheduler.Sleeper
	var w scheduler.Waker
	w.Assert()
	s.AddWaker(&w, 42)

	id, ok := s.Fetch(true)
	require.True(t, ok)
	require.Equal(t, 42, id)
}

func TestAssertWakesBlockedFetch(t *testing.T) {
	var s scheduler.Sleeper
	var w scheduler.Waker
	s.AddWaker(&w, 7)

	done := make(chan int, 1)
	go func() {
		id, _ := s.Fetch(true)
		done <- id
	}()

	time.Sleep(10 * time.Millisecond)
	w.Assert()

	select {
	case id := <-done:
		require.Equal(t, 7, id)
	case <-time.After(time.Second):
		t.Fatal("Fetch did not wake up")
	}
}

func TestClearPreventsDelivery(t *testing.T) {
	var s scheduler.Sleeper
	var w scheduler.Waker
	s.AddWaker(&w, 1)

	w.Assert()
	require.True(t, w.Clear())
	require.False(t, w.IsAsserted())

	_, ok := s.Fetch(false)
	require.False(t, ok)
}

func TestEdgeTriggeredCollapses(t *testing.T) {
	var s scheduler.Sleeper
	var w scheduler.Waker
	s.AddWaker(&w, 1)

	w.Assert()
	w.Assert()
	w.Assert()

	_, ok := s.Fetch(true)
	require.True(t, ok)

	_, ok = s.Fetch(false)
	require.False(t, ok, "repeated Assert before a Fetch must collapse to a single delivery")
}
