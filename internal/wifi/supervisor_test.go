package wifi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/log2"
)

func TestSupervisorJoin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.JoinPolls = 3
	s := NewSupervisor(log, radio, 500*time.Millisecond)
	assert.Equal(t, ResultNone, s.Poll(ctx, 0))

	require.NoError(t, s.Begin(ctx, "home", "secret12", 10*time.Second, 0))
	assert.True(t, s.Active())
	assert.Equal(t, []string{"home"}, radio.Associated)

	now := time.Duration(0)
	assert.Equal(t, ResultPending, s.Poll(ctx, now)) // poll 1
	// between poll intervals radio is not touched
	for now = 100 * time.Millisecond; now < 500*time.Millisecond; now += 100 * time.Millisecond {
		assert.Equal(t, ResultPending, s.Poll(ctx, now))
	}
	assert.Equal(t, ResultPending, s.Poll(ctx, 500*time.Millisecond))  // poll 2
	assert.Equal(t, ResultPending, s.Poll(ctx, 1000*time.Millisecond)) // poll 3
	assert.Equal(t, ResultJoined, s.Poll(ctx, 1500*time.Millisecond))
	assert.False(t, s.Active())
	assert.Equal(t, LinkConnected, radio.State())
	assert.Equal(t, 0, radio.Disconnects)
	assert.Equal(t, uint32(1), s.Attempts())
}

func TestSupervisorTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.Accept = func(ssid, pass string) bool { return pass == "right" }
	s := NewSupervisor(log, radio, 0)

	t0 := 7 * time.Second
	require.NoError(t, s.Begin(ctx, "home", "wrong", 10*time.Second, t0))
	now := t0
	for ; now < t0+10*time.Second; now += 5 * time.Millisecond {
		require.Equal(t, ResultPending, s.Poll(ctx, now), "now=%v", now)
	}
	assert.Equal(t, ResultTimedOut, s.Poll(ctx, now))
	assert.Equal(t, t0+10*time.Second, now)
	assert.Equal(t, 1, radio.Disconnects)
	assert.False(t, s.Active())
	assert.Equal(t, ResultNone, s.Poll(ctx, now+time.Second))
}

func TestSupervisorJoinAtDeadline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.JoinPolls = 1
	s := NewSupervisor(log, radio, time.Minute)
	require.NoError(t, s.Begin(ctx, "home", "", time.Second, 0))
	assert.Equal(t, ResultPending, s.Poll(ctx, 0))
	// next poll interval is past deadline, status still checked at deadline
	assert.Equal(t, ResultJoined, s.Poll(ctx, time.Second))
}

func TestSupervisorFailFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.Accept = func(string, string) bool { return false }
	radio.FailFast = true
	s := NewSupervisor(log, radio, 0)
	require.NoError(t, s.Begin(ctx, "home", "x", 0, 0))
	assert.Equal(t, ResultFailed, s.Poll(ctx, 0))
	assert.Equal(t, 1, radio.Disconnects)
}

func TestSupervisorAbort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.JoinPolls = 100
	s := NewSupervisor(log, radio, 0)
	s.Abort(ctx)
	assert.Equal(t, 0, radio.Disconnects)

	require.NoError(t, s.Begin(ctx, "a", "", 0, 0))
	require.NoError(t, s.Begin(ctx, "b", "", 0, 0))
	assert.Equal(t, 1, radio.Disconnects, "second begin aborts first")
	s.Abort(ctx)
	assert.Equal(t, 2, radio.Disconnects)
	assert.False(t, s.Active())
	assert.Equal(t, uint32(2), s.Attempts())

	assert.Error(t, s.Begin(ctx, "", "x", 0, 0))
}

func TestAttemptJoin(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	radio := NewMockRadio()
	radio.JoinPolls = 2
	s := NewSupervisor(log, radio, 10*time.Millisecond)
	clock := helpers.NewMonoClock()
	r, err := s.AttemptJoin(context.Background(), clock, "home", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, ResultJoined, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	radio.JoinPolls = 1000
	r, err = s.AttemptJoin(ctx, clock, "home", "", time.Hour)
	assert.Error(t, err)
	assert.Equal(t, ResultFailed, r)
	assert.False(t, s.Active())
}
