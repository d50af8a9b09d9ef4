package power

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankmon/kiosk/hardware/backlight"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/log2"
)

type homeCounter struct{ n int }

func (h *homeCounter) GoHome() { h.n++ }

func newTestMachine(t testing.TB, t0 time.Duration) (*Machine, *backlight.Mock, *homeCounter) {
	log := log2.NewTest(t, log2.LDebug)
	bl := &backlight.Mock{}
	nav := &homeCounter{}
	m := NewMachine(log, bl, nav, t0)
	return m, bl, nav
}

func TestDutyFromPercent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pct    uint8
		expect uint8
	}{
		{0, 25},
		{1, 27},
		{50, 140},
		{99, 252},
		{100, 255},
		{200, 255},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, DutyFromPercent(c.pct), "pct=%d", c.pct)
	}
	// monotonic
	for p := 1; p <= 100; p++ {
		assert.True(t, DutyFromPercent(uint8(p)) >= DutyFromPercent(uint8(p-1)))
	}
}

func TestIdleBoundary(t *testing.T) {
	t.Parallel()

	t0 := 5 * time.Second
	m, bl, _ := newTestMachine(t, 0)
	m.SetTimeout(30*time.Second, t0)
	assert.Equal(t, DutyMax, bl.Duty())

	assert.False(t, m.OnTick(t0+29999*time.Millisecond))
	assert.Equal(t, StateActive, m.State())
	assert.True(t, m.OnTick(t0+30000*time.Millisecond))
	assert.Equal(t, StateSleeping, m.State())
	assert.Equal(t, uint8(0), bl.Duty())
	// already sleeping, no repeated transition
	assert.False(t, m.OnTick(t0+time.Hour))
	assert.Equal(t, 2, len(bl.History))
}

func TestNeverSleep(t *testing.T) {
	t.Parallel()

	m, bl, _ := newTestMachine(t, 0)
	m.SetTimeout(0, 0)
	for now := time.Duration(0); now < 24*time.Hour; now += 17 * time.Minute {
		assert.False(t, m.OnTick(now))
	}
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, []uint8{DutyMax}, bl.History)
}

func TestWakeConsumesTouch(t *testing.T) {
	t.Parallel()

	m, bl, _ := newTestMachine(t, 0)
	require.NoError(t, m.SetBrightness(50, 0))
	m.SetTimeout(30*time.Second, 0)
	require.True(t, m.OnTick(30*time.Second))

	// release without press does nothing
	assert.False(t, m.OnTouch(false, 31*time.Second))
	assert.True(t, m.Sleeping())

	assert.True(t, m.OnTouch(true, 40*time.Second))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, uint8(140), bl.Duty())
	assert.Equal(t, 40*time.Second, m.LastActivity())

	// next touch while active reaches UI
	assert.False(t, m.OnTouch(true, 41*time.Second))
	assert.Equal(t, 41*time.Second, m.LastActivity())
}

func TestHomeOnlyAfterSetup(t *testing.T) {
	t.Parallel()

	m, _, nav := newTestMachine(t, 0)
	m.SetTimeout(30*time.Second, 0)
	require.True(t, m.OnTick(30*time.Second))
	assert.Equal(t, 0, nav.n)

	m.OnTouch(true, 31*time.Second)
	m.SetSetupComplete(true)
	require.True(t, m.OnTick(61*time.Second))
	assert.Equal(t, 1, nav.n)
}

func TestBrightnessWhileSleeping(t *testing.T) {
	t.Parallel()

	m, bl, _ := newTestMachine(t, 0)
	m.SetTimeout(30*time.Second, 0)
	require.True(t, m.OnTick(30*time.Second))
	require.NoError(t, m.SetBrightness(0, 31*time.Second))
	assert.Equal(t, uint8(0), bl.Duty(), "sleeping panel must stay dark")
	assert.Equal(t, uint8(25), m.Duty())

	m.OnTouch(true, 32*time.Second)
	assert.Equal(t, uint8(25), bl.Duty())
}

func TestSettingsCountAsActivity(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMachine(t, 0)
	m.SetTimeout(30*time.Second, 0)
	require.NoError(t, m.SetBrightness(80, 20*time.Second))
	assert.False(t, m.OnTick(30*time.Second))
	m.SetTimeout(time.Minute, 45*time.Second)
	assert.False(t, m.OnTick(104*time.Second))
	assert.True(t, m.OnTick(105*time.Second))
}

func TestBacklightError(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	var errs []error
	log.SetErrorFunc(func(e error) { errs = append(errs, e) })
	bl := &backlight.Mock{Err: errors.New("bus")}
	m := NewMachine(log, bl, types.NavigatorFunc(func() {}), 0)
	assert.Error(t, m.SetBrightness(10, 0))
	m.SetTimeout(time.Second, 0)
	assert.True(t, m.OnTick(time.Second), "state advances regardless of backlight errors")
	assert.NotEmpty(t, errs)
}

func TestNilBacklight(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	m := NewMachine(log, nil, nil, 0)
	m.SetTimeout(time.Second, 0)
	assert.True(t, m.OnTick(time.Second))
	assert.True(t, m.OnTouch(true, 2*time.Second))
}

func TestLastActivity(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMachine(t, 3*time.Second)
	assert.Equal(t, 3*time.Second, m.LastActivity())
	m.OnUserInput(7 * time.Second)
	assert.Equal(t, 7*time.Second, m.LastActivity())
	m.OnTouch(true, 9*time.Second)
	assert.Equal(t, 9*time.Second, m.LastActivity())
}
