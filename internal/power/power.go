// Package power puts display backlight to sleep after idle timeout
// and wakes it on touch.
package power

import (
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/log2"
	"github.com/temoto/atomic_clock"
)

type State uint32

const (
	StateActive State = iota
	StateSleeping
)

func (s State) String() string {
	if s == StateSleeping {
		return "sleeping"
	}
	return "active"
}

type Backlight interface {
	SetDuty(duty uint8) error
}

const DutyMax uint8 = 255

// DutyFromPercent maps user brightness 0..100% to 10..100% PWM duty,
// so lowest setting never turns panel completely dark.
func DutyFromPercent(pct uint8) uint8 {
	if pct > 100 {
		pct = 100
	}
	// (10% + pct*0.9) * 255 / 100, in tenths of percent
	return uint8((1000 + uint32(pct)*90) * uint32(DutyMax) / 10000)
}

// Machine owns activity state. Transitions are driven by single main loop,
// getters are safe from other goroutines.
type Machine struct {
	log       *log2.Log
	backlight Backlight
	nav       types.Navigator

	state         uint32 // State
	setupComplete uint32
	timeout       int64 // time.Duration, 0 = never
	duty          uint32
	lastActivity  atomic_clock.Clock
}

func NewMachine(log *log2.Log, backlight Backlight, nav types.Navigator, now time.Duration) *Machine {
	self := &Machine{
		log:       log,
		backlight: backlight,
		nav:       nav,
		duty:      uint32(DutyMax),
	}
	self.lastActivity.Set(int64(now))
	if err := self.apply(DutyMax); err != nil {
		self.log.Error(errors.Annotate(err, "power init backlight"))
	}
	return self
}

func (self *Machine) State() State     { return State(atomic.LoadUint32(&self.state)) }
func (self *Machine) setState(s State) { atomic.StoreUint32(&self.state, uint32(s)) }
func (self *Machine) Sleeping() bool   { return self.State() == StateSleeping }

func (self *Machine) LastActivity() time.Duration {
	return self.lastActivity.Sub(&atomic_clock.Clock{})
}
func (self *Machine) Timeout() time.Duration { return time.Duration(atomic.LoadInt64(&self.timeout)) }
func (self *Machine) Duty() uint8            { return uint8(atomic.LoadUint32(&self.duty)) }

// SetSetupComplete enables forced home navigation on sleep.
// Before first-run setup the screen is left as is, only backlight goes off.
func (self *Machine) SetSetupComplete(v bool) {
	x := uint32(0)
	if v {
		x = 1
	}
	atomic.StoreUint32(&self.setupComplete, x)
}

func (self *Machine) SetTimeout(d time.Duration, now time.Duration) {
	if d < 0 {
		d = 0
	}
	atomic.StoreInt64(&self.timeout, int64(d))
	self.log.Debugf("power timeout=%v", d)
	self.OnUserInput(now)
}

// SetBrightness remembers duty for wake and applies it immediately unless sleeping.
func (self *Machine) SetBrightness(pct uint8, now time.Duration) error {
	duty := DutyFromPercent(pct)
	atomic.StoreUint32(&self.duty, uint32(duty))
	self.log.Debugf("power brightness ui=%d%% duty=%d", pct, duty)
	self.OnUserInput(now)
	if self.Sleeping() {
		return nil
	}
	return errors.Annotate(self.apply(duty), "power brightness")
}

func (self *Machine) OnUserInput(now time.Duration) {
	self.lastActivity.Set(int64(now))
}

// OnTick returns true when display just went to sleep.
func (self *Machine) OnTick(now time.Duration) bool {
	timeout := self.Timeout()
	if self.Sleeping() || timeout == 0 {
		return false
	}
	if now-self.LastActivity() < timeout {
		return false
	}
	if err := self.apply(0); err != nil {
		self.log.Error(errors.Annotate(err, "power sleep"))
	}
	self.setState(StateSleeping)
	self.log.Infof("power display sleep idle=%v", now-self.LastActivity())
	if atomic.LoadUint32(&self.setupComplete) == 1 && self.nav != nil {
		self.nav.GoHome()
	}
	return true
}

// OnTouch returns consumed=true when touch only woke display and must not reach UI.
func (self *Machine) OnTouch(touched bool, now time.Duration) bool {
	if !touched {
		return false
	}
	if self.Sleeping() {
		if err := self.apply(self.Duty()); err != nil {
			self.log.Error(errors.Annotate(err, "power wake"))
		}
		self.setState(StateActive)
		self.lastActivity.Set(int64(now))
		self.log.Infof("power display wake")
		return true
	}
	self.lastActivity.Set(int64(now))
	return false
}

func (self *Machine) apply(duty uint8) error {
	if self.backlight == nil {
		return nil
	}
	return self.backlight.SetDuty(duty)
}
