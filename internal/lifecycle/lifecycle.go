// Package lifecycle is the single driving loop of the kiosk:
// input pump, provisioning poll, power tick, in that order.
package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/internal/power"
	"github.com/tankmon/kiosk/internal/provision"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/log2"
)

const (
	DefaultTick        = 5 * time.Millisecond
	DefaultEventBuffer = 64
)

// ErrRestart is returned by Run after credentials are durable.
var ErrRestart = errors.New("restart requested")

type Config struct {
	Tick        time.Duration
	EventBuffer int
}

type Controller struct {
	log       *log2.Log
	config    Config
	clock     helpers.Clock
	store     *settings.Store
	power     *power.Machine
	provision *provision.Controller
	signal    types.SignalFunc

	events chan types.Event
	prefs  atomic.Value // settings.Record, owned by loop
	setup  uint32
	ticks  uint64
}

// New provision may be nil when device has no radio, then setup is never started.
func New(log *log2.Log, config Config, clock helpers.Clock, store *settings.Store, pm *power.Machine, prov *provision.Controller) *Controller {
	if clock == nil || store == nil || pm == nil {
		panic("code error lifecycle clock, store and power are required")
	}
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}
	self := &Controller{
		log:       log,
		config:    config,
		clock:     clock,
		store:     store,
		power:     pm,
		provision: prov,
		events:    make(chan types.Event, config.EventBuffer),
	}
	self.prefs.Store(settings.Defaults())
	return self
}

// SetSignalFunc must be called before Boot. Sink runs on loop goroutine and must not block.
func (self *Controller) SetSignalFunc(f types.SignalFunc) { self.signal = f }

// Events accepts input from UI and input devices, safe from any goroutine.
func (self *Controller) Events() chan<- types.Event { return self.events }

func (self *Controller) Preferences() settings.Record {
	return self.prefs.Load().(settings.Record)
}

func (self *Controller) SetupComplete() bool { return atomic.LoadUint32(&self.setup) == 1 }

func (self *Controller) Power() *power.Machine { return self.power }

func (self *Controller) Provisioning() bool {
	return self.provision != nil && self.provision.Active()
}

// Boot loads persisted state and starts provisioning on first run.
// Provisioning start failure is returned but loop may still run with plain UI.
func (self *Controller) Boot(ctx context.Context) error {
	now := self.clock.Now()
	prefs := self.store.Load()
	self.prefs.Store(prefs)
	self.log.Infof("lifecycle boot preferences=%s", prefs.String())
	if err := self.power.SetBrightness(prefs.BrightnessPct, now); err != nil {
		self.log.Error(err)
	}
	self.power.SetTimeout(prefs.Timeout.Duration(), now)

	setup := self.store.LoadSetupFlag()
	self.setSetup(setup)
	if setup {
		return nil
	}
	if self.provision == nil {
		self.log.Infof("lifecycle setup incomplete, provisioning disabled")
		return nil
	}
	if err := self.provision.Start(ctx); err != nil {
		return errors.Annotate(err, "lifecycle boot")
	}
	self.emit(types.Signal{Kind: types.SignalProvisioning, Active: true})
	return nil
}

func (self *Controller) setSetup(v bool) {
	x := uint32(0)
	if v {
		x = 1
	}
	atomic.StoreUint32(&self.setup, x)
	self.power.SetSetupComplete(v)
}

// Tick runs one loop iteration. Returns ErrRestart once credentials are committed,
// context.Canceled on EventStop.
func (self *Controller) Tick(ctx context.Context) error {
	self.ticks++
	now := self.clock.Now()

	// at most buffer size per tick so that producer flood can not starve power tick
drain:
	for i := 0; i < self.config.EventBuffer; i++ {
		select {
		case ev := <-self.events:
			if err := self.handle(ctx, ev, now); err != nil {
				return err
			}
		default:
			break drain
		}
	}

	if self.provision != nil {
		if self.provision.Poll(ctx, now) == provision.ActionCommitRestart {
			self.setSetup(true)
			self.emit(types.Signal{Kind: types.SignalCommitRestart})
			return ErrRestart
		}
	}

	if self.power.OnTick(now) {
		self.emit(types.Signal{Kind: types.SignalSleep})
	}
	return nil
}

func (self *Controller) handle(ctx context.Context, ev types.Event, now time.Duration) error {
	self.log.Debugf("lifecycle event=%s", ev.String())
	switch ev.Kind {
	case types.EventTouch:
		if self.power.OnTouch(ev.Input.Touched(), now) {
			self.emit(types.Signal{Kind: types.SignalWake})
			return nil
		}
		self.emit(types.Signal{Kind: types.SignalInput, Input: ev.Input})

	case types.EventPress:
		self.power.OnUserInput(now)

	case types.EventPreference:
		self.power.OnUserInput(now)
		if err := self.setPreference(ev.Preference, ev.Value, now); err != nil {
			self.log.Error(err)
		}

	case types.EventProvisionStop:
		if self.Provisioning() {
			self.provision.Stop(ctx)
			self.emit(types.Signal{Kind: types.SignalProvisioning, Active: false})
		}

	case types.EventStop:
		self.log.Infof("lifecycle stop requested")
		return context.Canceled

	default:
		self.log.Errorf("lifecycle unknown event=%s", ev.String())
	}
	return nil
}

// setPreference persists first, then applies. Failed save leaves old value in effect.
func (self *Controller) setPreference(p types.Preference, value uint8, now time.Duration) error {
	old := self.Preferences()
	next, err := old.With(p, value)
	if err != nil {
		return errors.Annotate(err, "lifecycle preference")
	}
	if err := self.store.Save(next); err != nil {
		return errors.Annotatef(err, "lifecycle preference %s=%d", p.String(), value)
	}
	self.prefs.Store(next)
	switch p {
	case types.PreferenceBrightness:
		if err := self.power.SetBrightness(next.BrightnessPct, now); err != nil {
			self.log.Error(err)
		}
	case types.PreferenceTimeout:
		self.power.SetTimeout(next.Timeout.Duration(), now)
	}
	self.emit(types.Signal{Kind: types.SignalPreferenceChanged, Preference: p, Value: next.Value(p)})
	return nil
}

// Run ticks until ctx is done, EventStop or restart.
func (self *Controller) Run(ctx context.Context) error {
	self.log.Debugf("lifecycle run tick=%v", self.config.Tick)
	timer := time.NewTimer(self.config.Tick)
	defer timer.Stop()
	for {
		if err := self.Tick(ctx); err != nil {
			if err == context.Canceled {
				self.shutdown()
				return nil
			}
			return err
		}
		// slow tick may outlive timer, stale fire must not cut next delay
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(self.config.Tick)
		select {
		case <-ctx.Done():
			self.shutdown()
			return nil
		case <-timer.C:
		}
	}
}

func (self *Controller) shutdown() {
	if self.Provisioning() {
		self.provision.Stop(context.Background())
	}
	self.log.Debugf("lifecycle stopped ticks=%d", self.ticks)
}

func (self *Controller) emit(s types.Signal) {
	self.log.Debugf("lifecycle signal=%s", s.String())
	if self.signal != nil {
		self.signal(s)
	}
}
