package state

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/hardware/backlight"
	"github.com/tankmon/kiosk/hardware/display"
	"github.com/tankmon/kiosk/hardware/input"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
)

type hardware struct {
	Backlight struct {
		once
		Driver backlight.Driver
	}
	Display struct {
		once
		D *display.Display
	}
	Radio struct {
		once
		Radio wifi.Radio
	}
	Input *input.Dispatch
	// Extra input sources, state-new testing mode.
	InputSources []input.Source
}

func (g *Global) Backlight() (backlight.Driver, error) {
	x := &g.Hardware.Backlight // short alias
	_ = x.do(func() error {
		if x.Driver != nil { // state-new testing mode
			return nil
		}
		cfg := g.Config.Hardware.Backlight
		var err error
		x.Driver, err = backlight.Open(g.Log, cfg)
		return errors.Annotatef(err, "config: hardware.backlight driver=%s", cfg.Driver)
	})
	return x.Driver, x.err
}

// Display returns nil,nil when framebuffer is not configured.
func (g *Global) Display() (*display.Display, error) {
	x := &g.Hardware.Display // short alias
	_ = x.do(func() error {
		if x.D != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Hardware.Display
		if cfg.Framebuffer == "" {
			g.Log.Infof("display framebuffer is not configured")
			return nil
		}
		x.D, x.err = display.NewFb(cfg.Framebuffer)
		return x.err
	})
	return x.D, x.err
}

// Radio returns nil,nil when provisioning radio is disabled.
func (g *Global) Radio(ctx context.Context) (wifi.Radio, error) {
	x := &g.Hardware.Radio // short alias
	_ = x.do(func() error {
		if x.Radio != nil { // state-new testing mode
			return nil
		}
		cfg := &g.Config.Provision
		switch cfg.Radio {
		case "", RadioNone:
			g.Log.Infof("provision radio is disabled")
			return nil

		case RadioMock:
			x.Radio = wifi.NewMockRadio()
			return nil

		case RadioNetworkManager:
			iface := cfg.Interface
			if iface == "" {
				iface = "wlan0"
			}
			log := g.Log.Clone(log2.LInfo)
			if g.Log.Enabled(log2.LDebug) {
				log.SetLevel(log2.LDebug)
			}
			nm, err := wifi.NewNetworkManager(ctx, log, wifi.NetworkManagerConfig{
				Interface:   iface,
				APInterface: cfg.APInterface,
				DnsmasqDir:  cfg.DnsmasqDir,
			})
			if err != nil {
				return errors.Annotatef(err, "config: provision.interface=%s", iface)
			}
			x.Radio = nm
			return nil
		}
		return errors.NotSupportedf("config: provision.radio=%s", cfg.Radio)
	})
	return x.Radio, x.err
}

func (g *Global) initInput() error {
	g.Hardware.Input = input.NewDispatch(g.Log, g.Lifecycle.Events(), g.Alive.StopChan())

	sources := make([]input.Source, 0, 2)
	sources = append(sources, g.Hardware.InputSources...)
	cfg := &g.Config.Hardware.Touch
	if !cfg.Enable {
		g.Log.Infof("input=%s disabled", input.DevInputEventTag)
	} else {
		src, err := input.NewDevInputEventSource(g.Log, cfg.Device)
		if err != nil {
			return errors.Annotatef(err, "input=%s device=%s", input.DevInputEventTag, cfg.Device)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil
	}

	go func() {
		if err := g.Hardware.Input.Run(sources); err != nil {
			g.Error(err)
		}
	}()
	return nil
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
