// Package state wires configured hardware and services into one Global
// owned by the kiosk process.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/internal/lifecycle"
	"github.com/tankmon/kiosk/internal/power"
	"github.com/tankmon/kiosk/internal/provision"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
	tele_api "github.com/tankmon/kiosk/tele"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Clock        helpers.Clock
	Config       *Config
	Hardware     hardware // hardware.go
	Lifecycle    *lifecycle.Controller
	Log          *log2.Log
	Navigator    types.Navigator
	Provision    *provision.Controller // nil when radio is disabled
	Store        *settings.Store
	Tele         tele_api.Teler

	signal    types.SignalFunc
	closeOnce sync.Once

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// SetSignalFunc sets application sink for lifecycle signals, call before Init.
func (g *Global) SetSignalFunc(f types.SignalFunc) { g.signal = f }

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)
	if cfg.Log.Level != "" {
		level, err := log2.ParseLevel(cfg.Log.Level)
		if err != nil {
			return errors.Annotate(err, "config: log.level")
		}
		g.Log.SetLevel(level)
	}
	if g.Clock == nil {
		g.Clock = helpers.NewMonoClock()
	}

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = "./tmp-kiosk-db"
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	g.Config.Tele.BuildVersion = g.BuildVersion
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	// Tele.Init gets g.Log clone before SetErrorFunc, so Tele.Log.Error doesn't recurse on itself
	if err := g.Tele.Init(ctx, g.Log.Clone(log2.LInfo), g.Config.Tele); err != nil {
		g.Tele = tele_api.Noop{}
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)
	if g.BuildVersion == "unknown" {
		g.Log.Infof("build version is not set, please use -ldflags")
	} else if strings.HasSuffix(g.BuildVersion, "-dirty") {
		g.Error(fmt.Errorf("running development build with uncommited changes, bad idea for production"))
	}

	if g.Store == nil { // production path, tests set memory store
		store, err := settings.NewFileStore(g.Log, filepath.Join(g.Config.Persist.Root, "settings"))
		if err != nil {
			return errors.Annotate(err, "settings init")
		}
		g.Store = store
	}

	bl, err := g.Backlight()
	if err != nil {
		return err
	}
	pm := power.NewMachine(g.Log, bl, g.Navigator, g.Clock.Now())

	radio, err := g.Radio(ctx)
	if err != nil {
		return err
	}
	if radio != nil {
		sup := wifi.NewSupervisor(g.Log, radio, time.Duration(g.Config.Provision.PollMs)*time.Millisecond)
		g.Provision = provision.NewController(g.Log, g.Config.ProvisionConfig(), g.Store, sup)
	}

	g.Lifecycle = lifecycle.New(g.Log, g.Config.LifecycleConfig(), g.Clock, g.Store, pm, g.Provision)
	g.Lifecycle.SetSignalFunc(g.onSignal)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

// Run boots lifecycle and blocks until stop, restart or loop failure.
// Returns lifecycle.ErrRestart when device must reboot, see Restart.
func (g *Global) Run(ctx context.Context) error {
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.Alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := g.initInput(); err != nil {
		return errors.Annotate(err, "input init")
	}
	if err := g.Lifecycle.Boot(ctx); err != nil {
		// plain UI still works, user may retry provisioning after reboot
		g.Error(err)
	}
	if !g.Lifecycle.Provisioning() {
		g.Tele.State(tele_api.StateActive)
	}

	err := g.Lifecycle.Run(ctx)
	if err != nil && errors.Cause(err) != lifecycle.ErrRestart {
		return errors.Annotate(err, "lifecycle")
	}
	return err
}

func (g *Global) onSignal(s types.Signal) {
	switch s.Kind {
	case types.SignalProvisioning:
		if s.Active {
			g.Tele.State(tele_api.StateProvisioning)
			g.showJoinCode()
		} else {
			g.Tele.State(tele_api.StateActive)
			g.clearDisplay()
		}
	case types.SignalSleep:
		g.Tele.State(tele_api.StateSleeping)
	case types.SignalWake:
		g.Tele.State(tele_api.StateActive)
	case types.SignalPreferenceChanged:
		g.Tele.Preference(s.Preference.String(), s.Value)
	case types.SignalCommitRestart:
		g.Tele.State(tele_api.StateRestart)
	}
	if g.signal != nil {
		g.signal(s)
	}
}

func (g *Global) showJoinCode() {
	if g.Provision == nil {
		return
	}
	d, err := g.Display()
	if err != nil || d == nil {
		g.Error(err, "provision join code")
		return
	}
	session := g.Provision.Session()
	g.Log.Infof("provision join ssid=%s", session.SSID)
	g.Error(d.QR(session.JoinURI(), qrcode.Medium), "provision join code")
}

func (g *Global) clearDisplay() {
	if d, err := g.Display(); err == nil && d != nil {
		g.Error(d.Clear(), "display clear")
	}
}

// Close releases hardware and stops telemetry, call after Run returned.
func (g *Global) Close() {
	g.closeOnce.Do(g.close)
}

func (g *Global) close() {
	errs := make([]error, 0, 4)
	if d := g.Hardware.Display.D; d != nil {
		errs = append(errs, errors.Annotate(d.Close(), "display close"))
	}
	if bl := g.Hardware.Backlight.Driver; bl != nil {
		errs = append(errs, errors.Annotate(bl.Close(), "backlight close"))
	}
	if nm, ok := g.Hardware.Radio.Radio.(*wifi.NetworkManager); ok {
		errs = append(errs, errors.Annotate(nm.Close(), "radio close"))
	}
	if err := helpers.FoldErrors(errs); err != nil {
		g.Log.Error(err)
	}
	g.Tele.Close()
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
