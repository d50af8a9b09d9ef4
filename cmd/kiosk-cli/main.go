// Interactive kiosk simulator: mock radio, backlight and display,
// lifecycle driven by manual clock. Lines may also be piped from file.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/hardware/backlight"
	"github.com/tankmon/kiosk/hardware/display"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/helpers/cli"
	"github.com/tankmon/kiosk/internal/lifecycle"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/state"
	state_new "github.com/tankmon/kiosk/internal/state/new"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
	tele_api "github.com/tankmon/kiosk/tele"
)

const usage = `commands:
- touch X Y     press panel at X,Y
- release       lift finger
- press         widget press recognized by UI
- pref NAME N   change preference brightness|timeout|theme|units
- leave         user leaves provisioning screen
- submit SSID [PASSPHRASE]
- reject        radio refuses any further join
- probe SSID [PASSPHRASE]   blocking join test, outside provisioning
- advance DUR   move clock forward, e.g. 30s, then tick
- tick [N]      run N loop iterations, default 1
- status        print power, preferences, provisioning
- screen        print display buffer
- help
`

const defaultConfig = `provision { radio = "mock" ssid_prefix = "tank" }`

var log = log2.NewStderr(log2.LDebug)

type sim struct {
	ctx       context.Context
	g         *state.Global
	clock     *helpers.FakeClock
	backlight *backlight.Mock
	display   *display.Display
	radio     *wifi.MockRadio
	restart   bool
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "", "HCL file, default uses mock radio and memory storage")
	flagPersist := cmdline.Bool("persist", false, "keep settings in persist.root instead of memory")
	flagDisplay := cmdline.Int("display", 49, "mock display side in pixels")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)

	var config *state.Config
	var err error
	if *flagConfig == "" {
		fs := state.NewMockFullReader(map[string]string{"default": defaultConfig})
		config, err = state.ReadConfig(log, fs, "default")
	} else {
		config, err = state.ReadConfig(log, state.NewOsFullReader(), *flagConfig)
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ctx, g := state_new.NewContext(log, tele_api.Noop{})
	s := &sim{
		ctx:       ctx,
		g:         g,
		clock:     helpers.NewFakeClock(time.Second),
		backlight: &backlight.Mock{},
		display:   display.NewMock(image.Pt(*flagDisplay, *flagDisplay)),
		radio:     wifi.NewMockRadio(),
	}
	s.radio.Networks = []wifi.Network{
		{SSID: "home", Signal: 70, Secured: true},
		{SSID: "cafe-open", Signal: 40},
	}
	g.BuildVersion = "sim"
	g.Clock = s.clock
	g.Hardware.Backlight.Driver = s.backlight
	g.Hardware.Display.D = s.display
	g.Hardware.Radio.Radio = s.radio
	g.Navigator = types.NavigatorFunc(func() { log.Infof("ui: go home") })
	if !*flagPersist {
		g.Store, _ = settings.NewMemStore(log)
	}
	g.SetSignalFunc(func(sig types.Signal) { log.Infof("signal %s", sig.String()) })
	g.MustInit(ctx, config)

	if err := g.Lifecycle.Boot(ctx); err != nil {
		log.Error(err)
	}
	s.status()
	log.Infof(usage)

	cli.MainLoop("kiosk", s.exec, s.complete, g.Close)
}

var suggests = []prompt.Suggest{
	{Text: "touch", Description: "X Y"},
	{Text: "release"},
	{Text: "press"},
	{Text: "pref", Description: "NAME VALUE"},
	{Text: "leave"},
	{Text: "submit", Description: "SSID [PASSPHRASE]"},
	{Text: "reject"},
	{Text: "probe", Description: "SSID [PASSPHRASE]"},
	{Text: "advance", Description: "DURATION"},
	{Text: "tick", Description: "[N]"},
	{Text: "status"},
	{Text: "screen"},
	{Text: "help"},
}

func (s *sim) complete(d prompt.Document) []prompt.Suggest { return cli.Suggest(d, suggests) }

func (s *sim) exec(line string) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return
	}
	if s.restart {
		log.Errorf("device is restarting, no more input")
		return
	}
	if err := s.command(words[0], words[1:]); err != nil {
		log.Errorf(errors.ErrorStack(err))
	}
}

func (s *sim) command(name string, args []string) error {
	switch name {
	case "help":
		log.Infof(usage)
		return nil

	case "touch":
		if len(args) != 2 {
			return errors.Errorf("usage: touch X Y")
		}
		x, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return errors.Annotate(err, "X")
		}
		y, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return errors.Annotate(err, "Y")
		}
		return s.send(types.Event{Kind: types.EventTouch, Input: types.InputEvent{Source: "sim", Key: 1, X: uint16(x), Y: uint16(y)}})

	case "release":
		return s.send(types.Event{Kind: types.EventTouch, Input: types.InputEvent{Source: "sim", Key: 1, Up: true}})

	case "press":
		return s.send(types.Event{Kind: types.EventPress})

	case "pref":
		if len(args) != 2 {
			return errors.Errorf("usage: pref NAME VALUE")
		}
		p, err := parsePreference(args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return errors.Annotate(err, "VALUE")
		}
		return s.send(types.Event{Kind: types.EventPreference, Preference: p, Value: uint8(v)})

	case "leave":
		return s.send(types.Event{Kind: types.EventProvisionStop})

	case "submit":
		if s.g.Provision == nil {
			return errors.NotSupportedf("provisioning without radio")
		}
		if len(args) < 1 || len(args) > 2 {
			return errors.Errorf("usage: submit SSID [PASSPHRASE]")
		}
		pass := ""
		if len(args) == 2 {
			pass = args[1]
		}
		if err := s.g.Provision.Submit(args[0], pass); err != nil {
			return err
		}
		return s.tick(1)

	case "reject":
		s.radio.Accept = func(string, string) bool { return false }
		s.radio.FailFast = true
		return nil

	case "probe":
		if s.g.Lifecycle.Provisioning() {
			return errors.Errorf("provisioning owns radio, leave first")
		}
		if len(args) < 1 || len(args) > 2 {
			return errors.Errorf("usage: probe SSID [PASSPHRASE]")
		}
		pass := ""
		if len(args) == 2 {
			pass = args[1]
		}
		ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
		defer cancel()
		sup := wifi.NewSupervisor(log, s.radio, 0)
		r, err := sup.AttemptJoin(ctx, helpers.NewMonoClock(), args[0], pass, wifi.DefaultJoinTimeout)
		if err != nil {
			return err
		}
		log.Infof("probe ssid=%q result=%s", args[0], r.String())
		if r == wifi.ResultJoined {
			return errors.Annotate(s.radio.Disconnect(ctx), "probe disconnect")
		}
		return nil

	case "advance":
		if len(args) != 1 {
			return errors.Errorf("usage: advance DURATION")
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		log.Infof("clock now=%v", s.clock.Add(d))
		return s.tick(1)

	case "tick":
		n := uint64(1)
		if len(args) == 1 {
			var err error
			if n, err = strconv.ParseUint(args[0], 10, 32); err != nil {
				return errors.Annotate(err, "N")
			}
		}
		return s.tick(int(n))

	case "status":
		s.status()
		return nil

	case "screen":
		fmt.Print(s.display.Text())
		return nil
	}
	return errors.Errorf("invalid command: '%s', try help", name)
}

func (s *sim) send(e types.Event) error {
	select {
	case s.g.Lifecycle.Events() <- e:
	default:
		return errors.Errorf("event buffer full, try tick")
	}
	return s.tick(1)
}

func (s *sim) tick(n int) error {
	for i := 0; i < n; i++ {
		err := s.g.Lifecycle.Tick(s.ctx)
		if errors.Cause(err) == lifecycle.ErrRestart {
			s.restart = true
			log.Infof("restart requested, device would reboot now")
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sim) status() {
	lc := s.g.Lifecycle
	pm := lc.Power()
	log.Infof("clock=%v power=%s duty=%d timeout=%v setup=%t",
		s.clock.Now(), pm.State().String(), s.backlight.Duty(), pm.Timeout(), lc.SetupComplete())
	prefs := lc.Preferences()
	log.Infof("preferences %s", prefs.String())
	if p := s.g.Provision; p != nil {
		log.Infof("provision state=%s banner=%q", p.State().String(), p.Banner())
		if p.Active() {
			log.Infof("provision join=%s", p.Session().JoinURI())
		}
	}
	if ap := s.radio.AccessPoint(); ap != nil {
		log.Infof("radio ap ssid=%s", ap.SSID)
	}
	log.Infof("radio link=%s", s.radio.State().String())
}

func parsePreference(s string) (types.Preference, error) {
	for p := types.PreferenceBrightness; p <= types.PreferenceUnits; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return types.PreferenceInvalid, errors.NotValidf("preference=%s", s)
}
