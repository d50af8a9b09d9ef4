// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tankmon/kiosk/hardware/backlight"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/state"
	"github.com/tankmon/kiosk/log2"
	tele_api "github.com/tankmon/kiosk/tele"
	"github.com/temoto/alive/v2"
)

func NewContext(log *log2.Log, teler tele_api.Teler) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &state.Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  teler,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// Test mocks, reachable from Global for assertions.
type Mocks struct {
	Clock     *helpers.FakeClock
	Backlight *backlight.Mock
	Storage   *settings.MemBackend
}

// NewTestContext builds Global with fake clock, memory storage and mock backlight.
// Radio is chosen by config, use provision { radio = "mock" } for provisioning tests.
func NewTestContext(t testing.TB, buildVersion string, confString string) (context.Context, *state.Global, *Mocks) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("kiosk_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log, tele_api.Noop{})
	g.BuildVersion = buildVersion

	mocks := &Mocks{
		Clock:     helpers.NewFakeClock(time.Second),
		Backlight: &backlight.Mock{},
	}
	g.Clock = mocks.Clock
	g.Store, mocks.Storage = settings.NewMemStore(log)
	g.Hardware.Backlight.Driver = mocks.Backlight
	config, err := state.ReadConfig(log, fs, "test-inline")
	if err != nil {
		t.Fatal(err)
	}
	config.Persist.Root = "/nonexistent-test-root"
	if err := g.Init(ctx, config); err != nil {
		t.Fatal(err)
	}
	return ctx, g, mocks
}
