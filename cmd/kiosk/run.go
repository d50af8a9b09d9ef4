package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/internal/lifecycle"
	"github.com/tankmon/kiosk/internal/state"
	"github.com/tankmon/kiosk/internal/tele"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/temoto/alive/v2"
	"github.com/urfave/cli/v3"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run lifecycle loop until stopped, reboot after network provisioning",
	Action: runMain,
}

func runMain(ctx context.Context, cmd *cli.Command) error {
	config, err := readConfig(cmd)
	if err != nil {
		return err
	}

	g := &state.Global{
		Alive:        alive.NewAlive(),
		BuildVersion: BuildVersion,
		Log:          log,
		Tele:         tele.New(),
	}
	g.SetSignalFunc(func(s types.Signal) {
		g.Log.Debugf("signal=%s", s.String())
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		g.Log.Infof("system signal=%v, stopping", s)
		g.Stop()
	}()

	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)
	sdnotify(daemon.SdNotifyReady)

	err = g.Run(ctx)
	sdnotify(daemon.SdNotifyStopping)
	if errors.Cause(err) == lifecycle.ErrRestart {
		return g.Restart(ctx)
	}
	g.Close()
	return err
}
