package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/state"
	"github.com/tankmon/kiosk/log2"
	"github.com/urfave/cli/v3"

	_ "github.com/joho/godotenv/autoload"
)

// set by -ldflags "-X main.BuildVersion=..."
var BuildVersion string = "unknown"

var log = log2.NewStderr(log2.LDebug)

func main() {
	if sdnotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	cmd := &cli.Command{
		Name:           "kiosk",
		Usage:          "tank monitor kiosk: settings, network provisioning, display power",
		Version:        BuildVersion,
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "kiosk.hcl",
				Usage:   "HCL configuration file",
				Sources: cli.EnvVars("KIOSK_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "error|info|debug, overrides config",
				Sources: cli.EnvVars("KIOSK_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			runCommand,
			showCommand,
			resetPreferencesCommand,
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func readConfig(cmd *cli.Command) (*state.Config, error) {
	if s := cmd.String("log-level"); s != "" {
		level, err := log2.ParseLevel(s)
		if err != nil {
			return nil, errors.Annotate(err, "flag log-level")
		}
		log.SetLevel(level)
	}
	config, err := state.ReadConfig(log, state.NewOsFullReader(), cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if s := cmd.String("log-level"); s != "" {
		config.Log.Level = s
	}
	return config, nil
}

func openStore(config *state.Config) (*settings.Store, error) {
	root := config.Persist.Root
	if root == "" {
		return nil, errors.NotValidf("config: persist.root=empty")
	}
	return settings.NewFileStore(log, filepath.Join(root, "settings"))
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Errorf("sdnotify: %v", err)
	}
	return ok
}
