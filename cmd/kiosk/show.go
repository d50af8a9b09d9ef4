package main

import (
	"context"
	"fmt"

	"github.com/tankmon/kiosk/internal/settings"
	"github.com/urfave/cli/v3"
)

var showCommand = &cli.Command{
	Name:  "show",
	Usage: "print persisted preferences and provisioning state",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		config, err := readConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(config)
		if err != nil {
			return err
		}
		r := store.Load()
		w := cmd.Root().Writer
		fmt.Fprintf(w, "preferences: %s\n", r.String())
		fmt.Fprintf(w, "setup complete: %t\n", store.LoadSetupFlag())
		if creds, ok := store.Credentials(); ok {
			fmt.Fprintf(w, "network: %q\n", creds.SSID)
		} else {
			fmt.Fprintf(w, "network: not provisioned\n")
		}
		return nil
	},
}

var resetPreferencesCommand = &cli.Command{
	Name:  "reset-preferences",
	Usage: "overwrite display preferences with defaults, network settings are kept",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		config, err := readConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(config)
		if err != nil {
			return err
		}
		if err := store.Save(settings.Defaults()); err != nil {
			return err
		}
		log.Infof("preferences reset to defaults")
		return nil
	},
}
