// Package tele is kiosk status reporting API. Implementation lives in internal/tele.
package tele

import (
	"context"
	"fmt"

	"github.com/tankmon/kiosk/log2"
	tele_config "github.com/tankmon/kiosk/tele/config"
)

type State uint8

const (
	StateInvalid State = iota
	StateBoot
	StateProvisioning
	StateActive
	StateSleeping
	StateRestart
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateProvisioning:
		return "provisioning"
	case StateActive:
		return "active"
	case StateSleeping:
		return "sleeping"
	case StateRestart:
		return "restart"
	}
	return fmt.Sprintf("invalid:%d", uint8(s))
}

// Teler is telemetry client.
// Calls block at most for local disk write, delivery happens in background.
type Teler interface {
	Init(context.Context, *log2.Log, tele_config.Config) error
	Close()
	State(State)
	Error(error)
	Preference(name string, value uint8)
}
