package tele

import (
	"context"

	"github.com/tankmon/kiosk/log2"
	tele_config "github.com/tankmon/kiosk/tele/config"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send* return false when message was not acknowledged, caller retries later
// - application may start without network available
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error
	SendState(payload []byte) bool
	SendEvent(payload []byte) bool
	Close()
}
