package input

import (
	"io"
	"os"

	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/log2"
	"github.com/temoto/inputevent-go"
)

const DevInputEventTag = "dev-input-event"

// linux/input-event-codes.h
const (
	evSyn     uint16 = 0x00
	evKey     uint16 = 0x01
	evAbs     uint16 = 0x03
	synReport uint16 = 0x00
	btnTouch  uint16 = 0x14a
	absX      uint16 = 0x00
	absY      uint16 = 0x01
)

// DevInputEventSource reads single-touch panel via evdev.
// One InputEvent is produced per press and per release, with last known coordinates.
type DevInputEventSource struct {
	f   io.ReadCloser
	log *log2.Log

	x, y    uint16
	touched bool
	changed bool
}

// compile-time interface compliance test
var _ Source = new(DevInputEventSource)

func (self *DevInputEventSource) String() string { return DevInputEventTag }

func NewDevInputEventSource(log *log2.Log, device string) (*DevInputEventSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, err
	}
	return NewDevInputEventReader(log, f), nil
}

func NewDevInputEventReader(log *log2.Log, r io.ReadCloser) *DevInputEventSource {
	return &DevInputEventSource{f: r, log: log}
}

func (self *DevInputEventSource) Close() error { return self.f.Close() }

func (self *DevInputEventSource) Read() (types.InputEvent, error) {
	for {
		ie, err := inputevent.ReadOne(self.f)
		if err != nil {
			return types.InputEvent{}, err
		}
		switch ie.Type {
		case evAbs:
			switch ie.Code {
			case absX:
				self.x = clampCoord(ie.Value)
			case absY:
				self.y = clampCoord(ie.Value)
			}

		case evKey:
			if ie.Code == btnTouch && inputevent.KeyEventState(ie.Value) != inputevent.KeyStateHold {
				touched := inputevent.KeyEventState(ie.Value) == inputevent.KeyStateDown
				self.changed = self.changed || touched != self.touched
				self.touched = touched
			}

		case evSyn:
			if ie.Code != synReport || !self.changed {
				continue
			}
			self.changed = false
			self.log.Debugf("%s touch=%t x=%d y=%d", DevInputEventTag, self.touched, self.x, self.y)
			return types.InputEvent{
				Source: DevInputEventTag,
				Key:    types.InputKey(btnTouch),
				Up:     !self.touched,
				X:      self.x,
				Y:      self.y,
			}, nil
		}
	}
}

func clampCoord(v int32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}
