// Package backlight drives display backlight brightness.
// Duty is 0..255, 0 means backlight off.
package backlight

import (
	"io"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/log2"
)

type Driver interface {
	SetDuty(duty uint8) error
	io.Closer
}

type Config struct {
	Driver  string `hcl:"driver"`  // sysfs|pwm|gpio|none
	Device  string `hcl:"device"`  // sysfs: /sys/class/backlight/NAME
	Pin     string `hcl:"pin"`     // pwm: periph pin name, e.g. GPIO18
	FreqHz  int    `hcl:"freq_hz"` // pwm
	Chip    string `hcl:"chip"`    // gpio: /dev/gpiochipN
	Line    int    `hcl:"line"`    // gpio
	Inverse bool   `hcl:"inverse"` // gpio: active low
}

// 2kHz matches LEDC PWM setting commonly used for ILI9341 panels.
const DefaultFreqHz = 2000

func Open(log *log2.Log, c Config) (Driver, error) {
	switch c.Driver {
	case "", "none":
		log.Debugf("backlight driver=none")
		return &Mock{}, nil
	case "sysfs":
		return NewSysfs(c.Device)
	case "pwm":
		return NewPWM(c.Pin, c.FreqHz)
	case "gpio":
		return NewGPIO(c.Chip, uint32(c.Line), c.Inverse)
	}
	return nil, errors.NotSupportedf("backlight driver=%s", c.Driver)
}
