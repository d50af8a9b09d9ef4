package backlight

import (
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

// GPIO is on/off backlight enable line for panels without PWM dimming.
// Any non-zero duty means on.
type GPIO struct {
	chip    gpio.Chiper
	lines   gpio.Lineser
	set     gpio.LineSetFunc
	inverse bool
}

func NewGPIO(chipName string, line uint32, inverse bool) (*GPIO, error) {
	chip, err := gpio.Open(chipName, "kiosk")
	if err != nil {
		return nil, errors.Annotatef(err, "backlight gpio chip=%s", chipName)
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "backlight", line)
	if err != nil {
		chip.Close()
		return nil, errors.Annotatef(err, "backlight gpio line=%d", line)
	}
	return &GPIO{chip: chip, lines: lines, set: lines.SetFunc(line), inverse: inverse}, nil
}

func (self *GPIO) SetDuty(duty uint8) error {
	on := duty != 0
	if on != self.inverse {
		self.set(1)
	} else {
		self.set(0)
	}
	return errors.Annotate(self.lines.Flush(), "backlight gpio flush")
}

func (self *GPIO) Close() error {
	err1 := self.lines.Close()
	err2 := self.chip.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
