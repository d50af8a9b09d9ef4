package backlight

import (
	"github.com/juju/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// PWM drives backlight via hardware PWM capable pin.
type PWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

func NewPWM(pinName string, freqHz int) (*PWM, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, errors.NotFoundf("backlight pwm pin=%s", pinName)
	}
	if freqHz <= 0 {
		freqHz = DefaultFreqHz
	}
	return &PWM{pin: pin, freq: physic.Frequency(freqHz) * physic.Hertz}, nil
}

func (self *PWM) SetDuty(duty uint8) error {
	if duty == 0 {
		return errors.Annotate(self.pin.Out(gpio.Low), "backlight pwm off")
	}
	d := gpio.Duty(uint64(duty) * uint64(gpio.DutyMax) / 255)
	return errors.Annotatef(self.pin.PWM(d, self.freq), "backlight pwm duty=%s", d.String())
}

func (self *PWM) Close() error { return self.pin.Halt() }
