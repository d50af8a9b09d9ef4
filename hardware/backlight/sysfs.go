package backlight

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Sysfs drives Linux backlight class device, e.g. /sys/class/backlight/soc:backlight
type Sysfs struct {
	path string
	max  uint64
}

func NewSysfs(device string) (*Sysfs, error) {
	if device == "" {
		return nil, errors.NotValidf("backlight sysfs device=empty")
	}
	b, err := os.ReadFile(filepath.Join(device, "max_brightness"))
	if err != nil {
		return nil, errors.Annotatef(err, "backlight sysfs device=%s", device)
	}
	max, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil || max == 0 {
		return nil, errors.NotValidf("backlight sysfs max_brightness=%q", b)
	}
	return &Sysfs{path: filepath.Join(device, "brightness"), max: max}, nil
}

func (self *Sysfs) SetDuty(duty uint8) error {
	value := uint64(duty) * self.max / uint64(255)
	err := os.WriteFile(self.path, []byte(strconv.FormatUint(value, 10)), 0644)
	return errors.Annotatef(err, "backlight sysfs write=%d", value)
}

func (self *Sysfs) Close() error { return nil }
