package state

import (
	"path/filepath"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/hardware/backlight"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/internal/lifecycle"
	"github.com/tankmon/kiosk/internal/provision"
	"github.com/tankmon/kiosk/log2"
	tele_config "github.com/tankmon/kiosk/tele/config"
)

const (
	RadioNone           = "none"
	RadioMock           = "mock"
	RadioNetworkManager = "networkmanager"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Hardware struct {
		Backlight backlight.Config `hcl:"backlight"`
		Display   struct {
			Framebuffer string `hcl:"framebuffer"`
		} `hcl:"display"`
		Touch struct {
			Enable bool   `hcl:"enable"`
			Device string `hcl:"device"`
		} `hcl:"touch"`
	} `hcl:"hardware"`

	Log struct {
		Level string `hcl:"level"`
	} `hcl:"log"`
	Loop struct {
		TickMs      int `hcl:"tick_ms"`
		EventBuffer int `hcl:"event_buffer"`
	} `hcl:"loop"`
	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`
	Provision struct { //nolint:maligned
		Radio          string `hcl:"radio"`
		Interface      string `hcl:"interface"`
		APInterface    string `hcl:"ap_interface"`
		DnsmasqDir     string `hcl:"dnsmasq_dir"`
		SSIDPrefix     string `hcl:"ssid_prefix"`
		APAddress      string `hcl:"ap_address"`
		HTTPListen     string `hcl:"http_listen"`
		DNSListen      string `hcl:"dns_listen"`
		JoinTimeoutSec int    `hcl:"join_timeout_sec"`
		PollMs         int    `hcl:"poll_ms"`
	} `hcl:"provision"`
	Restart struct {
		Command []string `hcl:"command"`
	} `hcl:"restart"`
	Tele tele_config.Config `hcl:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	errs = append(errs, errors.Annotate(validation.ValidateStruct(&c.Provision,
		validation.Field(&c.Provision.Radio, validation.In("", RadioNone, RadioMock, RadioNetworkManager)),
		validation.Field(&c.Provision.SSIDPrefix, validation.Length(0, 24)),
		validation.Field(&c.Provision.JoinTimeoutSec, validation.Min(0), validation.Max(600)),
		validation.Field(&c.Provision.PollMs, validation.Min(0)),
	), "config: provision"))
	errs = append(errs, errors.Annotate(validation.ValidateStruct(&c.Hardware.Backlight,
		validation.Field(&c.Hardware.Backlight.Driver, validation.In("", "none", "sysfs", "pwm", "gpio")),
		validation.Field(&c.Hardware.Backlight.Device, validation.When(c.Hardware.Backlight.Driver == "sysfs", validation.Required)),
		validation.Field(&c.Hardware.Backlight.Pin, validation.When(c.Hardware.Backlight.Driver == "pwm", validation.Required)),
		validation.Field(&c.Hardware.Backlight.Chip, validation.When(c.Hardware.Backlight.Driver == "gpio", validation.Required)),
	), "config: hardware.backlight"))
	errs = append(errs, errors.Annotate(validation.ValidateStruct(&c.Loop,
		validation.Field(&c.Loop.TickMs, validation.Min(0), validation.Max(1000)),
		validation.Field(&c.Loop.EventBuffer, validation.Min(0)),
	), "config: loop"))
	errs = append(errs, errors.Annotate(validation.ValidateStruct(&c.Tele,
		validation.Field(&c.Tele.Broker, validation.When(c.Tele.Enabled, validation.Required)),
	), "config: tele"))
	if c.Log.Level != "" {
		if _, err := log2.ParseLevel(c.Log.Level); err != nil {
			errs = append(errs, errors.Annotate(err, "config: log.level"))
		}
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		Tick:        helpers.IntMillisecondDefault(c.Loop.TickMs, lifecycle.DefaultTick),
		EventBuffer: c.Loop.EventBuffer,
	}
}

func (c *Config) ProvisionConfig() provision.Config {
	return provision.Config{
		SSIDPrefix:   c.Provision.SSIDPrefix,
		APAddress:    c.Provision.APAddress,
		HTTPListen:   c.Provision.HTTPListen,
		DNSListen:    c.Provision.DNSListen,
		JoinTimeout:  helpers.IntSecondDefault(c.Provision.JoinTimeoutSec, 0),
		PollInterval: time.Duration(c.Provision.PollMs) * time.Millisecond,
	}
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.AlreadyExistsf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values override earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		errs = append(errs, c.Validate())
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
