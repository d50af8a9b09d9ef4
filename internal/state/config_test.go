package state

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankmon/kiosk/internal/lifecycle"
	"github.com/tankmon/kiosk/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		sources   map[string]string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", map[string]string{"main": ""}, func(t testing.TB, c *Config) {
			assert.Equal(t, "", c.Provision.Radio)
			assert.Equal(t, lifecycle.DefaultTick, c.LifecycleConfig().Tick)
		}, ""},

		{"full", map[string]string{"main": `
persist { root = "/var/lib/kiosk" }
log { level = "debug" }
loop { tick_ms = 10 event_buffer = 16 }
provision {
	radio = "networkmanager"
	interface = "wlan1"
	dnsmasq_dir = "/run/nm-dnsmasq.d"
	ssid_prefix = "Tank-"
	http_listen = ":80"
	dns_listen = ":53"
	join_timeout_sec = 15
	poll_ms = 250
}
hardware {
	backlight { driver = "sysfs" device = "/sys/class/backlight/fb_ili9341" }
	display { framebuffer = "/dev/fb1" }
	touch { enable = true device = "/dev/input/event0" }
}
tele { enable = true broker = "tcp://mqtt.local:1883" client_id = "kiosk7" }
restart { command = ["systemctl", "reboot"] }
`}, func(t testing.TB, c *Config) {
			assert.Equal(t, "/var/lib/kiosk", c.Persist.Root)
			assert.Equal(t, "debug", c.Log.Level)
			assert.Equal(t, lifecycle.Config{Tick: 10 * time.Millisecond, EventBuffer: 16}, c.LifecycleConfig())
			pc := c.ProvisionConfig()
			assert.Equal(t, "Tank-", pc.SSIDPrefix)
			assert.Equal(t, ":80", pc.HTTPListen)
			assert.Equal(t, ":53", pc.DNSListen)
			assert.Equal(t, 15*time.Second, pc.JoinTimeout)
			assert.Equal(t, 250*time.Millisecond, pc.PollInterval)
			assert.Equal(t, "wlan1", c.Provision.Interface)
			assert.Equal(t, "/run/nm-dnsmasq.d", c.Provision.DnsmasqDir)
			assert.Equal(t, "sysfs", c.Hardware.Backlight.Driver)
			assert.Equal(t, "/dev/fb1", c.Hardware.Display.Framebuffer)
			assert.True(t, c.Hardware.Touch.Enable)
			assert.True(t, c.Tele.Enabled)
			assert.Equal(t, "kiosk7", c.Tele.ClientID)
			assert.Equal(t, []string{"systemctl", "reboot"}, c.Restart.Command)
		}, ""},

		{"include-override", map[string]string{
			"main":  `provision { ssid_prefix = "A-" } include "local" {}`,
			"local": `provision { ssid_prefix = "B-" }`,
		}, func(t testing.TB, c *Config) {
			assert.Equal(t, "B-", c.Provision.SSIDPrefix)
		}, ""},

		{"include-optional-missing", map[string]string{
			"main": `include "absent" { optional = true }`,
		}, nil, ""},

		{"include-required-missing", map[string]string{
			"main": `include "absent" {}`,
		}, nil, "config required name=absent"},

		{"include-loop", map[string]string{
			"main":  `include "other" {}`,
			"other": `include "main" {}`,
		}, nil, "include loop"},

		{"syntax", map[string]string{"main": `provision {`}, nil, "config unmarshal source=main"},
		{"radio", map[string]string{"main": `provision { radio = "bluetooth" }`}, nil, "provision"},
		{"log-level", map[string]string{"main": `log { level = "loud" }`}, nil, "log.level"},
		{"backlight-sysfs-device", map[string]string{"main": `hardware { backlight { driver = "sysfs" } }`}, nil, "backlight"},
		{"tele-broker", map[string]string{"main": `tele { enable = true }`}, nil, "tele"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(c.sources)
			config, err := ReadConfig(log, fs, "main")
			if c.expectErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			if c.check != nil {
				c.check(t, config)
			}
		})
	}
}

func TestOsFullReader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "kiosk.hcl"), []byte(`include "local.hcl" { optional = true }
persist { root = "/data" }`), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "local.hcl"), []byte(`loop { tick_ms = 20 }`), 0600))

	log := log2.NewTest(t, log2.LDebug)
	config, err := ReadConfig(log, NewOsFullReader(), filepath.Join(dir, "kiosk.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "/data", config.Persist.Root)
	assert.Equal(t, 20, config.Loop.TickMs)

	_, err = ReadConfig(log, NewOsFullReader(), filepath.Join(dir, "absent.hcl"))
	assert.Error(t, err)
}
