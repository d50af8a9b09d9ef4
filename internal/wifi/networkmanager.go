package wifi

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/log2"
)

const (
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface         = "org.freedesktop.NetworkManager"
	nmDeviceWifi    = "org.freedesktop.NetworkManager.Device.Wireless"
	nmAccessPoint   = "org.freedesktop.NetworkManager.AccessPoint"
	nmActive        = "org.freedesktop.NetworkManager.Connection.Active"
	nmSettingsConn  = "org.freedesktop.NetworkManager.Settings.Connection"
	nmClientConnID  = "kiosk-client"
	nmHotspotConnID = "kiosk-hotspot"

	// NM_ACTIVE_CONNECTION_STATE_*
	nmActiveActivating   = 1
	nmActiveActivated    = 2
	nmActiveDeactivating = 3
	nmActiveDeactivated  = 4

	nmScanWait = 200 * time.Millisecond

	DefaultDnsmasqDir  = "/etc/NetworkManager/dnsmasq-shared.d"
	captiveDnsmasqFile = "kiosk-captive.conf"
)

type NetworkManagerConfig struct {
	Interface   string
	APInterface string // empty means same radio as Interface
	// NetworkManager runs dnsmasq for shared connections with this conf-dir.
	// Drop-in disables dnsmasq DNS so that captive resolver owns port 53.
	DnsmasqDir string
}

type nmConnection struct {
	settings dbus.ObjectPath
	active   dbus.ObjectPath
}

// NetworkManager drives wireless device over system D-Bus.
// Station and AP may use different interfaces on dual radio boards.
type NetworkManager struct {
	mu       sync.Mutex
	log      *log2.Log
	conn     *dbus.Conn
	nm       dbus.BusObject
	device   dbus.ObjectPath
	apDevice dbus.ObjectPath
	client   nmConnection
	hotspot  nmConnection

	dnsmasqDir string
}

var _ Radio = &NetworkManager{}

func NewNetworkManager(ctx context.Context, log *log2.Log, config NetworkManagerConfig) (*NetworkManager, error) {
	if config.DnsmasqDir == "" {
		config.DnsmasqDir = DefaultDnsmasqDir
	}
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, errors.Annotate(err, "dbus system bus")
	}
	self := &NetworkManager{
		log:        log,
		conn:       conn,
		nm:         conn.Object(nmDest, nmPath),
		dnsmasqDir: config.DnsmasqDir,
	}
	if self.device, err = self.deviceByIface(ctx, config.Interface); err != nil {
		conn.Close()
		return nil, err
	}
	self.apDevice = self.device
	if config.APInterface != "" && config.APInterface != config.Interface {
		if self.apDevice, err = self.deviceByIface(ctx, config.APInterface); err != nil {
			conn.Close()
			return nil, err
		}
	}
	log.Debugf("wifi networkmanager iface=%s device=%s ap_device=%s", config.Interface, self.device, self.apDevice)
	return self, nil
}

// sharedRadio is true when station and AP use the same device.
// Activating client profile then takes AP down.
func (self *NetworkManager) sharedRadio() bool { return self.device == self.apDevice }

func (self *NetworkManager) Close() error { return self.conn.Close() }

func (self *NetworkManager) deviceByIface(ctx context.Context, iface string) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	err := self.nm.CallWithContext(ctx, nmIface+".GetDeviceByIpIface", 0, iface).Store(&path)
	return path, errors.Annotatef(err, "networkmanager device iface=%s", iface)
}

func (self *NetworkManager) Scan(ctx context.Context) ([]Network, error) {
	dev := self.conn.Object(nmDest, self.device)
	before, _ := self.lastScan(dev)
	if err := dev.CallWithContext(ctx, nmDeviceWifi+".RequestScan", 0, map[string]dbus.Variant{}).Err; err != nil {
		// NM refuses too frequent scans, cached list is still useful
		self.log.Debugf("wifi scan request err=%v", err)
	} else {
		self.waitScan(ctx, dev, before)
	}

	var aps []dbus.ObjectPath
	if err := dev.CallWithContext(ctx, nmDeviceWifi+".GetAllAccessPoints", 0).Store(&aps); err != nil {
		return nil, errors.Annotate(err, "wifi scan list")
	}
	result := make([]Network, 0, len(aps))
	seen := make(map[string]struct{}, len(aps))
	for _, path := range aps {
		n, err := self.accessPoint(path)
		if err != nil {
			self.log.Debugf("wifi scan ap=%s err=%v", path, err)
			continue
		}
		if n.SSID == "" {
			continue
		}
		if _, ok := seen[n.SSID]; ok {
			continue
		}
		seen[n.SSID] = struct{}{}
		result = append(result, n)
	}
	return result, nil
}

func (self *NetworkManager) lastScan(dev dbus.BusObject) (int64, error) {
	v, err := dev.GetProperty(nmDeviceWifi + ".LastScan")
	if err != nil {
		return 0, err
	}
	x, _ := v.Value().(int64)
	return x, nil
}

func (self *NetworkManager) waitScan(ctx context.Context, dev dbus.BusObject, before int64) {
	tick := time.NewTicker(nmScanWait)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if last, err := self.lastScan(dev); err != nil || last != before {
				return
			}
		}
	}
}

func (self *NetworkManager) accessPoint(path dbus.ObjectPath) (Network, error) {
	obj := self.conn.Object(nmDest, path)
	ssid, err := obj.GetProperty(nmAccessPoint + ".Ssid")
	if err != nil {
		return Network{}, err
	}
	n := Network{}
	if b, ok := ssid.Value().([]byte); ok {
		n.SSID = string(b)
	}
	if v, err := obj.GetProperty(nmAccessPoint + ".Strength"); err == nil {
		n.Signal, _ = v.Value().(byte)
	}
	for _, p := range []string{".WpaFlags", ".RsnFlags"} {
		if v, err := obj.GetProperty(nmAccessPoint + p); err == nil {
			if flags, _ := v.Value().(uint32); flags != 0 {
				n.Secured = true
			}
		}
	}
	return n, nil
}

func (self *NetworkManager) Associate(ctx context.Context, ssid, passphrase string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.drop(ctx, &self.client); err != nil {
		self.log.Debugf("wifi drop previous client err=%v", err)
	}
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(nmClientConnID),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(true),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
	}
	if passphrase != "" {
		settings["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(passphrase),
		}
	}
	if self.sharedRadio() && self.hotspot.settings != "" {
		self.log.Debugf("wifi associate ssid=%q takes access point down until resume", ssid)
	}
	c, err := self.activate(ctx, settings, self.device)
	if err != nil {
		return errors.Annotatef(err, "wifi associate ssid=%q", ssid)
	}
	self.client = c
	return nil
}

func (self *NetworkManager) Status(ctx context.Context) (LinkState, error) {
	self.mu.Lock()
	active := self.client.active
	self.mu.Unlock()
	if active == "" {
		return LinkDisconnected, nil
	}
	v, err := self.conn.Object(nmDest, active).GetProperty(nmActive + ".State")
	if err != nil {
		// active connection object disappears when activation fails
		return LinkFailed, nil
	}
	state, _ := v.Value().(uint32)
	switch state {
	case nmActiveActivating:
		return LinkConnecting, nil
	case nmActiveActivated:
		return LinkConnected, nil
	case nmActiveDeactivating, nmActiveDeactivated:
		return LinkFailed, nil
	}
	return LinkConnecting, nil
}

// Disconnect deactivates and forgets client profile, successful join keeps it for next boot.
func (self *NetworkManager) Disconnect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.drop(ctx, &self.client)
}

func (self *NetworkManager) StartAccessPoint(ctx context.Context, ap AccessPoint) error {
	if ap.Address == nil {
		return errors.NotValidf("access point address=nil")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.hotspot.settings != "" {
		return errors.AlreadyExistsf("access point")
	}
	prefix, _ := ap.Address.Mask.Size()
	gateway := ap.Address.IP.String()
	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(nmHotspotConnID),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ap.SSID)),
			"mode": dbus.MakeVariant("ap"),
			"band": dbus.MakeVariant("bg"),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(ap.Passphrase),
		},
		// shared: NetworkManager serves DHCP leases from address-data subnet
		"ipv4": {
			"method": dbus.MakeVariant("shared"),
			"address-data": dbus.MakeVariant([]map[string]dbus.Variant{{
				"address": dbus.MakeVariant(gateway),
				"prefix":  dbus.MakeVariant(uint32(prefix)),
			}}),
		},
		"ipv6": {"method": dbus.MakeVariant("ignore")},
	}
	if err := WriteCaptiveDnsmasq(self.dnsmasqDir, ap.Address.IP); err != nil {
		return errors.Annotatef(err, "wifi access point ssid=%q", ap.SSID)
	}
	c, err := self.activate(ctx, settings, self.apDevice)
	if err != nil {
		self.removeCaptiveDnsmasq()
		return errors.Annotatef(err, "wifi access point ssid=%q", ap.SSID)
	}
	self.hotspot = c
	self.log.Infof("wifi access point ssid=%q address=%s", ap.SSID, ap.Address.String())
	return nil
}

func (self *NetworkManager) StopAccessPoint(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.hotspot.settings != "" {
		defer self.removeCaptiveDnsmasq()
	}
	return errors.Annotate(self.drop(ctx, &self.hotspot), "wifi stop access point")
}

// ResumeAccessPoint re-activates kept hotspot profile on shared radio.
func (self *NetworkManager) ResumeAccessPoint(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.hotspot.settings == "" || !self.sharedRadio() {
		return nil
	}
	if self.hotspot.active != "" {
		v, err := self.conn.Object(nmDest, self.hotspot.active).GetProperty(nmActive + ".State")
		if err == nil {
			if state, _ := v.Value().(uint32); state == nmActiveActivating || state == nmActiveActivated {
				return nil
			}
		}
	}
	var active dbus.ObjectPath
	err := self.nm.CallWithContext(ctx, nmIface+".ActivateConnection", 0,
		self.hotspot.settings, self.apDevice, dbus.ObjectPath("/")).Store(&active)
	if err != nil {
		return errors.Annotate(err, "wifi resume access point")
	}
	self.hotspot.active = active
	self.log.Infof("wifi access point resumed")
	return nil
}

func (self *NetworkManager) removeCaptiveDnsmasq() {
	if err := os.Remove(filepath.Join(self.dnsmasqDir, captiveDnsmasqFile)); err != nil && !os.IsNotExist(err) {
		self.log.Errorf("wifi remove dnsmasq drop-in err=%v", err)
	}
}

// CaptiveDnsmasqConf disables dnsmasq DNS and advertises gateway as resolver via DHCP.
func CaptiveDnsmasqConf(gateway net.IP) []byte {
	return []byte(fmt.Sprintf("# kiosk provisioning: DNS is answered by captive resolver\nport=0\ndhcp-option=option:dns-server,%s\n", gateway.String()))
}

func WriteCaptiveDnsmasq(dir string, gateway net.IP) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Annotatef(err, "dnsmasq dir=%s", dir)
	}
	path := filepath.Join(dir, captiveDnsmasqFile)
	return errors.Annotatef(os.WriteFile(path, CaptiveDnsmasqConf(gateway), 0644), "dnsmasq write=%s", path)
}

func (self *NetworkManager) HardwareAddr() (net.HardwareAddr, error) {
	v, err := self.conn.Object(nmDest, self.apDevice).GetProperty(nmDeviceWifi + ".HwAddress")
	if err != nil {
		return nil, errors.Annotate(err, "wifi hwaddress")
	}
	s, _ := v.Value().(string)
	mac, err := net.ParseMAC(s)
	return mac, errors.Annotatef(err, "wifi hwaddress=%q", s)
}

func (self *NetworkManager) activate(ctx context.Context, settings map[string]map[string]dbus.Variant, device dbus.ObjectPath) (nmConnection, error) {
	var c nmConnection
	err := self.nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0,
		settings, device, dbus.ObjectPath("/")).Store(&c.settings, &c.active)
	return c, errors.Trace(err)
}

// drop caller must hold mu
func (self *NetworkManager) drop(ctx context.Context, c *nmConnection) error {
	if c.settings == "" && c.active == "" {
		return nil
	}
	var err1, err2 error
	if c.active != "" {
		err1 = self.nm.CallWithContext(ctx, nmIface+".DeactivateConnection", 0, c.active).Err
	}
	if c.settings != "" {
		err2 = self.conn.Object(nmDest, c.settings).CallWithContext(ctx, nmSettingsConn+".Delete", 0).Err
	}
	*c = nmConnection{}
	if err2 != nil {
		return errors.Annotate(err2, "networkmanager delete connection")
	}
	// deactivate fails when NM already dropped failed activation
	if err1 != nil {
		self.log.Debugf("networkmanager deactivate err=%v", err1)
	}
	return nil
}
