package wifi

import (
	"context"
	"net"
	"sync"

	"github.com/juju/errors"
)

// MockRadio simulates radio for tests and dev shell.
// Join succeeds when Accept returns true, after JoinPolls status checks.
// Rejected join stays LinkConnecting forever unless FailFast.
// SharedRadio models single device: Associate takes AP down until ResumeAccessPoint.
type MockRadio struct {
	mu sync.Mutex

	Networks  []Network
	MAC       net.HardwareAddr
	Accept    func(ssid, passphrase string) bool
	JoinPolls int
	FailFast  bool
	ScanErr   error
	APErr     error

	SharedRadio bool

	ap          *AccessPoint
	parked      *AccessPoint
	state       LinkState
	pending     int
	accepted    bool
	Associated  []string
	Disconnects int
	APStarts    int
	APStops     int
	APResumes   int
}

var _ Radio = &MockRadio{}

func NewMockRadio() *MockRadio {
	return &MockRadio{
		MAC:    net.HardwareAddr{0x24, 0x6f, 0x28, 0x01, 0xa3, 0x5c},
		Accept: func(string, string) bool { return true },
	}
}

func (self *MockRadio) Scan(ctx context.Context) ([]Network, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ScanErr != nil {
		return nil, self.ScanErr
	}
	return append([]Network(nil), self.Networks...), nil
}

func (self *MockRadio) Associate(ctx context.Context, ssid, passphrase string) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Associated = append(self.Associated, ssid)
	if self.SharedRadio && self.ap != nil {
		self.parked, self.ap = self.ap, nil
	}
	self.accepted = self.Accept == nil || self.Accept(ssid, passphrase)
	self.pending = self.JoinPolls
	self.state = LinkConnecting
	return nil
}

func (self *MockRadio) Status(ctx context.Context) (LinkState, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.state != LinkConnecting {
		return self.state, nil
	}
	if self.pending > 0 {
		self.pending--
		return LinkConnecting, nil
	}
	switch {
	case self.accepted:
		self.state = LinkConnected
	case self.FailFast:
		self.state = LinkFailed
	}
	return self.state, nil
}

func (self *MockRadio) Disconnect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Disconnects++
	self.state = LinkDisconnected
	return nil
}

func (self *MockRadio) StartAccessPoint(ctx context.Context, ap AccessPoint) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.APErr != nil {
		return self.APErr
	}
	if self.ap != nil || self.parked != nil {
		return errors.AlreadyExistsf("access point")
	}
	self.ap = &ap
	self.APStarts++
	return nil
}

func (self *MockRadio) StopAccessPoint(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ap != nil || self.parked != nil {
		self.APStops++
	}
	self.ap, self.parked = nil, nil
	return nil
}

func (self *MockRadio) ResumeAccessPoint(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ap == nil && self.parked != nil {
		self.ap, self.parked = self.parked, nil
		self.APResumes++
	}
	return nil
}

// AccessPoint returns running AP settings, nil when stopped.
func (self *MockRadio) AccessPoint() *AccessPoint {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.ap == nil {
		return nil
	}
	ap := *self.ap
	return &ap
}

func (self *MockRadio) State() LinkState {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state
}

func (self *MockRadio) HardwareAddr() (net.HardwareAddr, error) {
	if self.MAC == nil {
		return nil, errors.NotFoundf("mock mac")
	}
	return self.MAC, nil
}
