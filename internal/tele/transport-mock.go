package tele

import (
	"context"
	"sync/atomic"

	"github.com/tankmon/kiosk/log2"
	tele_config "github.com/tankmon/kiosk/tele/config"
)

// MockTransport records delivered payloads. Offline rejects all sends.
type MockTransport struct {
	offline uint32
	closed  uint32
	States  chan []byte
	Events  chan []byte
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		States: make(chan []byte, 32),
		Events: make(chan []byte, 32),
	}
}

func (self *MockTransport) Init(context.Context, *log2.Log, tele_config.Config, []byte) error {
	return nil
}

func (self *MockTransport) SetOffline(v bool) {
	x := uint32(0)
	if v {
		x = 1
	}
	atomic.StoreUint32(&self.offline, x)
}

func (self *MockTransport) Closed() bool { return atomic.LoadUint32(&self.closed) == 1 }
func (self *MockTransport) Close()       { atomic.StoreUint32(&self.closed, 1) }

func (self *MockTransport) SendState(payload []byte) bool { return self.send(self.States, payload) }
func (self *MockTransport) SendEvent(payload []byte) bool { return self.send(self.Events, payload) }

func (self *MockTransport) send(ch chan []byte, payload []byte) bool {
	if atomic.LoadUint32(&self.offline) == 1 {
		return false
	}
	ch <- append([]byte(nil), payload...)
	return true
}
