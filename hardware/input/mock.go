package input

import (
	"io"

	"github.com/tankmon/kiosk/internal/types"
)

const MockTag = "mock"

// MockSource replays events sent to C, Close unblocks Read with io.EOF.
type MockSource struct {
	C    chan types.InputEvent
	stop chan struct{}
}

func NewMockSource() *MockSource {
	return &MockSource{
		C:    make(chan types.InputEvent),
		stop: make(chan struct{}),
	}
}

func (self *MockSource) String() string { return MockTag }

func (self *MockSource) Read() (types.InputEvent, error) {
	select {
	case ev := <-self.C:
		return ev, nil
	case <-self.stop:
		return types.InputEvent{}, io.EOF
	}
}

func (self *MockSource) Close() error {
	select {
	case <-self.stop:
	default:
		close(self.stop)
	}
	return nil
}
