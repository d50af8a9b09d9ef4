package backlight

import "sync"

type Mock struct {
	mu      sync.Mutex
	History []uint8
	Err     error
}

var _ Driver = &Mock{}

func (self *Mock) SetDuty(duty uint8) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Err != nil {
		return self.Err
	}
	self.History = append(self.History, duty)
	return nil
}

// Duty returns last applied duty, 0 if never applied.
func (self *Mock) Duty() uint8 {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.History) == 0 {
		return 0
	}
	return self.History[len(self.History)-1]
}

func (self *Mock) Close() error { return nil }
