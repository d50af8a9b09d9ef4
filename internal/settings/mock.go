package settings

import (
	"sync"

	"github.com/tankmon/kiosk/log2"
)

// MemStorage is in-memory Storage for tests and simulator.
type MemStorage struct {
	mu        sync.Mutex
	data      []byte
	Writes    int
	FailRead  error
	FailWrite error
}

func (self *MemStorage) Read() ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.FailRead != nil {
		return nil, self.FailRead
	}
	if self.data == nil {
		return nil, nil
	}
	return append([]byte(nil), self.data...), nil
}

func (self *MemStorage) Write(b []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.FailWrite != nil {
		return 0, self.FailWrite
	}
	self.data = append([]byte(nil), b...)
	self.Writes++
	return len(b), nil
}

func (self *MemStorage) Bytes() []byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]byte(nil), self.data...)
}

func (self *MemStorage) Set(b []byte) {
	self.mu.Lock()
	self.data = append([]byte(nil), b...)
	self.mu.Unlock()
}

type MemBackend struct {
	mu   sync.Mutex
	keys map[string]*MemStorage
}

func NewMemBackend() *MemBackend {
	return &MemBackend{keys: make(map[string]*MemStorage)}
}

// Key returns storage slot, creating empty one on first access.
func (self *MemBackend) Key(key string) *MemStorage {
	self.mu.Lock()
	defer self.mu.Unlock()
	s, ok := self.keys[key]
	if !ok {
		s = new(MemStorage)
		self.keys[key] = s
	}
	return s
}

func (self *MemBackend) Open(key string) Storage { return self.Key(key) }

func NewMemStore(log *log2.Log) (*Store, *MemBackend) {
	b := NewMemBackend()
	return NewStore(log, b.Open), b
}
