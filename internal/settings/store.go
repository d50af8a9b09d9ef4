package settings

import (
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/log2"
	"github.com/temoto/extremofile"
)

// Stable logical keys, each maps to separate storage.
const (
	KeySettings   = "settings"
	KeySSID       = "wifi-ssid"
	KeyPassphrase = "wifi-passphrase"
	KeySetup      = "setup"
)

// Storage is single value slot.
// Read returns nil,nil when nothing was written yet.
// Write must replace whole value atomically.
type Storage interface {
	Read() ([]byte, error)
	io.Writer
}

type OpenFunc func(key string) Storage

type Credentials struct {
	SSID       string
	Passphrase string
}

// Store owns all persisted device state.
// Callers must not interleave commit with fresh load, lock only protects storage map.
type Store struct {
	sync.Mutex
	log  *log2.Log
	open OpenFunc
	keys map[string]Storage
}

func NewStore(log *log2.Log, open OpenFunc) *Store {
	if open == nil {
		panic("code error settings open=nil")
	}
	return &Store{
		log:  log,
		open: open,
		keys: make(map[string]Storage, 4),
	}
}

// NewFileStore keeps each key in power-loss safe files under root/key.
func NewFileStore(log *log2.Log, root string) (*Store, error) {
	if root == "" {
		return nil, errors.Errorf("settings persist root=empty")
	}
	open := func(key string) Storage {
		return extremofile.New(extremofile.Config{
			Dir:      filepath.Join(root, key),
			DirPerm:  0700,
			FilePerm: 0600,
		})
	}
	return NewStore(log, open), nil
}

// Load returns persisted record or compiled-in defaults when absent or invalid.
func (self *Store) Load() Record {
	b, err := self.read(KeySettings)
	if err != nil {
		self.log.Errorf("settings load err=%v, using defaults", err)
		return Defaults()
	}
	if b == nil {
		self.log.Debugf("settings load: empty, using defaults")
		return Defaults()
	}
	var r Record
	if err := r.UnmarshalBinary(b); err != nil {
		self.log.Debugf("settings load: %v, using defaults", err)
		return Defaults()
	}
	return r
}

// Save writes record unconditionally in one write.
func (self *Store) Save(r Record) error {
	if err := r.Validate(); err != nil {
		return errors.Annotate(err, "settings save")
	}
	b, _ := r.MarshalBinary()
	return errors.Annotate(self.write(KeySettings, b), "settings save")
}

func (self *Store) LoadSetupFlag() bool {
	b, err := self.read(KeySetup)
	if err != nil {
		self.log.Errorf("settings setup flag err=%v", err)
		return false
	}
	return len(b) == 1 && b[0] == 1
}

func (self *Store) CommitSetupFlag() error {
	return errors.Annotate(self.write(KeySetup, []byte{1}), "settings commit setup flag")
}

// CommitCredentials overwrites network credentials, both keys must succeed.
func (self *Store) CommitCredentials(ssid, passphrase string) error {
	if ssid == "" {
		return errors.NotValidf("credentials ssid=empty")
	}
	if err := self.write(KeySSID, []byte(ssid)); err != nil {
		return errors.Annotate(err, "settings commit ssid")
	}
	if err := self.write(KeyPassphrase, []byte(passphrase)); err != nil {
		return errors.Annotate(err, "settings commit passphrase")
	}
	return nil
}

// Credentials is for network stack on next boot, provisioning never reads it.
func (self *Store) Credentials() (Credentials, bool) {
	ssid, err := self.read(KeySSID)
	if err != nil || len(ssid) == 0 {
		return Credentials{}, false
	}
	pass, err := self.read(KeyPassphrase)
	if err != nil {
		self.log.Errorf("settings credentials passphrase err=%v", err)
		return Credentials{}, false
	}
	return Credentials{SSID: string(ssid), Passphrase: string(pass)}, true
}

func (self *Store) storage(key string) Storage {
	self.Lock()
	defer self.Unlock()
	s, ok := self.keys[key]
	if !ok {
		s = self.open(key)
		self.keys[key] = s
	}
	return s
}

func (self *Store) read(key string) ([]byte, error) {
	tbegin := time.Now()
	b, err := self.storage(key).Read()
	self.log.Debugf("settings %s read duration=%v", key, time.Since(tbegin))
	if extremofile.IsCritical(err) {
		return nil, errors.Annotatef(err, "settings %s read", key)
	}
	if err != nil {
		if b == nil {
			return nil, errors.Annotatef(err, "settings %s read", key)
		}
		self.log.Errorf("settings %s ignore non-critical storage err=%v", key, err)
	}
	return b, nil
}

func (self *Store) write(key string, b []byte) error {
	tbegin := time.Now()
	_, err := self.storage(key).Write(b)
	self.log.Debugf("settings %s write duration=%v", key, time.Since(tbegin))
	return errors.Annotatef(err, "settings %s write", key)
}
