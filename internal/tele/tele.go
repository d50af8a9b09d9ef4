package tele

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/log2"
	tele_api "github.com/tankmon/kiosk/tele"
	tele_config "github.com/tankmon/kiosk/tele/config"
	"github.com/temoto/spq"
)

// Tele contract:
//   - Init() fails only with invalid config, network issues ignored
//   - State/Error/Preference calls block at most for disk write,
//     network may be slow or absent, messages will be delivered in background
//   - messages are delivered at least once, in order per kind is not guaranteed
type tele struct { //nolint:maligned
	config    tele_config.Config
	log       *log2.Log
	transport Transporter
	q         *spq.Queue
	backoff   helpers.Backoff
	stopCh    chan struct{}
	doneCh    chan struct{}
	state     uint32 // tele_api.State
	now       func() time.Time
}

func New() tele_api.Teler {
	return &tele{}
}
func NewWithTransporter(trans Transporter) tele_api.Teler {
	return &tele{transport: trans}
}

func (self *tele) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.config = teleConfig
	self.log = log
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	if !self.config.Enabled {
		self.log.Debugf("tele disabled")
		return nil
	}
	if self.config.PersistPath == "" {
		panic("code error must set tele PersistPath")
	}
	if self.now == nil {
		self.now = time.Now
	}
	self.backoff = helpers.Backoff{Min: 100 * time.Millisecond, Max: time.Minute, K: 2}
	self.stopCh = make(chan struct{})
	self.doneCh = make(chan struct{})

	// test code sets .transport
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if err := self.transport.Init(ctx, log, teleConfig, []byte{0x00}); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	var err error
	self.q, err = spq.Open(self.config.PersistPath)
	if err != nil {
		self.transport.Close()
		return errors.Annotate(err, "tele queue")
	}

	go self.qworker()
	self.State(tele_api.StateBoot)
	return nil
}

// Close stops delivery, undelivered messages stay on disk for next boot.
func (self *tele) Close() {
	if self.q == nil {
		return
	}
	close(self.stopCh)
	if err := self.q.Close(); err != nil {
		self.log.Errorf("tele queue close err=%v", err)
	}
	<-self.doneCh
	self.transport.Close()
	self.q = nil
}

// State is sent only on change.
func (self *tele) State(s tele_api.State) {
	if self.q == nil {
		return
	}
	if tele_api.State(atomic.SwapUint32(&self.state, uint32(s))) == s {
		return
	}
	m := newMessage(KindState, self.config.BuildVersion, self.now())
	m.Fields[FieldState] = pbString(s.String())
	self.qpush(qState, m)
}

func (self *tele) Error(err error) {
	if self.q == nil || err == nil {
		return
	}
	m := newMessage(KindError, self.config.BuildVersion, self.now())
	m.Fields[FieldError] = pbString(err.Error())
	self.qpush(qEvent, m)
}

func (self *tele) Preference(name string, value uint8) {
	if self.q == nil {
		return
	}
	m := newMessage(KindPreference, self.config.BuildVersion, self.now())
	m.Fields[FieldName] = pbString(name)
	m.Fields[FieldValue] = pbNumber(float64(value))
	self.qpush(qEvent, m)
}

func (self *tele) qpush(tag byte, pb proto.Message) {
	if err := self.qpushTagProto(tag, pb); err != nil {
		self.log.Errorf("tele queue push tag=%d err=%v", tag, err)
	}
}

func (self *tele) qpushTagProto(tag byte, pb proto.Message) error {
	buf := proto.NewBuffer(make([]byte, 0, 256))
	if err := buf.EncodeVarint(uint64(tag)); err != nil {
		return err
	}
	if err := buf.Marshal(pb); err != nil {
		return err
	}
	return self.q.Push(buf.Bytes())
}

func (self *tele) qworker() {
	defer close(self.doneCh)
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			if self.qhandle(b) {
				self.backoff.Reset()
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
				continue
			}
			if err = self.q.DeletePush(box); err != nil {
				self.log.Errorf("tele qhandle DeletePush b=%x err=%v", b, err)
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh: // success path
			default:
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
		}

		select {
		case <-time.After(self.backoff.DelayAfter(false)):
		case <-self.stopCh:
			return
		}
	}
}

// qhandle returns true when message is done: delivered or undecodable.
func (self *tele) qhandle(b []byte) bool {
	if len(b) < 2 {
		self.log.Errorf("tele spq peek invalid b=%x", b)
		return true
	}
	payload := b[1:]
	switch b[0] {
	case qState:
		return self.transport.SendState(payload)
	case qEvent:
		return self.transport.SendEvent(payload)
	default:
		self.log.Errorf("tele spq unknown tag=%d", b[0])
		return true
	}
}
