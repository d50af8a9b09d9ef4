package wifi

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/log2"
)

const (
	DefaultJoinTimeout  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

type Result uint8

const (
	ResultNone Result = iota
	ResultPending
	ResultJoined
	ResultTimedOut
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultPending:
		return "pending"
	case ResultJoined:
		return "joined"
	case ResultTimedOut:
		return "timeout"
	case ResultFailed:
		return "failed"
	}
	return "invalid"
}

type attempt struct {
	ssid     string
	deadline time.Duration
	nextPoll time.Duration
	polls    int
}

// Supervisor runs at most one join attempt, driven by Poll from main loop.
// Not safe for concurrent use.
type Supervisor struct {
	log          *log2.Log
	radio        Radio
	pollInterval time.Duration
	current      *attempt
	attempts     uint32
}

func NewSupervisor(log *log2.Log, radio Radio, pollInterval time.Duration) *Supervisor {
	if radio == nil {
		panic("code error wifi radio=nil")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Supervisor{log: log, radio: radio, pollInterval: pollInterval}
}

func (self *Supervisor) Radio() Radio     { return self.radio }
func (self *Supervisor) Active() bool     { return self.current != nil }
func (self *Supervisor) Attempts() uint32 { return self.attempts }

// Begin starts association. Previous attempt, if any, is aborted.
func (self *Supervisor) Begin(ctx context.Context, ssid, passphrase string, timeout, now time.Duration) error {
	if ssid == "" {
		return errors.NotValidf("wifi join ssid=empty")
	}
	if self.current != nil {
		self.Abort(ctx)
	}
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	self.attempts++
	self.log.Infof("wifi join ssid=%q attempt=%d timeout=%v", ssid, self.attempts, timeout)
	self.current = &attempt{
		ssid:     ssid,
		deadline: now + timeout,
		nextPoll: now,
	}
	if err := self.radio.Associate(ctx, ssid, passphrase); err != nil {
		self.current = nil
		self.disconnect(ctx)
		return errors.Annotatef(err, "wifi associate ssid=%q", ssid)
	}
	return nil
}

// Poll returns ResultNone without attempt, ResultPending while waiting,
// otherwise final result and attempt is cleared.
// Link status is checked at most once per poll interval and once more at deadline.
func (self *Supervisor) Poll(ctx context.Context, now time.Duration) Result {
	a := self.current
	if a == nil {
		return ResultNone
	}
	expired := now >= a.deadline
	if now >= a.nextPoll || expired {
		a.nextPoll = now + self.pollInterval
		a.polls++
		state, err := self.radio.Status(ctx)
		switch {
		case err != nil:
			self.log.Errorf("wifi status err=%v", err)
		case state == LinkConnected:
			self.log.Infof("wifi joined ssid=%q polls=%d", a.ssid, a.polls)
			self.current = nil
			return ResultJoined
		case state == LinkFailed:
			self.log.Infof("wifi join failed ssid=%q polls=%d", a.ssid, a.polls)
			self.current = nil
			self.disconnect(ctx)
			return ResultFailed
		}
	}
	if expired {
		self.log.Infof("wifi join timeout ssid=%q polls=%d", a.ssid, a.polls)
		self.current = nil
		self.disconnect(ctx)
		return ResultTimedOut
	}
	return ResultPending
}

// Abort abandons in-flight attempt and disconnects radio.
func (self *Supervisor) Abort(ctx context.Context) {
	if self.current == nil {
		return
	}
	self.log.Debugf("wifi join abort ssid=%q", self.current.ssid)
	self.current = nil
	self.disconnect(ctx)
}

// AttemptJoin blocks until attempt completes or ctx is done.
func (self *Supervisor) AttemptJoin(ctx context.Context, clock helpers.Clock, ssid, passphrase string, timeout time.Duration) (Result, error) {
	if err := self.Begin(ctx, ssid, passphrase, timeout, clock.Now()); err != nil {
		return ResultFailed, err
	}
	step := self.pollInterval / 5
	if step < time.Millisecond {
		step = time.Millisecond
	}
	tick := time.NewTicker(step)
	defer tick.Stop()
	for {
		if r := self.Poll(ctx, clock.Now()); r != ResultPending {
			return r, nil
		}
		select {
		case <-ctx.Done():
			self.Abort(context.Background())
			return ResultFailed, errors.Trace(ctx.Err())
		case <-tick.C:
		}
	}
}

func (self *Supervisor) disconnect(ctx context.Context) {
	if err := self.radio.Disconnect(ctx); err != nil {
		self.log.Errorf("wifi disconnect err=%v", err)
	}
}
