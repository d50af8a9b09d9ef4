// Package input reads touch panel samples and forwards them
// to lifecycle controller as typed events.
package input

import (
	"io"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/internal/types"
	"github.com/tankmon/kiosk/log2"
	"golang.org/x/sync/errgroup"
)

type Source interface {
	Read() (types.InputEvent, error)
	String() string
	io.Closer
}

// Dispatch pumps all sources into one event channel.
// Touch samples are lossy: when consumer is behind, new samples are dropped.
type Dispatch struct {
	Log     *log2.Log
	out     chan<- types.Event
	stop    <-chan struct{}
	dropped uint32
}

func NewDispatch(log *log2.Log, out chan<- types.Event, stop <-chan struct{}) *Dispatch {
	return &Dispatch{
		Log:  log,
		out:  out,
		stop: stop,
	}
}

// Run blocks until stop or first source error.
func (self *Dispatch) Run(sources []Source) error {
	var group errgroup.Group
	for _, source := range sources {
		source := source
		group.Go(func() error { return self.readSource(source) })
	}
	go func() {
		<-self.stop
		for _, source := range sources {
			if err := source.Close(); err != nil {
				self.Log.Debugf("input source=%s close err=%v", source.String(), err)
			}
		}
	}()
	err := group.Wait()
	select {
	case <-self.stop:
		return nil
	default:
		return err
	}
}

// Emit returns false when event was dropped.
func (self *Dispatch) Emit(ie types.InputEvent) bool {
	ev := types.Event{Kind: types.EventTouch, Input: ie}
	select {
	case self.out <- ev:
		self.Log.Debugf("input emit=%s", ev.String())
		return true
	case <-self.stop:
		return false
	default:
		self.dropped++
		self.Log.Debugf("input drop=%s total=%d", ev.String(), self.dropped)
		return false
	}
}

func (self *Dispatch) readSource(source Source) error {
	tag := source.String()
	for {
		event, err := source.Read()
		if err != nil {
			select {
			case <-self.stop:
				return nil
			default:
			}
			return errors.Annotatef(err, "input source=%s", tag)
		}
		self.Emit(event)
	}
}
