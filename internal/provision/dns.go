package provision

import (
	"context"
	"net"
	"sync"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/log2"
	"golang.org/x/net/dns/dnsmessage"
)

const dnsTTL = 60

// DNS answers every A query with portal address so that clients
// associated to soft AP land on captive portal whatever they resolve.
type DNS struct {
	log    *log2.Log
	answer [4]byte
	mu     sync.Mutex
	conn   net.PacketConn
}

func NewDNS(log *log2.Log, ip net.IP) (*DNS, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.NotValidf("dns answer ip=%v", ip)
	}
	self := &DNS{log: log}
	copy(self.answer[:], ip4)
	return self, nil
}

func (self *DNS) Listen(addr string) (net.Addr, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dns listen=%s", addr)
	}
	self.mu.Lock()
	self.conn = conn
	self.mu.Unlock()
	return conn.LocalAddr(), nil
}

// Serve runs until ctx is done or Close.
func (self *DNS) Serve(ctx context.Context) error {
	self.mu.Lock()
	conn := self.conn
	self.mu.Unlock()
	if conn == nil {
		return errors.Errorf("code error dns Serve before Listen")
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	buf := make([]byte, 512)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || self.closed() {
				return nil
			}
			return errors.Annotate(err, "dns read")
		}
		resp, err := self.Answer(buf[:n])
		if err != nil {
			self.log.Debugf("dns from=%v err=%v", from, err)
			continue
		}
		if _, err := conn.WriteTo(resp, from); err != nil {
			self.log.Debugf("dns write to=%v err=%v", from, err)
		}
	}
}

func (self *DNS) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.conn == nil {
		return nil
	}
	// Serve closes conn too on ctx done, second close error is meaningless
	_ = self.conn.Close()
	self.conn = nil
	return nil
}

func (self *DNS) closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.conn == nil
}

// Answer builds response to raw query. Non-A questions get empty NOERROR answer.
func (self *DNS) Answer(query []byte) ([]byte, error) {
	var p dnsmessage.Parser
	h, err := p.Start(query)
	if err != nil {
		return nil, errors.Annotate(err, "dns parse header")
	}
	if h.Response {
		return nil, errors.NotValidf("dns message is response")
	}
	qs, err := p.AllQuestions()
	if err != nil {
		return nil, errors.Annotate(err, "dns parse questions")
	}

	rh := dnsmessage.Header{
		ID:                 h.ID,
		Response:           true,
		OpCode:             h.OpCode,
		Authoritative:      true,
		RecursionDesired:   h.RecursionDesired,
		RecursionAvailable: true,
	}
	if h.OpCode != 0 {
		rh.RCode = dnsmessage.RCodeNotImplemented
	}
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), rh)
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, errors.Trace(err)
	}
	for _, q := range qs {
		if err := b.Question(q); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := b.StartAnswers(); err != nil {
		return nil, errors.Trace(err)
	}
	if rh.RCode == dnsmessage.RCodeSuccess {
		for _, q := range qs {
			if q.Type != dnsmessage.TypeA || q.Class != dnsmessage.ClassINET {
				continue
			}
			rrh := dnsmessage.ResourceHeader{Name: q.Name, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: dnsTTL}
			if err := b.AResource(rrh, dnsmessage.AResource{A: self.answer}); err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	msg, err := b.Finish()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return msg, nil
}
