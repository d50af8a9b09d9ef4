// Package provision runs first-time network setup: soft access point,
// captive DNS and web form, join attempt and credential commit.
package provision

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/tankmon/kiosk/helpers"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
	"golang.org/x/sync/errgroup"
)

type State uint32

const (
	StateIdle State = iota
	StateAdvertising
	StateServing
	StateConnecting
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateServing:
		return "serving"
	case StateConnecting:
		return "connecting"
	case StateCommitted:
		return "committed"
	}
	return fmt.Sprintf("invalid:%d", uint32(s))
}

type Action uint8

const (
	ActionNone Action = iota
	ActionCommitRestart
)

func (a Action) String() string {
	if a == ActionCommitRestart {
		return "commit-restart"
	}
	return "none"
}

const (
	DefaultSSIDPrefix = "TankKiosk-"
	DefaultAPAddress  = "192.168.4.1/24"

	shutdownTimeout = 2 * time.Second
)

// Config zero value is usable. Empty listen address disables that server.
type Config struct {
	SSIDPrefix   string
	APAddress    string // CIDR, gateway is host part
	HTTPListen   string
	DNSListen    string
	JoinTimeout  time.Duration
	PollInterval time.Duration
}

// Store persists provisioning result.
type Store interface {
	CommitCredentials(ssid, passphrase string) error
	CommitSetupFlag() error
}

type Submission struct {
	SSID       string
	Passphrase string
}

// Controller is driven by Poll from single main loop.
// Portal goroutines only read state and enqueue submission.
type Controller struct {
	log    *log2.Log
	config Config
	store  Store
	wifi   *wifi.Supervisor
	portal *Portal
	rng    io.Reader

	state   uint32 // State
	mu      sync.Mutex
	session Session
	banner  string
	submitq chan Submission
	joining Submission

	cancel context.CancelFunc
	group  *errgroup.Group
	http   *http.Server
	dns    *DNS

	httpAddr net.Addr
	dnsAddr  net.Addr
}

func NewController(log *log2.Log, config Config, store Store, supervisor *wifi.Supervisor) *Controller {
	if store == nil || supervisor == nil {
		panic("code error provision store or supervisor=nil")
	}
	if config.SSIDPrefix == "" {
		config.SSIDPrefix = DefaultSSIDPrefix
	}
	if config.APAddress == "" {
		config.APAddress = DefaultAPAddress
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = wifi.DefaultJoinTimeout
	}
	self := &Controller{
		log:     log,
		config:  config,
		store:   store,
		wifi:    supervisor,
		submitq: make(chan Submission, 1),
	}
	self.portal = NewPortal(log, self)
	return self
}

// SetRand replaces passphrase randomness source, tests only.
func (self *Controller) SetRand(r io.Reader) { self.rng = r }

func (self *Controller) State() State          { return State(atomic.LoadUint32(&self.state)) }
func (self *Controller) setState(s State)      { atomic.StoreUint32(&self.state, uint32(s)) }
func (self *Controller) Handler() http.Handler { return self.portal }

// Active is true from Start until Stop or commit.
func (self *Controller) Active() bool {
	s := self.State()
	return s != StateIdle && s != StateCommitted
}

func (self *Controller) Session() Session {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.session
}

func (self *Controller) Banner() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.banner
}

func (self *Controller) setBanner(s string) {
	self.mu.Lock()
	self.banner = s
	self.mu.Unlock()
}

// Addrs returns bound HTTP and DNS addresses, nil when disabled.
func (self *Controller) Addrs() (httpAddr, dnsAddr net.Addr) { return self.httpAddr, self.dnsAddr }

func (self *Controller) Scan(ctx context.Context) ([]wifi.Network, error) {
	nets, err := self.wifi.Radio().Scan(ctx)
	return nets, errors.Annotate(err, "provision scan")
}

// Submit enqueues join request, at most one pending or in-flight.
func (self *Controller) Submit(ssid, passphrase string) error {
	if ssid == "" {
		return errors.NotValidf("ssid=empty")
	}
	if self.State() != StateServing {
		return ErrBusy
	}
	select {
	case self.submitq <- Submission{SSID: ssid, Passphrase: passphrase}:
		return nil
	default:
		return ErrBusy
	}
}

// Start brings up soft AP, captive DNS and portal.
func (self *Controller) Start(ctx context.Context) error {
	if s := self.State(); s != StateIdle {
		return errors.AlreadyExistsf("provisioning state=%s", s.String())
	}
	ip, ipnet, err := net.ParseCIDR(self.config.APAddress)
	if err != nil {
		return errors.Annotatef(err, "provision ap address=%s", self.config.APAddress)
	}
	ipnet.IP = ip
	self.setState(StateAdvertising)

	mac, err := self.wifi.Radio().HardwareAddr()
	if err != nil {
		self.log.Errorf("provision mac err=%v, session ssid without suffix", err)
	}
	session, err := NewSession(self.config.SSIDPrefix, mac, self.rng)
	if err != nil {
		self.setState(StateIdle)
		return errors.Trace(err)
	}
	self.mu.Lock()
	self.session = session
	self.banner = ""
	self.mu.Unlock()

	if err := self.wifi.Radio().StartAccessPoint(ctx, wifi.AccessPoint{SSID: session.SSID, Passphrase: session.Passphrase, Address: ipnet}); err != nil {
		self.teardown()
		self.setState(StateIdle)
		return errors.Annotate(err, "provision start")
	}
	if err := self.startServers(ip); err != nil {
		self.teardown()
		self.setState(StateIdle)
		return errors.Annotate(err, "provision start")
	}
	self.log.Infof("provision serving ssid=%s http=%v dns=%v", session.SSID, self.httpAddr, self.dnsAddr)
	self.setState(StateServing)
	return nil
}

func (self *Controller) startServers(ip net.IP) error {
	gctx, cancel := context.WithCancel(context.Background())
	self.cancel = cancel
	self.group, gctx = errgroup.WithContext(gctx)

	if self.config.DNSListen != "" {
		dns, err := NewDNS(self.log, ip)
		if err != nil {
			return err
		}
		if self.dnsAddr, err = dns.Listen(self.config.DNSListen); err != nil {
			return err
		}
		self.dns = dns
		self.group.Go(func() error { return dns.Serve(gctx) })
	}
	if self.config.HTTPListen != "" {
		ln, err := net.Listen("tcp", self.config.HTTPListen)
		if err != nil {
			return errors.Annotatef(err, "http listen=%s", self.config.HTTPListen)
		}
		self.httpAddr = ln.Addr()
		srv := &http.Server{
			Handler:           self.portal,
			ReadHeaderTimeout: 5 * time.Second,
		}
		self.http = srv
		self.group.Go(func() error {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				return errors.Annotate(err, "http serve")
			}
			return nil
		})
	}
	return nil
}

// Poll advances provisioning, never blocks on network.
func (self *Controller) Poll(ctx context.Context, now time.Duration) Action {
	switch self.State() {
	case StateServing:
		select {
		case sub := <-self.submitq:
			self.begin(ctx, sub, now)
		default:
		}

	case StateConnecting:
		switch r := self.wifi.Poll(ctx, now); r {
		case wifi.ResultPending:
		case wifi.ResultJoined:
			return self.commit(ctx)
		default:
			self.log.Infof("provision join ssid=%q result=%s", self.joining.SSID, r.String())
			self.setBanner(fmt.Sprintf("Could not connect to %q. Check password and try again.", self.joining.SSID))
			self.joining = Submission{}
			self.resumeAccessPoint(ctx)
			self.setState(StateServing)
		}
	}
	return ActionNone
}

func (self *Controller) begin(ctx context.Context, sub Submission, now time.Duration) {
	self.setBanner("")
	self.joining = sub
	self.setState(StateConnecting)
	if err := self.wifi.Begin(ctx, sub.SSID, sub.Passphrase, self.config.JoinTimeout, now); err != nil {
		self.log.Error(errors.Annotate(err, "provision join"))
		self.setBanner(fmt.Sprintf("Could not connect to %q.", sub.SSID))
		self.joining = Submission{}
		self.resumeAccessPoint(ctx)
		self.setState(StateServing)
	}
}

// commit makes credentials and setup flag durable, only then restart is requested.
func (self *Controller) commit(ctx context.Context) Action {
	sub := self.joining
	self.joining = Submission{}
	err := self.store.CommitCredentials(sub.SSID, sub.Passphrase)
	if err == nil {
		err = self.store.CommitSetupFlag()
	}
	if err != nil {
		self.log.Error(errors.Annotate(err, "provision commit"))
		if derr := self.wifi.Radio().Disconnect(ctx); derr != nil {
			self.log.Errorf("provision disconnect err=%v", derr)
		}
		self.setBanner("Connected, but could not save settings. Please try again.")
		self.resumeAccessPoint(ctx)
		self.setState(StateServing)
		return ActionNone
	}
	self.log.Infof("provision committed ssid=%q attempts=%d", sub.SSID, self.wifi.Attempts())
	self.teardown()
	self.setState(StateCommitted)
	return ActionCommitRestart
}

// Stop abandons provisioning in any state, in-flight join is aborted.
func (self *Controller) Stop(ctx context.Context) {
	s := self.State()
	if s == StateIdle || s == StateCommitted {
		return
	}
	self.log.Infof("provision stop state=%s", s.String())
	self.wifi.Abort(ctx)
	self.joining = Submission{}
	self.teardown()
	self.setState(StateIdle)
}

// resumeAccessPoint restores AP after join attempt on single radio device.
func (self *Controller) resumeAccessPoint(ctx context.Context) {
	if err := self.wifi.Radio().ResumeAccessPoint(ctx); err != nil {
		self.log.Error(errors.Annotate(err, "provision resume access point"))
	}
}

func (self *Controller) teardown() {
	var errs []error
	if self.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := self.http.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Annotate(err, "http shutdown"))
			_ = self.http.Close()
		}
		cancel()
		self.http = nil
	}
	if self.dns != nil {
		_ = self.dns.Close()
		self.dns = nil
	}
	if self.cancel != nil {
		self.cancel()
		self.cancel = nil
	}
	if self.group != nil {
		if err := self.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		self.group = nil
	}
	if err := self.wifi.Radio().StopAccessPoint(context.Background()); err != nil {
		errs = append(errs, err)
	}
	// drop stale submission
	select {
	case <-self.submitq:
	default:
	}
	self.httpAddr, self.dnsAddr = nil, nil
	self.mu.Lock()
	self.session = Session{}
	self.mu.Unlock()
	if len(errs) != 0 {
		self.log.Error(errors.Annotate(helpers.FoldErrors(errs), "provision teardown"))
	}
}
