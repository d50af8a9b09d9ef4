package provision

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankmon/kiosk/internal/settings"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
)

type fixture struct {
	ctl     *Controller
	radio   *wifi.MockRadio
	store   *settings.Store
	backend *settings.MemBackend
}

func newFixture(t testing.TB, config Config) *fixture {
	log := log2.NewTest(t, log2.LDebug)
	radio := wifi.NewMockRadio()
	radio.Networks = []wifi.Network{{SSID: "home", Signal: 80, Secured: true}, {SSID: "cafe <free>", Signal: 30}}
	store, backend := settings.NewMemStore(log)
	sup := wifi.NewSupervisor(log, radio, 500*time.Millisecond)
	ctl := NewController(log, config, store, sup)
	ctl.SetRand(rand.New(rand.NewSource(42)))
	return &fixture{ctl: ctl, radio: radio, store: store, backend: backend}
}

func (f *fixture) do(t testing.TB, method, path string, form url.Values) (int, string) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	r := httptest.NewRequest(method, path, body)
	if form != nil {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	f.ctl.Handler().ServeHTTP(w, r)
	b, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w.Code, string(b)
}

// pollUntil drives loop at 5ms ticks, returns restart count and time of last state change.
func (f *fixture) pollUntil(ctx context.Context, from, until time.Duration, stop func() bool) (restarts int, at time.Duration) {
	for now := from; now <= until; now += 5 * time.Millisecond {
		if f.ctl.Poll(ctx, now) == ActionCommitRestart {
			restarts++
		}
		if stop != nil && stop() {
			return restarts, now
		}
	}
	return restarts, until
}

func TestProvisionSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{})
	f.radio.JoinPolls = 3
	assert.Equal(t, StateIdle, f.ctl.State())
	require.NoError(t, f.ctl.Start(ctx))
	assert.Equal(t, StateServing, f.ctl.State())
	s := f.ctl.Session()
	assert.Equal(t, "TankKiosk-A35C", s.SSID)
	ap := f.radio.AccessPoint()
	require.NotNil(t, ap)
	assert.Equal(t, s.SSID, ap.SSID)
	assert.Equal(t, s.Passphrase, ap.Passphrase)
	assert.Equal(t, "192.168.4.1/24", ap.Address.String())

	code, body := f.do(t, "POST", "/connect", url.Values{"ssid": {"home"}, "pass": {"secret12"}})
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "please wait")

	assert.Equal(t, StateServing, f.ctl.State())
	assert.Equal(t, ActionNone, f.ctl.Poll(ctx, time.Second))
	assert.Equal(t, StateConnecting, f.ctl.State())
	assert.Equal(t, []string{"home"}, f.radio.Associated)

	restarts, _ := f.pollUntil(ctx, time.Second+5*time.Millisecond, 20*time.Second, nil)
	assert.Equal(t, 1, restarts)
	assert.Equal(t, StateCommitted, f.ctl.State())
	creds, ok := f.store.Credentials()
	require.True(t, ok)
	assert.Equal(t, settings.Credentials{SSID: "home", Passphrase: "secret12"}, creds)
	assert.True(t, f.store.LoadSetupFlag())
	assert.Nil(t, f.radio.AccessPoint())
	assert.Equal(t, Session{}, f.ctl.Session())
	assert.False(t, f.ctl.Active())
	assert.Error(t, f.ctl.Start(ctx))
}

func TestProvisionFailureWithinBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{JoinTimeout: 10 * time.Second})
	f.radio.Accept = func(ssid, pass string) bool { return false }
	require.NoError(t, f.ctl.Start(ctx))
	require.NoError(t, f.ctl.Submit("home", "wrong"))

	t0 := 3 * time.Second
	restarts, at := f.pollUntil(ctx, t0, t0+time.Minute, func() bool { return f.ctl.State() == StateServing && !f.ctl.wifi.Active() && f.radio.Disconnects > 0 })
	assert.Equal(t, 0, restarts)
	assert.True(t, at <= t0+10*time.Second, "back to serving at=%v", at)
	assert.Equal(t, StateServing, f.ctl.State())
	_, ok := f.store.Credentials()
	assert.False(t, ok)
	assert.False(t, f.store.LoadSetupFlag())
	assert.Equal(t, 0, f.backend.Key(settings.KeySSID).Writes)
	assert.Contains(t, f.ctl.Banner(), `Could not connect to "home"`)

	_, body := f.do(t, "GET", "/", nil)
	assert.Contains(t, body, "Could not connect to &#34;home&#34;")

	// retry allowed, no limit
	f.radio.Accept = nil
	require.NoError(t, f.ctl.Submit("home", "right"))
	restarts, _ = f.pollUntil(ctx, t0+time.Minute, t0+2*time.Minute, nil)
	assert.Equal(t, 1, restarts)
	assert.Equal(t, uint32(2), f.ctl.wifi.Attempts())
	assert.Equal(t, "", f.ctl.Banner())
}

func TestCaptiveUniformity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.NoError(t, f.ctl.Start(context.Background()))
	code, root := f.do(t, "GET", "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, root, f.ctl.Session().SSID)
	assert.Contains(t, root, f.ctl.Session().Passphrase)

	paths := append([]string{"/does/not/exist", "/favicon.ico", "/index.html?x=1"}, ProbePaths...)
	for _, p := range paths {
		code, body := f.do(t, "GET", p, nil)
		assert.Equal(t, http.StatusOK, code, p)
		assert.Equal(t, root, body, p)
	}
	code, body := f.do(t, "POST", "/generate_204", url.Values{})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, root, body)
}

func TestConnectMissingSSID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{})
	require.NoError(t, f.ctl.Start(ctx))
	for _, form := range []url.Values{{}, {"pass": {"x"}}, {"ssid": {""}, "ssid_other": {""}}} {
		code, body := f.do(t, "POST", "/connect", form)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body, `href="/"`)
	}
	f.ctl.Poll(ctx, time.Second)
	assert.Equal(t, StateServing, f.ctl.State())
	assert.Empty(t, f.radio.Associated)
}

func TestConnectOtherSSIDAndBusy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{})
	f.radio.JoinPolls = 1000
	require.NoError(t, f.ctl.Start(ctx))

	code, _ := f.do(t, "POST", "/connect", url.Values{"ssid": {""}, "ssid_other": {"hidden net"}, "pass": {"p"}})
	require.Equal(t, http.StatusOK, code)
	// queued but not yet consumed
	code, _ = f.do(t, "POST", "/connect", url.Values{"ssid": {"home"}})
	assert.Equal(t, http.StatusConflict, code)

	f.ctl.Poll(ctx, 0)
	assert.Equal(t, StateConnecting, f.ctl.State())
	assert.Equal(t, []string{"hidden net"}, f.radio.Associated)
	code, body := f.do(t, "POST", "/connect", url.Values{"ssid": {"home"}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body, `href="/"`)
}

func TestCommitFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{})
	f.backend.Key(settings.KeySetup).FailWrite = errors.New("flash worn out")
	require.NoError(t, f.ctl.Start(ctx))
	require.NoError(t, f.ctl.Submit("home", "secret12"))
	restarts, _ := f.pollUntil(ctx, 0, 15*time.Second, nil)
	assert.Equal(t, 0, restarts)
	assert.Equal(t, StateServing, f.ctl.State())
	assert.Contains(t, f.ctl.Banner(), "could not save")
	assert.NotNil(t, f.radio.AccessPoint())
	assert.False(t, f.store.LoadSetupFlag())
}

func TestSharedRadioFailedJoinResumesAccessPoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{JoinTimeout: 10 * time.Second})
	f.radio.SharedRadio = true
	f.radio.Accept = func(ssid, pass string) bool { return false }
	f.radio.FailFast = true
	require.NoError(t, f.ctl.Start(ctx))
	session := f.ctl.Session()
	require.NoError(t, f.ctl.Submit("home", "wrong"))

	f.ctl.Poll(ctx, 0)
	require.Equal(t, StateConnecting, f.ctl.State())
	assert.Nil(t, f.radio.AccessPoint(), "station join takes shared radio")

	restarts, _ := f.pollUntil(ctx, 5*time.Millisecond, 15*time.Second, func() bool { return f.ctl.State() == StateServing })
	assert.Equal(t, 0, restarts)
	assert.Equal(t, StateServing, f.ctl.State())
	ap := f.radio.AccessPoint()
	require.NotNil(t, ap, "form must stay reachable for another attempt")
	assert.Equal(t, session.SSID, ap.SSID)
	assert.Equal(t, session.Passphrase, ap.Passphrase)
	assert.Equal(t, 1, f.radio.APResumes)
	assert.Equal(t, 1, f.radio.APStarts)

	// second attempt succeeds, AP is torn down for good
	f.radio.Accept = nil
	require.NoError(t, f.ctl.Submit("home", "right"))
	restarts, _ = f.pollUntil(ctx, 20*time.Second, 40*time.Second, nil)
	assert.Equal(t, 1, restarts)
	assert.Nil(t, f.radio.AccessPoint())
	assert.Equal(t, 1, f.radio.APStops)
}

func TestStopWhileConnecting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{})
	f.radio.JoinPolls = 1000
	f.ctl.Stop(ctx)
	assert.Equal(t, StateIdle, f.ctl.State())

	require.NoError(t, f.ctl.Start(ctx))
	require.NoError(t, f.ctl.Submit("home", ""))
	f.ctl.Poll(ctx, 0)
	require.Equal(t, StateConnecting, f.ctl.State())
	f.ctl.Stop(ctx)
	assert.Equal(t, StateIdle, f.ctl.State())
	assert.Equal(t, 1, f.radio.Disconnects)
	assert.Nil(t, f.radio.AccessPoint())
	assert.Equal(t, Session{}, f.ctl.Session())
	assert.Equal(t, ActionNone, f.ctl.Poll(ctx, time.Hour))
	assert.Equal(t, ErrBusy, errors.Cause(f.ctl.Submit("home", "")))

	// restartable with fresh session
	require.NoError(t, f.ctl.Start(ctx))
	assert.Equal(t, StateServing, f.ctl.State())
	assert.Equal(t, 2, f.radio.APStarts)
}

func TestStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.radio.APErr = errors.New("radio busy")
	assert.Error(t, f.ctl.Start(context.Background()))
	assert.Equal(t, StateIdle, f.ctl.State())

	f2 := newFixture(t, Config{APAddress: "not-an-address"})
	assert.Error(t, f2.ctl.Start(context.Background()))
	assert.Equal(t, StateIdle, f2.ctl.State())
}

func TestScanPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	require.NoError(t, f.ctl.Start(context.Background()))
	code, body := f.do(t, "GET", "/scan", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `<option value="home">`)
	assert.Contains(t, body, "cafe &lt;free&gt;")
	assert.Contains(t, body, `name="ssid_other"`)

	f.radio.Networks = nil
	_, body = f.do(t, "GET", "/scan", nil)
	assert.Contains(t, body, `name="ssid_other"`)
	assert.NotContains(t, body, "home")

	f.radio.ScanErr = errors.New("device busy")
	code, body = f.do(t, "GET", "/scan", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Scan failed")
}

func TestServersListen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Config{HTTPListen: "127.0.0.1:0", DNSListen: "127.0.0.1:0"})
	require.NoError(t, f.ctl.Start(ctx))
	httpAddr, dnsAddr := f.ctl.Addrs()
	require.NotNil(t, httpAddr)
	require.NotNil(t, dnsAddr)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + httpAddr.String() + "/hotspot-detect.html")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), f.ctl.Session().SSID)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	f.ctl.Stop(ctx)
	_, err = client.Get("http://" + httpAddr.String() + "/")
	assert.Error(t, err)
}
