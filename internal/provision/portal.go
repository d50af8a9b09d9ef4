package provision

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/juju/errors"
	"github.com/tankmon/kiosk/internal/wifi"
	"github.com/tankmon/kiosk/log2"
)

// Connectivity check URLs of common client OSes.
// Anything but expected reply makes client open captive portal sign-in window.
var ProbePaths = []string{
	"/generate_204",
	"/gen_204",
	"/hotspot-detect.html",
	"/library/test/success.html",
	"/ncsi.txt",
	"/connecttest.txt",
	"/redirect",
	"/success.txt",
	"/canonical.html",
	"/fwlink",
}

var ErrBusy = errors.New("provisioning busy")

const scanTimeout = 8 * time.Second

// Backend is what portal needs from controller.
// Submit is called from HTTP goroutine and must not block.
type Backend interface {
	Session() Session
	Banner() string
	Scan(ctx context.Context) ([]wifi.Network, error)
	Submit(ssid, passphrase string) error
}

type Portal struct {
	log     *log2.Log
	backend Backend
	router  chi.Router
}

func NewPortal(log *log2.Log, backend Backend) *Portal {
	self := &Portal{log: log, backend: backend}
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: printFunc(log.Debug), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get("/", self.index)
	r.Get("/scan", self.scan)
	r.Post("/connect", self.connect)
	for _, p := range ProbePaths {
		r.Get(p, self.index)
	}
	r.NotFound(self.index)
	r.MethodNotAllowed(self.index)
	self.router = r
	return self
}

func (self *Portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	self.router.ServeHTTP(w, r)
}

type printFunc func(...interface{})

func (f printFunc) Print(v ...interface{}) { f(v...) }

type pageData struct {
	Session  Session
	Banner   string
	Networks []wifi.Network
	SSID     string
	ScanErr  string
}

func (self *Portal) index(w http.ResponseWriter, r *http.Request) {
	self.render(w, http.StatusOK, "index", pageData{
		Session: self.backend.Session(),
		Banner:  self.backend.Banner(),
	})
}

func (self *Portal) scan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
	defer cancel()
	data := pageData{Session: self.backend.Session(), Banner: self.backend.Banner()}
	nets, err := self.backend.Scan(ctx)
	if err != nil {
		self.log.Errorf("portal scan err=%v", err)
		data.ScanErr = "Scan failed, type network name below."
	}
	data.Networks = nets
	self.render(w, http.StatusOK, "scan", data)
}

func (self *Portal) connect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		self.render(w, http.StatusBadRequest, "missing", pageData{})
		return
	}
	ssid := r.PostForm.Get("ssid")
	if ssid == "" {
		ssid = r.PostForm.Get("ssid_other")
	}
	if ssid == "" {
		self.render(w, http.StatusBadRequest, "missing", pageData{})
		return
	}
	pass := r.PostForm.Get("pass")
	if err := self.backend.Submit(ssid, pass); err != nil {
		if errors.Cause(err) == ErrBusy {
			self.render(w, http.StatusConflict, "busy", pageData{SSID: ssid})
			return
		}
		self.log.Errorf("portal submit err=%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	self.render(w, http.StatusOK, "wait", pageData{SSID: ssid})
}

// render buffers whole page so that template error does not leave half response.
func (self *Portal) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		self.log.Error(errors.Annotatef(err, "portal render=%s", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

var pages = template.Must(template.New("").Parse(`
{{define "head"}}<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Tank kiosk setup</title>
<style>body{font-family:sans-serif;max-width:28em;margin:1em auto;padding:0 1em}input,select,button{font-size:1.1em;width:100%;margin:.3em 0}.banner{background:#fdd;padding:.5em}</style>
</head><body><h1>Tank kiosk setup</h1>{{end}}
{{define "tail"}}</body></html>
{{end}}
{{define "banner"}}{{if .Banner}}<p class="banner">{{.Banner}}</p>{{end}}{{end}}

{{define "index"}}{{template "head"}}{{template "banner" .}}
<p>Setup network <b>{{.Session.SSID}}</b>, password <b>{{.Session.Passphrase}}</b></p>
<form method="post" action="/connect">
<label>Network name<input name="ssid_other" autocomplete="off"></label>
<label>Password<input name="pass" type="password"></label>
<button type="submit">Connect</button>
</form>
<p><a href="/scan">Scan for networks</a></p>
{{template "tail"}}{{end}}

{{define "scan"}}{{template "head"}}{{template "banner" .}}
{{if .ScanErr}}<p class="banner">{{.ScanErr}}</p>{{end}}
<form method="post" action="/connect">
<label>Network<select name="ssid"><option value="">other (type below)</option>
{{range .Networks}}<option value="{{.SSID}}">{{.SSID}} ({{.Signal}}%{{if .Secured}}, secured{{end}})</option>
{{end}}</select></label>
<label>Other network name<input name="ssid_other" autocomplete="off"></label>
<label>Password<input name="pass" type="password"></label>
<button type="submit">Connect</button>
</form>
<p><a href="/scan">Scan again</a> | <a href="/">Back</a></p>
{{template "tail"}}{{end}}

{{define "missing"}}{{template "head"}}
<p>Network name is required.</p><p><a href="/">Back</a></p>
{{template "tail"}}{{end}}

{{define "busy"}}{{template "head"}}
<p>Another connection attempt is in progress, try again in a few seconds.</p><p><a href="/">Back</a></p>
{{template "tail"}}{{end}}

{{define "wait"}}{{template "head"}}
<p>Connecting to <b>{{.SSID}}</b>, please wait.</p>
<p>On success the kiosk restarts and this setup network disappears.
Otherwise reconnect to setup network and <a href="/">try again</a>.</p>
{{template "tail"}}{{end}}
`))
