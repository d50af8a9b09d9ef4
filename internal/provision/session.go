package provision

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"

	"github.com/juju/errors"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	PassphraseLength = 8
	// no 0/O, 1/l/I lookalikes, user types it from screen
	passphraseAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
)

// Session is soft AP identity, lives in memory only.
type Session struct {
	SSID       string
	Passphrase string
	Active     bool
}

// NewSession derives SSID from MAC tail so neighbouring kiosks differ.
// Passphrase is uniform over alphabet, rng nil means crypto/rand.
func NewSession(prefix string, mac net.HardwareAddr, rng io.Reader) (Session, error) {
	if rng == nil {
		rng = rand.Reader
	}
	ssid := prefix
	if n := len(mac); n >= 2 {
		ssid += fmt.Sprintf("%02X%02X", mac[n-2], mac[n-1])
	}
	if ssid == "" {
		return Session{}, errors.NotValidf("session ssid=empty")
	}
	var b strings.Builder
	max := big.NewInt(int64(len(passphraseAlphabet)))
	for i := 0; i < PassphraseLength; i++ {
		n, err := rand.Int(rng, max)
		if err != nil {
			return Session{}, errors.Annotate(err, "session passphrase")
		}
		b.WriteByte(passphraseAlphabet[n.Int64()])
	}
	return Session{SSID: ssid, Passphrase: b.String(), Active: true}, nil
}

// JoinURI is Wi-Fi network config QR payload recognized by phone cameras.
func (s Session) JoinURI() string {
	return fmt.Sprintf("WIFI:T:WPA;S:%s;P:%s;;", qrEscape(s.SSID), qrEscape(s.Passphrase))
}

func (s Session) JoinQR() (*qrcode.QRCode, error) {
	q, err := qrcode.New(s.JoinURI(), qrcode.Medium)
	return q, errors.Annotate(err, "session qr")
}

// JoinQRPNG renders join code, size in pixels.
func (s Session) JoinQRPNG(size int) ([]byte, error) {
	q, err := s.JoinQR()
	if err != nil {
		return nil, err
	}
	return q.PNG(size)
}

var qrEscaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

func qrEscape(s string) string { return qrEscaper.Replace(s) }
