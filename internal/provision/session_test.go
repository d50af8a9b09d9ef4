package provision

import (
	"bytes"
	"math/rand"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x24, 0x6f, 0x28, 0x01, 0xa3, 0x5c}
	s, err := NewSession("TankKiosk-", mac, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "TankKiosk-A35C", s.SSID)
	assert.True(t, s.Active)
	assert.Len(t, s.Passphrase, PassphraseLength)
	for _, c := range s.Passphrase {
		assert.True(t, strings.ContainsRune(passphraseAlphabet, c), "char=%q", c)
	}

	s2, err := NewSession("TankKiosk-", mac, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.Equal(t, s.SSID, s2.SSID)
	assert.NotEqual(t, s.Passphrase, s2.Passphrase)

	s3, err := NewSession("Kiosk", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Kiosk", s3.SSID)

	_, err = NewSession("", nil, nil)
	assert.Error(t, err)
}

func TestPassphraseUniform(t *testing.T) {
	t.Parallel()

	const sessions = 2000
	counts := make(map[rune]int, len(passphraseAlphabet))
	for i := 0; i < sessions; i++ {
		s, err := NewSession("x", nil, nil)
		require.NoError(t, err)
		for _, c := range s.Passphrase {
			counts[c]++
		}
	}
	// expected ~286 per symbol
	expect := sessions * PassphraseLength / len(passphraseAlphabet)
	for _, c := range passphraseAlphabet {
		assert.InDelta(t, expect, counts[c], float64(expect)/2, "char=%q", c)
	}
	for _, c := range "0O1lI" {
		assert.Zero(t, counts[c], "ambiguous char=%q", c)
	}
}

func TestJoinQR(t *testing.T) {
	t.Parallel()

	s := Session{SSID: `Tank;Kiosk`, Passphrase: `a:b\c`}
	assert.Equal(t, `WIFI:T:WPA;S:Tank\;Kiosk;P:a\:b\\c;;`, s.JoinURI())
	png, err := s.JoinQRPNG(128)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	q, err := s.JoinQR()
	require.NoError(t, err)
	assert.NotEmpty(t, q.Bitmap())
}
