package display

import (
	"image"
	"strings"
	"testing"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQR(t *testing.T) {
	t.Parallel()

	const qrText = "WIFI:T:WPA;S:TankKiosk-A35C;P:abcd2345;;"
	qr, err := qrcode.New(qrText, qrcode.Medium)
	require.NoError(t, err)
	qr.DisableBorder = true
	modules := len(qr.Bitmap())

	// portrait panel wider than code, code is centered vertically
	d := NewMock(image.Point{X: modules + 8, Y: modules + 20})
	require.NoError(t, d.Clear())
	blank := strings.Repeat(strings.Repeat("██", d.size.X)+"\n", d.size.Y)
	assert.Equal(t, blank, d.Text())

	require.NoError(t, d.QR(qrText, qrcode.Medium))
	lines := strings.Split(d.Text(), "\n")
	assert.Equal(t, strings.Repeat("  ", d.size.X), lines[0], "top margin is white")
	assert.Equal(t, strings.Repeat("  ", d.size.X), lines[d.size.Y-1], "bottom margin is white")
	assert.Contains(t, d.Text(), "██")

	require.NoError(t, d.Clear())
	assert.Equal(t, blank, d.Text())
}

func TestQRTooSmall(t *testing.T) {
	t.Parallel()

	d := NewMock(image.Point{X: 8, Y: 8})
	assert.Error(t, d.QR("WIFI:T:WPA;S:x;P:y;;", qrcode.Medium))
}
