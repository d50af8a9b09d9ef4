// Package display draws provisioning join code on framebuffer panel
// while main UI is not running.
package display

import (
	"image"
	"image/color"
	"strings"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/tankmon/kiosk/hardware/display/framebuffer"
)

var (
	colorBlack = color.RGBA{0, 0, 0, 0xff}
	colorWhite = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

type Display struct {
	fb   *framebuffer.Framebuffer
	pix  []color.RGBA
	size image.Point
}

func NewFb(dev string) (*Display, error) {
	fb, err := framebuffer.New(dev)
	if err != nil {
		return nil, errors.Annotatef(err, "framebuffer device=%s", dev)
	}
	size := fb.Size()
	d := &Display{
		fb:   fb,
		pix:  make([]color.RGBA, size.X*size.Y),
		size: size,
	}
	return d, nil
}

func NewMock(size image.Point) *Display {
	return &Display{
		pix:  make([]color.RGBA, size.X*size.Y),
		size: size,
	}
}

func (d *Display) Size() image.Point { return d.size }

func (d *Display) Close() error {
	if d.fb != nil {
		return d.fb.Close()
	}
	return nil
}

func (d *Display) Clear() error {
	d.fill(colorBlack)
	return d.Flush()
}

func (d *Display) Flush() error {
	if d.fb != nil {
		if err := d.fb.Update(d.pix); err != nil {
			return err
		}
		return d.fb.Flush()
	}
	return nil
}

// QR draws code scaled to shorter side and centered on white background.
func (d *Display) QR(text string, level qrcode.RecoveryLevel) error {
	qr, err := qrcode.New(text, level)
	if err != nil {
		return errors.Annotate(err, "QR")
	}
	side := minInt(d.size.X, d.size.Y)
	img, ok := qr.Image(side).(*image.Paletted)
	if !ok {
		return errors.Errorf("code error QR image type=%T", qr.Image(side))
	}
	if img.Bounds().Dx() > d.size.X || img.Bounds().Dy() > d.size.Y {
		return errors.Errorf("QR image size=%s > display size=%s", img.Bounds().Max.String(), d.size.String())
	}
	offset := image.Point{
		X: (d.size.X - img.Bounds().Dx()) / 2,
		Y: (d.size.Y - img.Bounds().Dy()) / 2,
	}
	d.fill(colorWhite)
	d.paletted2(img, offset)
	return d.Flush()
}

// Text renders buffer as text, two chars per dark pixel. For tests.
func (d *Display) Text() string {
	b := strings.Builder{}
	b.Grow((d.size.X*2 + 1) * d.size.Y)
	for y := 0; y < d.size.Y; y++ {
		for x := 0; x < d.size.X; x++ {
			c := d.get(x, y)
			if c.R == 0 && c.G == 0 && c.B == 0 {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteRune('\n')
	}
	return b.String()
}

func (d *Display) fill(c color.RGBA) {
	for i := range d.pix {
		d.pix[i] = c
	}
}

func (d *Display) paletted2(img *image.Paletted, offset image.Point) {
	min, max := img.Bounds().Min, img.Bounds().Max
	bg := toRGBA(img.Palette[0])
	fg := toRGBA(img.Palette[1])
	for y := min.Y; y < max.Y; y++ {
		for x := min.X; x < max.X; x++ {
			c := bg
			if img.Pix[img.PixOffset(x, y)] != 0 {
				c = fg
			}
			d.set(offset.X+x-min.X, offset.Y+y-min.Y, c)
		}
	}
}

func (d *Display) get(x, y int) color.RGBA    { return d.pix[y*d.size.X+x] }
func (d *Display) set(x, y int, c color.RGBA) { d.pix[y*d.size.X+x] = c }

func minInt(i1, i2 int) int {
	if i1 <= i2 {
		return i1
	}
	return i2
}

func toRGBA(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}
