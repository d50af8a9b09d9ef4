// Package framebuffer writes RGB565 pixels to Linux fbdev, e.g. fbtft SPI panels.
package framebuffer

import (
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

type Framebuffer struct {
	buf    []byte
	dev    *os.File
	finfo  fixedScreenInfo
	vinfo  variableScreenInfo
	stride uint32
}

func New(dev string) (*Framebuffer, error) {
	devFile, err := os.OpenFile(dev, os.O_RDWR, os.ModeDevice)
	if err != nil {
		return nil, errors.Annotate(err, "open")
	}
	fb := &Framebuffer{dev: devFile}
	fd := fb.dev.Fd()

	if err = ioctl(fd, getFixedScreenInfo, uintptr(unsafe.Pointer(&fb.finfo))); err != nil {
		fb.dev.Close()
		return nil, errors.Annotate(err, "getFixedScreenInfo")
	}
	if err = ioctl(fd, getVariableScreenInfo, uintptr(unsafe.Pointer(&fb.vinfo))); err != nil {
		fb.dev.Close()
		return nil, errors.Annotate(err, "getVariableScreenInfo")
	}
	if !isRGB565(&fb.vinfo) {
		fb.dev.Close()
		return nil, errors.NotSupportedf("color model bpp=%d red=%v", fb.vinfo.Bits_per_pixel, fb.vinfo.Red)
	}

	fb.stride = fb.finfo.Line_length
	if fb.stride == 0 {
		fb.stride = fb.vinfo.Xres * 2
	}
	fb.buf = make([]byte, fb.stride*fb.vinfo.Yres)
	return fb, nil
}

func (fb *Framebuffer) Close() error {
	return fb.dev.Close()
}

func (fb *Framebuffer) Flush() error {
	_, err := fb.dev.WriteAt(fb.buf, 0)
	return errors.Annotate(err, "framebuffer flush")
}

func (fb *Framebuffer) Size() image.Point {
	return image.Point{X: int(fb.vinfo.Xres), Y: int(fb.vinfo.Yres)}
}

// Update sets all pixels in internal buffer, call Flush() to write to hardware.
func (fb *Framebuffer) Update(cs []color.RGBA) error {
	w, h := fb.vinfo.Xres, fb.vinfo.Yres
	if uint32(len(cs)) < w*h {
		return errors.NotValidf("pixels=%d for size=%dx%d", len(cs), w, h)
	}
	fill565(fb.buf, cs, w, h, fb.stride)
	return nil
}

func fill565(buf []byte, cs []color.RGBA, w, h, stride uint32) {
	for y := uint32(0); y < h; y++ {
		row := buf[y*stride:]
		for x := uint32(0); x < w; x++ {
			binary.LittleEndian.PutUint16(row[x*2:], encode565(cs[y*w+x]))
		}
	}
}

var rgb565 = variableScreenInfo{
	Red:   bitField{Offset: 11, Length: 5, Right: 0},
	Green: bitField{Offset: 5, Length: 6, Right: 0},
	Blue:  bitField{Offset: 0, Length: 5, Right: 0},
}

func isRGB565(v *variableScreenInfo) bool {
	return v.Bits_per_pixel == 16 && v.Red == rgb565.Red && v.Green == rgb565.Green && v.Blue == rgb565.Blue
}

func encode565(c color.RGBA) uint16 {
	return (uint16(c.R) & 0xf8 << 8) | (uint16(c.G) & 0xfc << 3) | (uint16(c.B) & 0xf8 >> 3)
}

func ioctl(fd uintptr, cmd uintptr, data uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, data); errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}
