// Package frames holds captured screen images and the per-session buffer
// that accumulates them between analysis windows.
package frames

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// ErrBadGeometry is returned when pixel data does not match the dimensions.
var ErrBadGeometry = errors.New("pixel data does not match frame dimensions")

// Frame is one captured image. Pix is packed RGB24, row-major, and must not
// be modified after the frame is created.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
}

// New validates and wraps raw RGB24 pixel data.
func New(seq uint64, ts time.Time, width, height int, pix []byte) (Frame, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*3 {
		return Frame{}, fmt.Errorf("%w: %dx%d with %d bytes", ErrBadGeometry, width, height, len(pix))
	}
	return Frame{Seq: seq, Timestamp: ts, Width: width, Height: height, Pix: pix}, nil
}

// FromImage converts any image to an RGB24 frame.
func FromImage(seq uint64, ts time.Time, img image.Image) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, 0, w*h*3)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, y):rgba.PixOffset(b.Max.X, y)]
			for x := 0; x < len(row); x += 4 {
				pix = append(pix, row[x], row[x+1], row[x+2])
			}
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				pix = append(pix, c.R, c.G, c.B)
			}
		}
	}

	return Frame{Seq: seq, Timestamp: ts, Width: w, Height: h, Pix: pix}
}

// Image returns an opaque RGBA copy of the frame.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// SameSize reports whether two frames have identical dimensions.
func (f Frame) SameSize(o Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}
