package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"golang.org/x/image/draw"
)

// DefaultQRSize is the edge length in pixels of a rendered QR code when the
// caller does not ask for one.
const DefaultQRSize = 256

// MaxQRSize is the largest edge length that will be rendered.
const MaxQRSize = 1024

// QuietZone is the blank margin around the code, in modules.
const QuietZone = 4

// ErrEmptyContent is returned when there is nothing to encode.
var ErrEmptyContent = errors.New("empty QR content")

// EncodeQR encodes content as a QR code at medium error correction. The
// result is one pixel per module without a margin.
func EncodeQR(content string) (barcode.Barcode, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encoding QR code: %w", err)
	}
	return code, nil
}

// QRCode renders content as a square PNG of size×size pixels, with a quiet
// zone. Sizes outside (0, MaxQRSize] fall back to DefaultQRSize or MaxQRSize.
func QRCode(content string, size int) ([]byte, error) {
	code, err := EncodeQR(content)
	if err != nil {
		return nil, err
	}

	switch {
	case size <= 0:
		size = DefaultQRSize
	case size > MaxQRSize:
		size = MaxQRSize
	}

	img := upscale(withQuietZone(code, QuietZone), size)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// withQuietZone copies img onto a white canvas padded by margin pixels on every side.
func withQuietZone(img image.Image, margin int) *image.Gray {
	b := img.Bounds()
	canvas := image.NewGray(image.Rect(0, 0, b.Dx()+2*margin, b.Dy()+2*margin))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(margin, margin, margin+b.Dx(), margin+b.Dy()), img, b.Min, draw.Src)
	return canvas
}

// upscale stretches a module grid to size×size, keeping module edges sharp.
func upscale(img image.Image, size int) image.Image {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
