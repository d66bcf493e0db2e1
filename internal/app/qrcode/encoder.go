// Package qrcode renders short links as PNG QR codes.
package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// ErrEncoding is returned when the text cannot be rendered as a QR code.
var ErrEncoding = errors.New("qr encoding failed")

// Encoder turns text into image bytes.
type Encoder interface {
	Encode(text string) ([]byte, error)
}

// PNGEncoder renders QR codes with medium (15%) error correction.
type PNGEncoder struct {
	size int
}

// NewPNGEncoder returns an encoder producing size x size PNGs.
func NewPNGEncoder(size int) *PNGEncoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &PNGEncoder{size: size}
}

func (e *PNGEncoder) Encode(text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty content", ErrEncoding)
	}
	png, err := goqrcode.Encode(text, goqrcode.Medium, e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return png, nil
}

// DataURI embeds PNG bytes so browsers can use them directly as an <img> src.
func DataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

var _ Encoder = (*PNGEncoder)(nil)
