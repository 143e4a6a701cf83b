// internal/screen/image.go
package screen

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// ToImage converts a frame to an RGBA image. X11 ZPixmap data on the usual
// depth-24/32 visuals is BGRx, so the channels are swapped here.
func (f *Frame) ToImage() (*image.RGBA, error) {
	if len(f.Pix) < f.Height*f.Stride {
		return nil, fmt.Errorf("frame buffer too small: %d bytes for %dx%d", len(f.Pix), f.Width, f.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := y * f.Stride
		dst := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[dst+0] = f.Pix[src+2] // R
			img.Pix[dst+1] = f.Pix[src+1] // G
			img.Pix[dst+2] = f.Pix[src+0] // B
			img.Pix[dst+3] = 0xff
			src += 4
			dst += 4
		}
	}
	return img, nil
}

// EncodePNG returns the frame as a PNG, the interchange format for the OCR
// and vision providers.
func (f *Frame) EncodePNG() ([]byte, error) {
	img, err := f.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
