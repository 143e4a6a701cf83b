// internal/screen/capture.go
package screen

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/loopautoma/loopautoma/internal/config"
)

// Frame is one captured region: 32-bit pixels, row-major.
type Frame struct {
	Width     int
	Height    int
	Stride    int // bytes per row
	Pix       []byte
	Timestamp time.Time
}

// Capture grabs pixel data for rectangular screen regions. Implementations:
// X11 (GetImage), Fake (scripted frames for tests and safe mode).
type Capture interface {
	// CaptureRegion returns the pixels of one region.
	CaptureRegion(r config.Region) (*Frame, error)
	// HashRegion captures a region and returns a content hash computed over a
	// downscaled sample of the pixels. Cheaper than returning the frame when
	// only change detection is needed.
	HashRegion(r config.Region, downscale int) (uint64, error)
	// Bounds returns the full display size.
	Bounds() (width, height int, err error)
	Close() error
}

// CaptureError is a typed capture failure. Fatal marks conditions the backend
// cannot recover from (display gone), which stop the run instead of being
// retried next tick.
type CaptureError struct {
	Code    string
	Message string
	Fatal   bool
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s: %s", e.Code, e.Message)
}

// IsFatal reports whether err is a capture error the backend cannot recover from.
func IsFatal(err error) bool {
	ce, ok := err.(*CaptureError)
	return ok && ce.Fatal
}

// HashFrame computes the sampling hash for a frame. Sampling every
// downscale-th pixel drops sub-pixel noise; the dimensions are mixed in so two
// regions with identical bytes but different shapes hash differently.
func HashFrame(f *Frame, downscale int) uint64 {
	if downscale < 1 {
		downscale = 1
	}
	h := fnv.New64a()
	var dims [12]byte
	putUint32(dims[0:], uint32(f.Width))
	putUint32(dims[4:], uint32(f.Height))
	putUint32(dims[8:], uint32(downscale))
	h.Write(dims[:])

	step := downscale * 4
	for i := 0; i+4 <= len(f.Pix); i += step {
		h.Write(f.Pix[i : i+4])
	}
	return h.Sum64()
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
