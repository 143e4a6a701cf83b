// internal/screen/fake.go
package screen

import (
	"sync"
	"time"

	"github.com/loopautoma/loopautoma/internal/config"
)

// FakeCapture serves scripted hashes per region. Used by tests and as the
// safe-mode backend when no display is available.
type FakeCapture struct {
	mu sync.Mutex
	// Hashes maps region id to a sequence of hash values returned in order;
	// the last value repeats once the sequence is exhausted.
	Hashes map[string][]uint64
	// Errs maps region id to an error returned instead of a hash.
	Errs  map[string]error
	calls map[string]int
}

// NewFakeCapture creates an empty fake; regions default to hash 0.
func NewFakeCapture() *FakeCapture {
	return &FakeCapture{
		Hashes: make(map[string][]uint64),
		Errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// Script sets the hash sequence for a region.
func (c *FakeCapture) Script(regionID string, hashes ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hashes[regionID] = hashes
}

// Fail makes a region's captures return err until cleared with nil.
func (c *FakeCapture) Fail(regionID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.Errs, regionID)
	} else {
		c.Errs[regionID] = err
	}
}

// HashRegion implements Capture.
func (c *FakeCapture) HashRegion(r config.Region, downscale int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Errs[r.ID]; err != nil {
		return 0, err
	}

	seq := c.Hashes[r.ID]
	if len(seq) == 0 {
		return 0, nil
	}
	i := c.calls[r.ID]
	c.calls[r.ID]++
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return seq[i], nil
}

// CaptureRegion implements Capture with a zeroed frame.
func (c *FakeCapture) CaptureRegion(r config.Region) (*Frame, error) {
	c.mu.Lock()
	err := c.Errs[r.ID]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Frame{
		Width:     r.Width,
		Height:    r.Height,
		Stride:    r.Width * 4,
		Pix:       make([]byte, r.Width*r.Height*4),
		Timestamp: time.Now(),
	}, nil
}

// Bounds implements Capture.
func (c *FakeCapture) Bounds() (int, int, error) { return 1920, 1080, nil }

// Close implements Capture.
func (c *FakeCapture) Close() error { return nil }
