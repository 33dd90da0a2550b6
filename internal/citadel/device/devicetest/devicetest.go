// Package devicetest provides scripted fakes for the device interfaces.
package devicetest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
)

var ErrBusy = errors.New("devicetest: device already open")

// Frame returns a blank w×h image.
func Frame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	return img
}

// Detector returns fixed detections for every frame.
type Detector struct {
	mu         sync.Mutex
	Detections []device.Detection
	Err        error
}

func (d *Detector) Detect(context.Context, image.Image) ([]device.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]device.Detection(nil), d.Detections...), d.Err
}

func (d *Detector) Set(dets ...device.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Detections = dets
}

// Embedder returns Vector for every crop.
type Embedder struct {
	mu     sync.Mutex
	Vector []float32
	Err    error
	Calls  int
}

func (e *Embedder) Embed(context.Context, image.Image) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	return append([]float32(nil), e.Vector...), e.Err
}

// Scorer scores a live capture against a stored template by looking up
// string(live)+"|"+string(stored) in Scores. Missing pairs score 0.
type Scorer struct {
	Scores map[string]int
	Err    error
}

func (s Scorer) Score(live, stored []byte) (int, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Scores[string(live)+"|"+string(stored)], nil
}

// Reader is a fingerprint reader fake. Captures are consumed in order; an
// exhausted script yields "no finger".
type Reader struct {
	Scorer

	mu       sync.Mutex
	captures [][]byte
	errs     []error
	open     bool
	opens    int
	acquires int
	OpenErr  error
}

func NewReader(scores map[string]int) *Reader {
	return &Reader{Scorer: Scorer{Scores: scores}}
}

// Present queues one capture. A nil capture means no finger.
func (r *Reader) Present(capture []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, capture)
	r.errs = append(r.errs, nil)
}

// Fail queues one acquisition error.
func (r *Reader) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, nil)
	r.errs = append(r.errs, err)
}

func (r *Reader) Open(context.Context) (device.FingerprintReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	if r.open {
		return nil, ErrBusy
	}
	r.open = true
	r.opens++
	return &readerHandle{r: r}, nil
}

func (r *Reader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Reader) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func (r *Reader) Acquires() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquires
}

type readerHandle struct {
	r      *Reader
	closed bool
}

func (h *readerHandle) Acquire(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.closed {
		return nil, errors.New("devicetest: reader closed")
	}
	r.acquires++
	if len(r.captures) == 0 {
		return nil, nil
	}
	c, err := r.captures[0], r.errs[0]
	r.captures, r.errs = r.captures[1:], r.errs[1:]
	return c, err
}

func (h *readerHandle) Score(live, stored []byte) (int, error) {
	return h.r.Scorer.Score(live, stored)
}

func (h *readerHandle) Close() error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.r.open = false
	}
	return nil
}

// Camera serves the same frame at a fixed interval.
type Camera struct {
	Frame    image.Image
	Interval time.Duration
	OpenErr  error

	mu    sync.Mutex
	open  bool
	opens int
}

func (c *Camera) Open(context.Context) (device.Camera, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	if c.open {
		return nil, ErrBusy
	}
	c.open = true
	c.opens++
	return &cameraHandle{c: c}, nil
}

func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Camera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

type cameraHandle struct {
	c    *Camera
	once sync.Once
}

func (h *cameraHandle) Read(ctx context.Context) (image.Image, error) {
	d := h.c.Interval
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	return h.c.Frame, nil
}

func (h *cameraHandle) Close() error {
	h.once.Do(func() {
		h.c.mu.Lock()
		h.c.open = false
		h.c.mu.Unlock()
	})
	return nil
}
