package gate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
)

// ReaderLease hands the fingerprint reader to an enrollment task.
type ReaderLease interface {
	Lease(ctx context.Context) (release func(), err error)
}

type FingerprintEnroller interface {
	EnrollFingerprint(ctx context.Context, studentNo string, template []byte) error
}

type FaceEnroller interface {
	EnrollFace(ctx context.Context, studentNo string, embedding []float32) error
}

// FingerprintEnrollment captures one template and stores it.
type FingerprintEnrollment struct {
	Reader   device.FingerprintOpener
	Loop     ReaderLease
	Enroller FingerprintEnroller
	Attempts int           // default 5
	Interval time.Duration // default 1s
	Logger   *slog.Logger
}

func (e *FingerprintEnrollment) Run(ctx context.Context, studentNo string) error {
	attempts, interval := e.Attempts, e.Interval
	if attempts <= 0 {
		attempts = 5
	}
	if interval <= 0 {
		interval = time.Second
	}

	release, err := e.Loop.Lease(ctx)
	if err != nil {
		return fmt.Errorf("take fingerprint reader: %w", errors.Join(errs.ErrCancelled, err))
	}
	defer release()

	r, err := e.Reader.Open(ctx)
	if err != nil {
		return fmt.Errorf("open fingerprint reader: %w", errors.Join(errs.ErrHardware, err))
	}
	defer r.Close()

	for i := 1; i <= attempts; i++ {
		tpl, err := r.Acquire(ctx)
		if ctx.Err() != nil {
			return fmt.Errorf("fingerprint enrollment: %w", errs.ErrCancelled)
		}
		if err == nil && len(tpl) > 0 {
			return e.Enroller.EnrollFingerprint(ctx, studentNo, tpl)
		}
		if err != nil && e.Logger != nil {
			e.Logger.Debug("enrollment capture failed", "attempt", i, "error", err)
		}
		if i < attempts && !sleepCtx(ctx, interval) {
			return fmt.Errorf("fingerprint enrollment: %w", errs.ErrCancelled)
		}
	}
	return fmt.Errorf("no fingerprint captured after %d attempts: %w", attempts, errs.ErrHardware)
}

// FaceEnrollment waits for a steady face and stores its embedding.
type FaceEnrollment struct {
	Camera   device.CameraOpener
	Detector device.FaceDetector
	Embedder device.FaceEmbedder
	Enroller FaceEnroller

	DetectThreshold float64       // default 0.8
	MaxMovement     float64       // pixels, default 25
	StillFor        time.Duration // default 2s
	Now             func() time.Time
	Logger          *slog.Logger
}

func (e *FaceEnrollment) Run(ctx context.Context, studentNo string) error {
	threshold, maxMove, stillFor := e.DetectThreshold, e.MaxMovement, e.StillFor
	if threshold <= 0 {
		threshold = 0.8
	}
	if maxMove <= 0 {
		maxMove = 25
	}
	if stillFor <= 0 {
		stillFor = 2 * time.Second
	}
	now := e.Now
	if now == nil {
		now = time.Now
	}

	cam, err := e.Camera.Open(ctx)
	if err != nil {
		return fmt.Errorf("open camera: %w", errors.Join(errs.ErrHardware, err))
	}
	defer cam.Close()

	var (
		last       *image.Rectangle
		stillSince time.Time
	)
	for {
		frame, err := cam.Read(ctx)
		if ctx.Err() != nil {
			return fmt.Errorf("face enrollment: %w", errs.ErrCancelled)
		}
		if err != nil {
			return fmt.Errorf("camera read: %w", errors.Join(errs.ErrHardware, err))
		}

		box, ok := e.bestBox(ctx, frame, threshold)
		if !ok {
			last, stillSince = nil, time.Time{}
			continue
		}

		t := now()
		switch {
		case last == nil || boxMovement(box, *last) >= maxMove:
			stillSince = time.Time{}
		case stillSince.IsZero():
			stillSince = t
		case t.Sub(stillSince) >= stillFor:
			return e.capture(ctx, studentNo, frame, box)
		}
		last = &box
	}
}

func (e *FaceEnrollment) capture(ctx context.Context, studentNo string, frame image.Image, box image.Rectangle) error {
	crop, ok := biometric.Crop(frame, box.Intersect(frame.Bounds()))
	if !ok {
		return fmt.Errorf("face enrollment: %s: %w", biometric.ReasonInvalidCrop, errs.ErrInvalidArgument)
	}
	emb, err := e.Embedder.Embed(ctx, crop)
	if err != nil {
		return fmt.Errorf("face enrollment: %s: %w", biometric.ReasonEmbedFailed, err)
	}
	if len(emb) == 0 {
		return fmt.Errorf("face enrollment: %s: %w", biometric.ReasonEmbedFailed, errs.ErrInvalidArgument)
	}
	return e.Enroller.EnrollFace(ctx, studentNo, emb)
}

func (e *FaceEnrollment) bestBox(ctx context.Context, frame image.Image, threshold float64) (image.Rectangle, bool) {
	dets, err := e.Detector.Detect(ctx, frame)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Debug("detect failed", "error", err)
		}
		return image.Rectangle{}, false
	}
	var best device.Detection
	found := false
	for _, d := range dets {
		if d.Score > threshold && (!found || d.Score > best.Score) {
			best, found = d, true
		}
	}
	return best.Box, found
}

// boxMovement is the Euclidean distance between the corner coordinates of
// two boxes.
func boxMovement(a, b image.Rectangle) float64 {
	return floats.Distance(rectVec(a), rectVec(b), 2)
}

func rectVec(r image.Rectangle) []float64 {
	return []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}
