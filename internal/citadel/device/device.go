// Package device defines the hardware and inference collaborators of the
// gate. Drivers live outside this repository and are linked in by site
// builds; Unplugged stands in when none is, and tests use the fakes in
// devicetest.
package device

import (
	"context"
	"image"
)

// FingerprintScorer is the reader's native 1:1 matcher. Scores run 0-100.
type FingerprintScorer interface {
	Score(live, stored []byte) (int, error)
}

// FingerprintReader is an open reader handle. Only one handle may be open
// at a time per physical reader.
type FingerprintReader interface {
	FingerprintScorer

	// Acquire blocks for at most one capture attempt. It returns nil, nil
	// when no finger was presented.
	Acquire(ctx context.Context) ([]byte, error)
	Close() error
}

type FingerprintOpener interface {
	Open(ctx context.Context) (FingerprintReader, error)
}

// Camera is an open capture device.
type Camera interface {
	// Read blocks until the next frame or ctx is done.
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

type CameraOpener interface {
	Open(ctx context.Context) (Camera, error)
}

// Detection is one face region in frame coordinates.
type Detection struct {
	Box   image.Rectangle
	Score float64
}

type FaceDetector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// FaceEmbedder maps a face crop to an embedding vector. A nil vector means
// no embedding could be produced.
type FaceEmbedder interface {
	Embed(ctx context.Context, crop image.Image) ([]float32, error)
}
