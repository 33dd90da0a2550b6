package biometric

import (
	"context"
	"image"
	"log/slog"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
)

// Face rejection reasons, shown to the operator as-is.
const (
	ReasonNotFound     = "Not Found"
	ReasonNoFace       = "No face detected"
	ReasonInvalidCrop  = "Invalid crop"
	ReasonEmbedFailed  = "Embedding failed"
	ReasonDifferentID  = "Different ID"
	ReasonUnrecognized = "Unrecognized"
)

const (
	DefaultDetectMinimum = 0.75
	DefaultMatchMinimum  = 0.75
)

type FaceConfig struct {
	DetectThreshold float64 // default 0.75
	MatchThreshold  float64 // default 0.75
}

// FaceResult is the outcome of one verification pass. On success Reason
// carries the confirmed student number.
type FaceResult struct {
	OK         bool
	Reason     string
	BestID     string
	Similarity float64
	Box        *image.Rectangle
}

// FaceMatcher verifies a claimed identity against one camera frame.
type FaceMatcher struct {
	detector device.FaceDetector
	embedder device.FaceEmbedder
	cfg      FaceConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewFaceMatcher(d device.FaceDetector, e device.FaceEmbedder, cfg FaceConfig, logger *slog.Logger, m *metrics.Metrics) *FaceMatcher {
	if cfg.DetectThreshold <= 0 {
		cfg.DetectThreshold = DefaultDetectMinimum
	}
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchMinimum
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FaceMatcher{
		detector: d,
		embedder: e,
		cfg:      cfg,
		logger:   logger.With("component", "face_matcher"),
		metrics:  m,
	}
}

// Match runs a 1:N search over the gallery and confirms only when the best
// match clears the threshold and is the claimed identity.
func (m *FaceMatcher) Match(ctx context.Context, claimed string, frame image.Image, g *Gallery) FaceResult {
	res := m.match(ctx, claimed, frame, g)
	m.metrics.ObserveFace(res.Similarity, res.Reason, res.OK)
	return res
}

func (m *FaceMatcher) match(ctx context.Context, claimed string, frame image.Image, g *Gallery) FaceResult {
	if !g.HasFace(claimed) {
		return FaceResult{Reason: ReasonNotFound}
	}

	det, ok := m.bestDetection(ctx, frame)
	if !ok {
		return FaceResult{Reason: ReasonNoFace}
	}

	box := det.Box.Intersect(frame.Bounds())
	if box.Empty() {
		return FaceResult{Reason: ReasonInvalidCrop, Box: &det.Box}
	}
	crop, ok := Crop(frame, box)
	if !ok {
		return FaceResult{Reason: ReasonInvalidCrop, Box: &box}
	}

	raw, err := m.embedder.Embed(ctx, crop)
	if err != nil {
		m.logger.Debug("embed failed", "error", err)
		return FaceResult{Reason: ReasonEmbedFailed, Box: &box}
	}
	live, ok := Normalize(toFloat64(raw))
	if !ok {
		return FaceResult{Reason: ReasonEmbedFailed, Box: &box}
	}

	bestID, bestSim := "", -1.0
	for _, f := range g.faces {
		sim, ok := Cosine(live, f.Embedding)
		if !ok {
			continue
		}
		if sim > bestSim {
			bestID, bestSim = f.StudentNo, sim
		}
	}

	res := FaceResult{BestID: bestID, Similarity: bestSim, Box: &box}
	switch {
	case bestSim >= m.cfg.MatchThreshold && bestID == claimed:
		res.OK = true
		res.Reason = claimed
	case bestSim >= m.cfg.MatchThreshold:
		res.Reason = ReasonDifferentID
	default:
		res.Reason = ReasonUnrecognized
	}
	return res
}

func (m *FaceMatcher) bestDetection(ctx context.Context, frame image.Image) (device.Detection, bool) {
	if frame == nil {
		return device.Detection{}, false
	}
	dets, err := m.detector.Detect(ctx, frame)
	if err != nil {
		m.logger.Debug("detect failed", "error", err)
		return device.Detection{}, false
	}
	var best device.Detection
	found := false
	for _, d := range dets {
		if d.Score <= m.cfg.DetectThreshold {
			continue
		}
		if !found || d.Score > best.Score {
			best, found = d, true
		}
	}
	return best, found
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the r region of img. It fails for image types that cannot
// be sliced and for empty regions.
func Crop(img image.Image, r image.Rectangle) (image.Image, bool) {
	si, ok := img.(subImager)
	if !ok {
		return nil, false
	}
	crop := si.SubImage(r)
	if crop.Bounds().Empty() {
		return nil, false
	}
	return crop, true
}
