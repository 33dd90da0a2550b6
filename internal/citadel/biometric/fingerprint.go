package biometric

import (
	"context"
	"log/slog"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
)

// DefaultMatchScore is the lowest reader score accepted as a match.
const DefaultMatchScore = 80

// FingerprintMatcher identifies a live capture by scanning the gallery's
// fingerprint templates in order.
type FingerprintMatcher struct {
	sealer    *Sealer
	threshold int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewFingerprintMatcher(sealer *Sealer, threshold int, logger *slog.Logger, m *metrics.Metrics) *FingerprintMatcher {
	if threshold <= 0 {
		threshold = DefaultMatchScore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintMatcher{
		sealer:    sealer,
		threshold: threshold,
		logger:    logger.With("component", "fingerprint_matcher"),
		metrics:   m,
	}
}

// Identify returns the first identity in scan order whose template scores
// at or above the threshold. It is first-match, not best-match.
func (m *FingerprintMatcher) Identify(ctx context.Context, live []byte, g *Gallery, scorer device.FingerprintScorer) (string, bool) {
	if g == nil || len(live) == 0 {
		m.metrics.ObserveFingerprint(false)
		return "", false
	}
	for _, st := range g.fingerprints {
		if ctx.Err() != nil {
			break
		}
		tpl, err := m.sealer.Open(ModalityFingerprint, st.StudentNo, st.Sealed)
		if err != nil {
			m.logger.Warn("skipping unreadable fingerprint template",
				"student_no", st.StudentNo, "error", err)
			continue
		}
		score, err := scorer.Score(live, tpl)
		clear(tpl)
		if err != nil {
			m.logger.Debug("score failed", "student_no", st.StudentNo, "error", err)
			continue
		}
		if score >= m.threshold {
			m.metrics.ObserveFingerprint(true)
			return st.StudentNo, true
		}
	}
	m.metrics.ObserveFingerprint(false)
	return "", false
}
