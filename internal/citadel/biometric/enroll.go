package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
)

// Enroller persists new templates and refreshes the gallery afterwards.
type Enroller struct {
	stores  store.Provider
	sealer  *Sealer
	gallery *GalleryCache
	logger  *slog.Logger
}

// NewEnroller builds an enroller. gallery may be nil when the caller does
// not hold a cache (the enroll CLI command).
func NewEnroller(p store.Provider, sealer *Sealer, gallery *GalleryCache, logger *slog.Logger) *Enroller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enroller{
		stores:  p,
		sealer:  sealer,
		gallery: gallery,
		logger:  logger.With("component", "enroller"),
	}
}

// EnrollFace normalizes, seals and stores a face embedding on an existing
// identity.
func (e *Enroller) EnrollFace(ctx context.Context, studentNo string, embedding []float32) error {
	studentNo = strings.TrimSpace(studentNo)
	if studentNo == "" {
		return fmt.Errorf("enroll face: empty student number: %w", errs.ErrInvalidArgument)
	}
	unit, ok := Normalize(toFloat64(embedding))
	if !ok {
		return fmt.Errorf("enroll face: embedding cannot be normalized: %w", errs.ErrInvalidArgument)
	}

	sealed, err := e.sealer.Seal(ModalityFace, studentNo, EncodeEmbedding(unit))
	if err != nil {
		return fmt.Errorf("enroll face: %w", err)
	}

	set, err := e.stores.Stores(ctx)
	if err != nil {
		return fmt.Errorf("enroll face: %w", err)
	}
	if err := set.Templates.SaveFaceTemplate(ctx, studentNo, sealed); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("enroll face %s: %w: %w", studentNo, errs.ErrDataIntegrity, err)
		}
		return fmt.Errorf("enroll face %s: %w", studentNo, err)
	}

	e.logger.Info("face enrolled", "student_no", studentNo, "origin", set.Origin)
	return e.reload(ctx)
}

// EnrollFingerprint seals and stores a reader template, replacing any
// previous template for the identity.
func (e *Enroller) EnrollFingerprint(ctx context.Context, studentNo string, template []byte) error {
	studentNo = strings.TrimSpace(studentNo)
	if studentNo == "" || len(template) == 0 {
		return fmt.Errorf("enroll fingerprint: %w", errs.ErrInvalidArgument)
	}

	set, err := e.stores.Stores(ctx)
	if err != nil {
		return fmt.Errorf("enroll fingerprint: %w", err)
	}
	if _, ok, err := set.Identities.FindByID(ctx, studentNo); err != nil {
		return fmt.Errorf("enroll fingerprint: %w", err)
	} else if !ok {
		return fmt.Errorf("enroll fingerprint %s: %w: %w", studentNo, errs.ErrDataIntegrity, errs.ErrNotFound)
	}

	sealed, err := e.sealer.Seal(ModalityFingerprint, studentNo, template)
	if err != nil {
		return fmt.Errorf("enroll fingerprint: %w", err)
	}
	if err := set.Templates.UpsertFingerprintTemplate(ctx, studentNo, sealed); err != nil {
		return fmt.Errorf("enroll fingerprint %s: %w", studentNo, err)
	}

	e.logger.Info("fingerprint enrolled", "student_no", studentNo, "origin", set.Origin)
	return e.reload(ctx)
}

func (e *Enroller) reload(ctx context.Context) error {
	if e.gallery == nil {
		return nil
	}
	if _, err := e.gallery.Load(ctx, true); err != nil {
		return fmt.Errorf("reload gallery: %w", err)
	}
	return nil
}
