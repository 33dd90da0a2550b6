package store

import "context"

// SealedTemplate is an encrypted biometric template as persisted.
type SealedTemplate struct {
	StudentNo string
	Sealed    []byte
}

type TemplateStore interface {
	// FaceTemplates returns every identity that has a face template,
	// ordered by student number.
	FaceTemplates(ctx context.Context) ([]SealedTemplate, error)

	// FingerprintTemplates returns every fingerprint template in scan
	// order (student number ascending).
	FingerprintTemplates(ctx context.Context) ([]SealedTemplate, error)

	// SaveFaceTemplate attaches a face template to an existing identity.
	// It fails with errs.ErrNotFound when the identity does not exist.
	SaveFaceTemplate(ctx context.Context, studentNo string, sealed []byte) error

	// UpsertFingerprintTemplate keeps exactly one template per identity.
	UpsertFingerprintTemplate(ctx context.Context, studentNo string, sealed []byte) error
}
