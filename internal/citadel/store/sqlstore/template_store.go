package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

type TemplateStore struct {
	db      *sql.DB
	writer  *dbpkg.Worker
	dialect dbpkg.Dialect
}

func NewTemplateStore(db *sql.DB, writer *dbpkg.Worker, d dbpkg.Dialect) *TemplateStore {
	return &TemplateStore{db: db, writer: writer, dialect: d}
}

func (s *TemplateStore) FaceTemplates(ctx context.Context) ([]store.SealedTemplate, error) {
	return s.list(ctx, "FaceTemplates", `
SELECT student_no, face_template FROM students
WHERE face_template IS NOT NULL
ORDER BY student_no;
`)
}

func (s *TemplateStore) FingerprintTemplates(ctx context.Context) ([]store.SealedTemplate, error) {
	return s.list(ctx, "FingerprintTemplates", `
SELECT student_no, template FROM fingerprints
ORDER BY student_no;
`)
}

func (s *TemplateStore) list(ctx context.Context, op, query string) ([]store.SealedTemplate, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []store.SealedTemplate
	for rows.Next() {
		var t store.SealedTemplate
		if err := rows.Scan(&t.StudentNo, &t.Sealed); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func (s *TemplateStore) SaveFaceTemplate(ctx context.Context, studentNo string, sealed []byte) error {
	now := toMs(time.Now())
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`
UPDATE students SET face_template = ?, face_enrolled_at_ms = ?
WHERE student_no = ?;
`), sealed, now, studentNo)
		if err != nil {
			return fmt.Errorf("SaveFaceTemplate update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("SaveFaceTemplate rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("SaveFaceTemplate %s: %w", studentNo, errs.ErrNotFound)
		}
		return nil
	})
}

func (s *TemplateStore) UpsertFingerprintTemplate(ctx context.Context, studentNo string, sealed []byte) error {
	now := toMs(time.Now())
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO fingerprints(student_no, template, enrolled_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(student_no) DO UPDATE SET
  template = excluded.template,
  enrolled_at_ms = excluded.enrolled_at_ms;
`), studentNo, sealed, now); err != nil {
			return fmt.Errorf("UpsertFingerprintTemplate: %w", err)
		}
		return nil
	})
}
