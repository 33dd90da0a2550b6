package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

type IdentityStore struct {
	db      *sql.DB
	writer  *dbpkg.Worker
	dialect dbpkg.Dialect
}

func NewIdentityStore(db *sql.DB, writer *dbpkg.Worker, d dbpkg.Dialect) *IdentityStore {
	return &IdentityStore{db: db, writer: writer, dialect: d}
}

func (s *IdentityStore) FindByID(ctx context.Context, studentNo string) (types.Identity, bool, error) {
	studentNo = strings.TrimSpace(studentNo)
	if studentNo == "" {
		return types.Identity{}, false, nil
	}

	var (
		id           types.Identity
		email, phone sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
SELECT student_no, fullname, program, year_level, section, guardian_email, guardian_phone
FROM students
WHERE student_no = ?;
`), studentNo).Scan(&id.StudentNo, &id.FullName, &id.Program, &id.YearLevel, &id.Section, &email, &phone)
	if err == sql.ErrNoRows {
		return types.Identity{}, false, nil
	}
	if err != nil {
		return types.Identity{}, false, fmt.Errorf("FindByID: %w", err)
	}
	id.GuardianEmail = email.String
	id.GuardianPhone = phone.String
	return id, true, nil
}

// UpsertIdentity creates or refreshes the descriptive columns of an
// identity. Templates are left untouched.
func (s *IdentityStore) UpsertIdentity(ctx context.Context, id types.Identity) error {
	if strings.TrimSpace(id.StudentNo) == "" {
		return fmt.Errorf("UpsertIdentity: empty student_no")
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO students(student_no, fullname, program, year_level, section, guardian_email, guardian_phone)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(student_no) DO UPDATE SET
  fullname = excluded.fullname,
  program = excluded.program,
  year_level = excluded.year_level,
  section = excluded.section,
  guardian_email = excluded.guardian_email,
  guardian_phone = excluded.guardian_phone;
`), id.StudentNo, id.FullName, id.Program, id.YearLevel, id.Section,
			nullString(id.GuardianEmail), nullString(id.GuardianPhone),
		); err != nil {
			return fmt.Errorf("UpsertIdentity: %w", err)
		}
		return nil
	})
}
